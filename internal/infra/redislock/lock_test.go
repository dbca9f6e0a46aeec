//go:build unit

package redislock

import (
	"testing"
	"time"

	"promotion-service/internal/pkg/config"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	cfg := config.LockConfig{
		BaseDelay:    50 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.5,
	}

	tests := []struct {
		name    string
		attempt int
		jitter  float64
		want    time.Duration
	}{
		{name: "first retry has base delay", attempt: 0, jitter: 0, want: 50 * time.Millisecond},
		{name: "delay doubles per attempt", attempt: 3, jitter: 0, want: 400 * time.Millisecond},
		{name: "jitter scales the delay up", attempt: 1, jitter: 0.5, want: 150 * time.Millisecond},
		{name: "large attempt is capped", attempt: 12, jitter: 0, want: 30 * time.Second},
		{name: "jitter cannot push past the cap", attempt: 10, jitter: 0.5, want: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backoffDelay(cfg, tt.attempt, tt.jitter))
		})
	}
}

func TestBackoffDelayGrowsMonotonically(t *testing.T) {
	cfg := config.LockConfig{
		BaseDelay:    10 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.5,
	}

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(cfg, attempt, 0)
		assert.Greater(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}
