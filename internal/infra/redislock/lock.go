package redislock

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"promotion-service/internal/pkg/config"
	"promotion-service/internal/pkg/errs"
	"promotion-service/internal/usecase/commands"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds our token, so a
// holder whose TTL expired cannot release a lock someone else has since
// acquired.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// Provider implements mutual exclusion with a single Redis key per lock:
// SET NX PX with a random token, compare-and-delete on release. Contended
// acquires retry with exponential backoff and jitter until the configured
// attempt and time budgets run out.
type Provider struct {
	client *redis.Client
	cfg    config.LockConfig
}

func NewProvider(client *redis.Client, cfg config.LockConfig) *Provider {
	return &Provider{client: client, cfg: cfg}
}

func (p *Provider) Acquire(ctx context.Context, key string, ttl time.Duration) (commands.Lock, error) {
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		ok, err := p.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			if isAcquireCutoff(ctx, err) {
				return nil, errs.Mark(errs.Wrap(err, "lock acquire timed out"), errs.ErrLockUnavailable)
			}
			return nil, errs.Wrap(err, "failed to contact lock store")
		}
		if ok {
			return &heldLock{client: p.client, key: key, token: token}, nil
		}

		if attempt >= p.cfg.MaxRetryAttempts {
			return nil, errs.Mark(
				errs.Newf("lock %q still contended after %d attempts", key, attempt+1),
				errs.ErrLockUnavailable)
		}

		jitter := rand.Float64() * p.cfg.JitterFactor
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errs.Mark(errs.Wrap(ctx.Err(), "lock acquire timed out"), errs.ErrLockUnavailable)
			}
			return nil, ctx.Err()
		case <-time.After(backoffDelay(p.cfg, attempt, jitter)):
		}
	}
}

// isAcquireCutoff distinguishes our own acquire-timeout expiring mid-command
// from the caller cancelling or a genuine Redis failure.
func isAcquireCutoff(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// backoffDelay grows base*2^attempt scaled by (1+jitter) and is capped at
// the configured maximum.
func backoffDelay(cfg config.LockConfig, attempt int, jitter float64) time.Duration {
	delay := cfg.BaseDelay << attempt
	delay = time.Duration(float64(delay) * (1 + jitter))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

type heldLock struct {
	client *redis.Client
	key    string
	token  string
}

// Release is safe after expiry: if the token no longer matches, the script
// deletes nothing and Release still succeeds.
func (l *heldLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errs.Wrap(err, "failed to release lock")
	}
	return nil
}
