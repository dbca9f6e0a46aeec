//go:build integration

package redislock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"promotion-service/internal/infra/redislock"
	"promotion-service/internal/pkg/config"
	"promotion-service/internal/pkg/errs"

	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const redisPort = nat.Port("6379/tcp")

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{string(redisPort)},
			WaitingFor:   wait.ForListeningPort(redisPort).WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, redisPort)
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + mapped.Port()})
	require.NoError(t, client.Ping(ctx).Err())

	t.Cleanup(func() {
		_ = client.Close()
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	return client
}

func lockConfig() config.LockConfig {
	return config.LockConfig{
		TTL:              5 * time.Second,
		AcquireTimeout:   500 * time.Millisecond,
		MaxRetryAttempts: 2,
		BaseDelay:        20 * time.Millisecond,
		MaxDelay:         100 * time.Millisecond,
		JitterFactor:     0.5,
	}
}

func TestAcquireAndRelease(t *testing.T) {
	client := setupRedis(t)
	provider := redislock.NewProvider(client, lockConfig())
	ctx := context.Background()

	lock, err := provider.Acquire(ctx, "itest:lock:basic", 5*time.Second)
	require.NoError(t, err)

	_, err = provider.Acquire(ctx, "itest:lock:basic", 5*time.Second)
	assert.ErrorIs(t, err, errs.ErrLockUnavailable)

	require.NoError(t, lock.Release(ctx))

	again, err := provider.Acquire(ctx, "itest:lock:basic", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestAcquireWaitsOutContention(t *testing.T) {
	client := setupRedis(t)
	provider := redislock.NewProvider(client, lockConfig())
	ctx := context.Background()

	lock, err := provider.Acquire(ctx, "itest:lock:waited", 5*time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = lock.Release(context.Background())
	}()

	// The holder releases during the retry window, so a retried acquire
	// must succeed instead of exhausting its budget.
	second, err := provider.Acquire(ctx, "itest:lock:waited", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestReleaseAfterExpiryLeavesNewHolderAlone(t *testing.T) {
	client := setupRedis(t)
	provider := redislock.NewProvider(client, lockConfig())
	ctx := context.Background()

	stale, err := provider.Acquire(ctx, "itest:lock:expiry", 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	fresh, err := provider.Acquire(ctx, "itest:lock:expiry", 5*time.Second)
	require.NoError(t, err)

	// The stale holder's compare-and-delete must not free the new
	// holder's lock.
	require.NoError(t, stale.Release(ctx))

	_, err = provider.Acquire(ctx, "itest:lock:expiry", 5*time.Second)
	assert.ErrorIs(t, err, errs.ErrLockUnavailable)

	require.NoError(t, fresh.Release(ctx))
}

func TestAcquireSerializesCriticalSections(t *testing.T) {
	client := setupRedis(t)
	cfg := lockConfig()
	cfg.AcquireTimeout = 5 * time.Second
	cfg.MaxRetryAttempts = 50
	provider := redislock.NewProvider(client, cfg)

	const goroutines = 8
	var (
		inSection int
		maxSeen   int
		mu        sync.Mutex
		wg        sync.WaitGroup
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := provider.Acquire(context.Background(), "itest:lock:serial", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			defer func() { _ = lock.Release(context.Background()) }()

			mu.Lock()
			inSection++
			if inSection > maxSeen {
				maxSeen = inSection
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inSection--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "lock must admit one holder at a time")
}

func TestAcquireHonorsCallerCancellation(t *testing.T) {
	client := setupRedis(t)
	cfg := lockConfig()
	cfg.AcquireTimeout = 10 * time.Second
	cfg.MaxRetryAttempts = 100
	provider := redislock.NewProvider(client, cfg)

	lock, err := provider.Acquire(context.Background(), "itest:lock:cancel", 5*time.Second)
	require.NoError(t, err)
	defer func() { _ = lock.Release(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = provider.Acquire(ctx, "itest:lock:cancel", 5*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second, "cancellation must abort the retry loop promptly")
}
