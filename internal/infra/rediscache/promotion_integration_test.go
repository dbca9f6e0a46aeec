//go:build integration

package rediscache_test

import (
	"context"
	"testing"
	"time"

	"promotion-service/internal/domain/promotion"
	"promotion-service/internal/infra/rediscache"

	"github.com/docker/go-connections/nat"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
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

// discountComparer lets cmp compare the discount value object through its
// accessors since its fields are unexported.
var discountComparer = cmp.Comparer(func(a, b promotion.Discount) bool {
	if a.Type() != b.Type() || !a.Value().Equal(b.Value()) {
		return false
	}
	am, bm := a.MaxDiscount(), b.MaxDiscount()
	if (am == nil) != (bm == nil) {
		return false
	}
	return am == nil || am.Equal(*bm)
})

func samplePromotion() *promotion.Promotion {
	maxDiscount := decimal.NewFromInt(50)
	minPurchase := decimal.NewFromInt(100)
	maxTotal := int64(1000)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	discount, _ := promotion.NewDiscount(promotion.DiscountPercentage, decimal.NewFromInt(10), &maxDiscount)
	return &promotion.Promotion{
		ID:                    uuid.New(),
		Code:                  promotion.Code("WELCOME10"),
		Version:               3,
		Discount:              discount,
		ValidFrom:             now.AddDate(0, -1, 0),
		ValidTo:               now.AddDate(0, 6, 0),
		ApplicableRoutes:      []string{"NYC-BOS", "NYC-DCA"},
		ExcludedFareClasses:   []string{"basic_economy"},
		ApplicableDays:        []time.Weekday{time.Monday, time.Friday},
		MinPurchaseAmount:     &minPurchase,
		FirstTimeCustomerOnly: true,
		MaxTotalUsage:         &maxTotal,
		IsActive:              true,
		CurrentTotalUsage:     42,
		CreatedAt:             now.AddDate(0, -2, 0),
		UpdatedAt:             now,
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	client := setupRedis(t)
	cache := rediscache.NewPromotionCache(client)
	ctx := context.Background()

	promo := samplePromotion()
	cache.Set(ctx, promo.Code, promo, time.Minute)

	got, ok := cache.Get(ctx, promo.Code)
	require.True(t, ok)

	if diff := cmp.Diff(promo, got, discountComparer); diff != "" {
		t.Errorf("cached promotion differs from original (-want +got):\n%s", diff)
	}
}

func TestGetMissesOnUnknownCode(t *testing.T) {
	client := setupRedis(t)
	cache := rediscache.NewPromotionCache(client)

	_, ok := cache.Get(context.Background(), promotion.Code("NOSUCHCODE"))
	assert.False(t, ok)
}

func TestCounterMirrorOverlaysSnapshot(t *testing.T) {
	client := setupRedis(t)
	cache := rediscache.NewPromotionCache(client)
	ctx := context.Background()

	promo := samplePromotion()
	cache.Set(ctx, promo.Code, promo, time.Minute)

	require.NoError(t, cache.IncrementUsage(ctx, promo.Code))
	require.NoError(t, cache.IncrementUsage(ctx, promo.Code))

	got, ok := cache.Get(ctx, promo.Code)
	require.True(t, ok)
	assert.Equal(t, promo.CurrentTotalUsage+2, got.CurrentTotalUsage)

	require.NoError(t, cache.DecrementUsage(ctx, promo.Code))
	got, ok = cache.Get(ctx, promo.Code)
	require.True(t, ok)
	assert.Equal(t, promo.CurrentTotalUsage+1, got.CurrentTotalUsage)
}

func TestAdjustSkipsMissingMirror(t *testing.T) {
	client := setupRedis(t)
	cache := rediscache.NewPromotionCache(client)
	ctx := context.Background()

	code := promotion.Code("NEVERSET")
	require.NoError(t, cache.IncrementUsage(ctx, code))

	exists, err := client.Exists(ctx, "promo:usage:NEVERSET").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "increment must not create a counter from nothing")
}

func TestInvalidateDropsBothKeys(t *testing.T) {
	client := setupRedis(t)
	cache := rediscache.NewPromotionCache(client)
	ctx := context.Background()

	promo := samplePromotion()
	cache.Set(ctx, promo.Code, promo, time.Minute)
	require.NoError(t, cache.Invalidate(ctx, promo.Code))

	_, ok := cache.Get(ctx, promo.Code)
	assert.False(t, ok)

	exists, err := client.Exists(ctx, "promo:usage:WELCOME10").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestCorruptEntryIsDropped(t *testing.T) {
	client := setupRedis(t)
	cache := rediscache.NewPromotionCache(client)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "promo:code:BROKEN1", "{not json", time.Minute).Err())

	_, ok := cache.Get(ctx, promotion.Code("BROKEN1"))
	assert.False(t, ok)

	exists, err := client.Exists(ctx, "promo:code:BROKEN1").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "corrupt entry must be invalidated")
}
