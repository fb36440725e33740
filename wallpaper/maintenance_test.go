package wallpaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	freshtab "github.com/freshtab/freshtab"
	"github.com/freshtab/freshtab/daykey"
)

func TestSweepRemovesEntriesPastRetention(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	today := daykey.Today(env.now)
	recent := daykey.Today(env.now.AddDate(0, 0, -2))
	ancient := daykey.Today(env.now.AddDate(0, 0, -5))

	env.seedDay(t, freshtab.Resolution1080p, today, "http://a.test/1")
	env.seedDay(t, freshtab.Resolution1080p, recent, "http://a.test/2")
	env.seedDay(t, freshtab.Resolution1080p, ancient, "http://a.test/3")
	env.seedDay(t, freshtab.Resolution4K, ancient, "http://a.test/4")

	// Mark the daily check done so the sweep runs without prewarm fetches.
	require.NoError(t, env.store.PutDoc(ctx, dailyCheckKey, today))

	result := env.svc.RunMaintenanceNow(ctx)

	// Two ancient entries, each with a metadata sidecar.
	require.Equal(t, 4, result.Swept)
	require.Equal(t, 0, result.Prewarmed)

	keys, err := env.store.ListKeys(ctx, keyPrefix)
	require.NoError(t, err)
	require.Len(t, keys, 4)
	for _, key := range keys {
		require.NotContains(t, key, ancient)
	}

	// A second pass has nothing left to do.
	result = env.svc.RunMaintenanceNow(ctx)
	require.Equal(t, 0, result.Swept)
}

func TestPrewarmQueuesMissingResolutionsOncePerDay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	today := daykey.Today(env.now)
	env.seedDay(t, freshtab.Resolution1080p, today, "http://a.test/1")

	result := env.svc.RunMaintenanceNow(ctx)
	require.Equal(t, len(freshtab.Resolutions())-1, result.Prewarmed)

	// The queued downloads land in the cache.
	require.Eventually(t, func() bool {
		for _, r := range freshtab.Resolutions() {
			ok, err := env.store.Has(ctx, cacheKey(r, today))
			if err != nil || !ok {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	// Same day, second run: the marker suppresses another prewarm.
	result = env.svc.RunMaintenanceNow(ctx)
	require.Equal(t, 0, result.Prewarmed)

	// Next day the marker is stale again.
	env.now = env.now.AddDate(0, 0, 1)
	result = env.svc.RunMaintenanceNow(ctx)
	require.Equal(t, len(freshtab.Resolutions()), result.Prewarmed)
}

func TestCleanupExpiredCountsTowardMaintenance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	today := daykey.Today(env.now)
	require.NoError(t, env.store.PutDoc(ctx, dailyCheckKey, today))

	// Short-lived entry, already past its TTL.
	require.NoError(t, env.store.Set(ctx, cacheKey(freshtab.Resolution720p, today), []byte("x"), "image/jpeg", time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	result := env.svc.RunMaintenanceNow(ctx)
	require.Equal(t, 1, result.Expired)
}

func TestDayFromKey(t *testing.T) {
	day, ok := dayFromKey("wallpaper-optimized:1080p-2025-12-16")
	require.True(t, ok)
	require.Equal(t, "2025-12-16", day)

	_, ok = dayFromKey("wallpaper-optimized:1080p-2025-12-16-metadata")
	require.False(t, ok)

	_, ok = dayFromKey("wallpaper-optimized:1080p-garbage-day")
	require.False(t, ok)

	_, ok = dayFromKey("short")
	require.False(t, ok)
}
