package wallpaper

import (
	"context"
	"errors"
	"strings"
	"time"

	freshtab "github.com/freshtab/freshtab"
	"github.com/freshtab/freshtab/daykey"
	"github.com/freshtab/freshtab/telemetry"
)

// DefaultMaintenanceInterval is how often maintenance runs.
const DefaultMaintenanceInterval = 6 * time.Hour

// MaintenanceResult reports what a maintenance run did.
type MaintenanceResult struct {
	// Swept is the number of cache entries removed by the retention sweep.
	Swept int

	// Expired is the number of entries removed by TTL cleanup.
	Expired int

	// Prewarmed is the number of resolutions queued for a daily refresh.
	Prewarmed int
}

// Run executes maintenance on a fixed cadence until the context is
// cancelled. The first run happens immediately.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runMaintenance(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.bgCtx.Done():
			return
		case <-ticker.C:
			s.runMaintenance(ctx)
		}
	}
}

// RunMaintenanceNow performs a single maintenance pass.
func (s *Service) RunMaintenanceNow(ctx context.Context) *MaintenanceResult {
	return s.runMaintenance(ctx)
}

func (s *Service) runMaintenance(ctx context.Context) *MaintenanceResult {
	start := time.Now()
	result := &MaintenanceResult{}

	result.Swept = s.sweep(ctx)

	expired, err := s.blobs.CleanupExpired(ctx)
	if err != nil {
		s.logger.Warn("ttl cleanup failed", "error", err)
	}
	result.Expired = expired

	result.Prewarmed = s.prewarm(ctx)

	duration := time.Since(start)
	telemetry.RecordSweep(ctx, result.Swept+result.Expired, duration)
	s.logger.Info("maintenance complete",
		"swept", result.Swept,
		"expired", result.Expired,
		"prewarmed", result.Prewarmed,
		"duration", duration)

	return result
}

// sweep removes wallpaper entries older than the retention window. The day
// is parsed out of the key itself so entries whose TTL was extended by
// rewrites still age out.
func (s *Service) sweep(ctx context.Context) int {
	keys, err := s.blobs.ListKeys(ctx, keyPrefix)
	if err != nil {
		s.logger.Warn("sweep scan failed", "error", err)
		return 0
	}

	cutoff := daykey.Today(s.now().AddDate(0, 0, -retentionDays))

	deleted := 0
	for _, key := range keys {
		day, ok := dayFromKey(strings.TrimSuffix(key, metadataSuffix))
		if !ok {
			continue
		}
		if day >= cutoff {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn("sweep delete failed", "key", key, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("swept stale wallpapers", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted
}

// prewarm queues a background download for each resolution missing today's
// image, at most once per day.
func (s *Service) prewarm(ctx context.Context) int {
	today := daykey.Today(s.now())

	var lastCheck string
	if err := s.docs.GetDoc(ctx, dailyCheckKey, &lastCheck); err != nil && !errors.Is(err, freshtab.ErrNotFound) {
		s.logger.Warn("daily check read failed", "error", err)
		return 0
	}
	if lastCheck == today {
		return 0
	}

	queued := 0
	for _, r := range freshtab.Resolutions() {
		ok, err := s.blobs.Has(ctx, cacheKey(r, today))
		if err != nil {
			s.logger.Warn("prewarm probe failed", "resolution", r, "error", err)
			continue
		}
		if ok {
			continue
		}
		s.refreshInBackground(r, today)
		queued++
	}

	if err := s.docs.PutDoc(ctx, dailyCheckKey, today); err != nil {
		s.logger.Warn("daily check write failed", "error", err)
	}
	return queued
}
