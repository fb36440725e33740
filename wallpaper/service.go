// Package wallpaper implements the daily wallpaper cache. Lookups walk the
// cache tiers for a resolution (today, yesterday, any prior day) before
// falling back to a remote download, and concurrent lookups for the same
// resolution are coalesced so only one download runs. A stale tier hit is
// served immediately while a background refresh fetches today's image.
package wallpaper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	freshtab "github.com/freshtab/freshtab"
	"github.com/freshtab/freshtab/daykey"
	"github.com/freshtab/freshtab/handle"
	"github.com/freshtab/freshtab/provider"
	"github.com/freshtab/freshtab/store"
	"github.com/freshtab/freshtab/telemetry"
)

const (
	keyPrefix      = "wallpaper-optimized:"
	metadataSuffix = "-metadata"

	// cacheTTL covers today plus yesterday; the sweep removes anything the
	// TTL misses.
	cacheTTL = 48 * time.Hour

	// retentionDays is how many days of entries the sweep keeps.
	retentionDays = 3

	lastRefreshPrefix = "wallpaper-last-refresh:"
	lastSeenPrefix    = "wallpaper-last-seen:"
	dailyCheckKey     = "wallpaper-daily-check"
)

// Result is a served wallpaper. The handle stays valid until released or the
// service shuts down.
type Result struct {
	Handle      handle.Handle
	FromCache   bool
	IsToday     bool
	NeedsUpdate bool
	OriginalURL string
}

// Fetcher downloads an image payload. Implemented by provider.Fetcher.
type Fetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, string, error)
}

// CustomSource supplies the user's selected custom wallpaper, if any.
// Implemented by custom.Manager.
type CustomSource interface {
	CurrentHandle(ctx context.Context) (*handle.Handle, bool, error)
}

// sidecar is the per-entry metadata stored next to each cached image.
type sidecar struct {
	OriginalURL string `json:"originalUrl"`
}

// Service serves wallpapers from the tiered cache, downloading and caching
// new images as days roll over.
type Service struct {
	blobs     store.BlobStore
	docs      store.DocStore
	handles   *handle.Manager
	fetcher   Fetcher
	providers []provider.Provider
	custom    CustomSource
	logger    *slog.Logger
	now       func() time.Time

	group singleflight.Group

	interval time.Duration

	// Supervisor context for detached background work. Request contexts
	// never propagate here, so a caller timing out does not kill a refresh.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	fallbackMu sync.Mutex
	fallback   map[freshtab.Resolution][]byte
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithNow sets the clock, mainly for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithProviders replaces the default provider chain. Providers are tried in
// order until one succeeds.
func WithProviders(providers ...provider.Provider) Option {
	return func(s *Service) {
		s.providers = providers
	}
}

// WithCustomSource attaches a custom wallpaper source, served under the
// custom pseudo-resolution.
func WithCustomSource(src CustomSource) Option {
	return func(s *Service) {
		s.custom = src
	}
}

// WithMaintenanceInterval overrides the maintenance cadence, mainly for tests.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(s *Service) {
		s.interval = d
	}
}

// New creates the wallpaper service.
func New(blobs store.BlobStore, docs store.DocStore, handles *handle.Manager, fetcher Fetcher, opts ...Option) *Service {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Service{
		blobs:     blobs,
		docs:      docs,
		handles:   handles,
		fetcher:   fetcher,
		providers: []provider.Provider{provider.NewPicsum(), provider.NewLoremFlickr()},
		logger:    slog.Default(),
		now:       time.Now,
		interval:  DefaultMaintenanceInterval,
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
		fallback:  make(map[freshtab.Resolution][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close cancels background refreshes and waits for them to finish.
func (s *Service) Close() {
	s.bgCancel()
	s.wg.Wait()
}

// cacheKey is the blob key for a resolution on a given day.
func cacheKey(r freshtab.Resolution, day string) string {
	return keyPrefix + string(r) + "-" + day
}

// dayFromKey extracts the trailing day segment from a cache key. Returns
// false for sidecar keys and keys that do not parse.
func dayFromKey(key string) (string, bool) {
	if strings.HasSuffix(key, metadataSuffix) {
		return "", false
	}
	if len(key) <= len(daykey.Layout) {
		return "", false
	}
	day := key[len(key)-len(daykey.Layout):]
	if key[len(key)-len(daykey.Layout)-1] != '-' {
		return "", false
	}
	if _, err := daykey.Parse(day); err != nil {
		return "", false
	}
	return day, true
}

// lookupResult is what the coalesced lookup produces. Handles are acquired
// per caller afterwards so each caller releases independently.
type lookupResult struct {
	data        []byte
	mime        string
	fromCache   bool
	isToday     bool
	needsUpdate bool
	originalURL string
	cacheResult string
}

// handleCategory tags a resolution's wallpaper handles for bulk revocation.
func handleCategory(r freshtab.Resolution) string {
	return "wallpaper:" + string(r)
}

// Wallpaper returns the wallpaper to display for a resolution. Concurrent
// calls for the same resolution share one lookup. Handles from earlier calls
// for the same resolution are released; only the latest stays resolvable.
func (s *Service) Wallpaper(ctx context.Context, r freshtab.Resolution) (*Result, error) {
	// The custom pseudo-resolution resolves to the user's selection; the
	// cache tiers only ever hold daily images.
	if r == freshtab.ResolutionCustom {
		return s.customWallpaper(ctx)
	}
	if !r.Valid() {
		return nil, &freshtab.ValidationError{Reason: fmt.Sprintf("unsupported resolution %q", r)}
	}

	ch := s.group.DoChan(string(r), func() (any, error) {
		// Detached context: one caller's cancellation must not abort the
		// lookup for the other waiters.
		return s.lookup(context.WithoutCancel(ctx), r)
	})

	var lr *lookupResult
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		lr = res.Val.(*lookupResult)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	telemetry.RecordWallpaperRequest(ctx, string(r), lr.cacheResult)

	s.handles.ReleaseCategory(handleCategory(r))
	h := s.handles.Acquire(lr.data, lr.mime, handleCategory(r))
	telemetry.RecordActiveHandles(ctx, s.handles.Count())

	return &Result{
		Handle:      *h,
		FromCache:   lr.fromCache,
		IsToday:     lr.isToday,
		NeedsUpdate: lr.needsUpdate,
		OriginalURL: lr.originalURL,
	}, nil
}

// customWallpaper serves the current custom selection, or ErrNotFound when
// nothing is selected.
func (s *Service) customWallpaper(ctx context.Context) (*Result, error) {
	if s.custom == nil {
		return nil, freshtab.ErrNotFound
	}

	h, ok, err := s.custom.CurrentHandle(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, freshtab.ErrNotFound
	}

	telemetry.RecordWallpaperRequest(ctx, string(freshtab.ResolutionCustom), "custom")
	return &Result{Handle: *h, FromCache: true, IsToday: true}, nil
}

func (s *Service) lookup(ctx context.Context, r freshtab.Resolution) (*lookupResult, error) {
	now := s.now()
	today := daykey.Today(now)
	yesterday := daykey.Yesterday(now)

	s.resetIfNewDay(ctx, r, today)

	// Tier 1: today's entry.
	if lr, ok := s.fromTier(ctx, r, today); ok {
		lr.isToday = true
		lr.needsUpdate = false
		lr.cacheResult = "hit_today"
		return lr, nil
	}

	// Tier 2: yesterday's entry. Serve it stale and refresh behind the
	// response.
	if lr, ok := s.fromTier(ctx, r, yesterday); ok {
		lr.cacheResult = "hit_yesterday"
		s.refreshInBackground(r, today)
		return lr, nil
	}

	// Tier 3: newest remaining entry of any age.
	if day, ok := s.newestDay(ctx, r); ok {
		if lr, ok := s.fromTier(ctx, r, day); ok {
			lr.cacheResult = "hit_stale"
			s.refreshInBackground(r, today)
			return lr, nil
		}
	}

	// Cache is cold. Download synchronously.
	data, mime, originalURL, err := s.download(ctx, r, today)
	if err == nil {
		return &lookupResult{
			data:        data,
			mime:        mime,
			isToday:     true,
			originalURL: originalURL,
			cacheResult: "miss_network",
		}, nil
	}
	s.logger.Error("all providers failed, serving generated fallback", "resolution", r, "error", err)

	fb, fbErr := s.fallbackImage(r)
	if fbErr != nil {
		return nil, fbErr
	}
	return &lookupResult{
		data:        fb,
		mime:        "image/jpeg",
		needsUpdate: true,
		cacheResult: "fallback",
	}, nil
}

// resetIfNewDay drops any leftover entry under today's key the first time a
// resolution is seen on a new day (clock rollback, manual edits) and resets
// the last-seen marker. The date in the key already isolates days, so the
// delete is almost always a no-op.
func (s *Service) resetIfNewDay(ctx context.Context, r freshtab.Resolution, today string) {
	var seen string
	if err := s.docs.GetDoc(ctx, lastSeenPrefix+string(r), &seen); err != nil && !errors.Is(err, freshtab.ErrNotFound) {
		s.logger.Warn("last seen marker read failed", "resolution", r, "error", err)
		return
	}
	if seen == today {
		return
	}

	key := cacheKey(r, today)
	_ = s.blobs.Delete(ctx, key)
	_ = s.blobs.Delete(ctx, key+metadataSuffix)
	if err := s.docs.PutDoc(ctx, lastSeenPrefix+string(r), today); err != nil {
		s.logger.Warn("last seen marker write failed", "resolution", r, "error", err)
	}
}

// fromTier loads the cached entry for a day. The metadata sidecar is
// required: an image without provenance cannot answer "where did this come
// from", so the orphan is dropped and the lookup moves on.
func (s *Service) fromTier(ctx context.Context, r freshtab.Resolution, day string) (*lookupResult, bool) {
	key := cacheKey(r, day)
	entry, err := s.blobs.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, freshtab.ErrNotFound) {
			s.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	meta, err := s.blobs.Get(ctx, key+metadataSuffix)
	if err != nil {
		if !errors.Is(err, freshtab.ErrNotFound) {
			// Transient read failure. The entry may be fine, so leave it.
			s.logger.Warn("metadata read failed", "key", key, "error", err)
			return nil, false
		}
		s.logger.Warn("cache entry missing metadata, discarding", "key", key)
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Warn("discard failed", "key", key, "error", delErr)
		}
		return nil, false
	}

	var sc sidecar
	if err := json.Unmarshal(meta.Payload, &sc); err != nil || sc.OriginalURL == "" {
		s.logger.Warn("cache entry metadata corrupt, discarding", "key", key)
		_ = s.blobs.Delete(ctx, key)
		_ = s.blobs.Delete(ctx, key+metadataSuffix)
		return nil, false
	}

	return &lookupResult{
		data:        entry.Payload,
		mime:        entry.MIME,
		fromCache:   true,
		needsUpdate: true,
		originalURL: sc.OriginalURL,
	}, true
}

// newestDay scans the resolution's keys for the most recent cached day.
func (s *Service) newestDay(ctx context.Context, r freshtab.Resolution) (string, bool) {
	keys, err := s.blobs.ListKeys(ctx, keyPrefix+string(r)+"-")
	if err != nil {
		s.logger.Warn("cache scan failed", "resolution", r, "error", err)
		return "", false
	}

	var days []string
	for _, key := range keys {
		if day, ok := dayFromKey(key); ok {
			days = append(days, day)
		}
	}
	if len(days) == 0 {
		return "", false
	}
	// Day keys sort chronologically as strings.
	sort.Strings(days)
	return days[len(days)-1], true
}

// download walks the provider chain for the day's image and persists the
// winner. A persist failure is logged but the image is still returned; the
// next lookup simply downloads again.
func (s *Service) download(ctx context.Context, r freshtab.Resolution, day string) (data []byte, mime, originalURL string, err error) {
	width, height := r.Dimensions()
	seed := provider.Seed(day, r)

	var lastErr error
	for _, p := range s.providers {
		url := p.ImageURL(width, height, seed)

		start := time.Now()
		data, mime, err := s.fetcher.FetchImage(ctx, url)
		telemetry.RecordProviderFetch(ctx, p.Name(), err == nil, int64(len(data)), time.Since(start))
		if err != nil {
			s.logger.Warn("provider fetch failed", "provider", p.Name(), "url", url, "error", err)
			lastErr = err
			continue
		}

		s.persist(ctx, r, day, data, mime, url)
		return data, mime, url, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return nil, "", "", lastErr
}

func (s *Service) persist(ctx context.Context, r freshtab.Resolution, day string, data []byte, mime, originalURL string) {
	key := cacheKey(r, day)
	now := s.now()

	if err := s.blobs.Set(ctx, key, data, mime, cacheTTL); err != nil {
		s.logger.Error("cache write failed", "key", key, "error", err)
		return
	}

	meta, err := json.Marshal(sidecar{OriginalURL: originalURL})
	if err != nil {
		s.logger.Error("metadata encode failed", "key", key, "error", err)
		return
	}
	if err := s.blobs.Set(ctx, key+metadataSuffix, meta, "application/json", cacheTTL); err != nil {
		s.logger.Error("metadata write failed", "key", key, "error", err)
		// An image without its sidecar is discarded on read, so remove it
		// now rather than leave an orphan.
		_ = s.blobs.Delete(ctx, key)
		return
	}

	if err := s.docs.PutDoc(ctx, lastRefreshPrefix+string(r), now.Format(time.RFC3339)); err != nil {
		s.logger.Warn("last refresh record failed", "resolution", r, "error", err)
	}
	// Background refreshes persist without going through a lookup, so the
	// marker is stamped here as well.
	if err := s.docs.PutDoc(ctx, lastSeenPrefix+string(r), day); err != nil {
		s.logger.Warn("last seen marker write failed", "resolution", r, "error", err)
	}
}

// refreshInBackground downloads today's image without blocking the caller.
// Runs under the supervisor context so it survives the request. Stale hits
// can stack up before the first refresh lands, so refreshes coalesce on a
// refresh-scoped singleflight key and skip entirely once the entry exists.
func (s *Service) refreshInBackground(r freshtab.Resolution, day string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		_, err, _ := s.group.Do("refresh:"+string(r), func() (any, error) {
			if ok, err := s.blobs.Has(s.bgCtx, cacheKey(r, day)); err == nil && ok {
				return nil, nil
			}
			if _, _, _, err := s.download(s.bgCtx, r, day); err != nil {
				return nil, err
			}
			return nil, nil
		})
		if err != nil {
			s.logger.Warn("background refresh failed", "resolution", r, "day", day, "error", err)
			return
		}
		s.logger.Info("background refresh complete", "resolution", r, "day", day)
	}()
}

// ForceRefresh drops today's cached entry for a resolution so the next
// lookup downloads a fresh image.
func (s *Service) ForceRefresh(ctx context.Context, r freshtab.Resolution) error {
	if !r.Valid() || r == freshtab.ResolutionCustom {
		return &freshtab.ValidationError{Reason: fmt.Sprintf("unsupported resolution %q", r)}
	}

	key := cacheKey(r, daykey.Today(s.now()))
	if err := s.blobs.Delete(ctx, key); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, key+metadataSuffix); err != nil {
		return err
	}
	if err := s.docs.DeleteDoc(ctx, lastRefreshPrefix+string(r)); err != nil {
		return err
	}
	if err := s.docs.DeleteDoc(ctx, lastSeenPrefix+string(r)); err != nil {
		return err
	}

	s.logger.Info("forced refresh", "resolution", r)
	return nil
}

// LastRefresh reports when a resolution's image was last downloaded.
func (s *Service) LastRefresh(ctx context.Context, r freshtab.Resolution) (time.Time, error) {
	var stamp string
	if err := s.docs.GetDoc(ctx, lastRefreshPrefix+string(r), &stamp); err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, stamp)
}
