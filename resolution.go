package freshtab

// Resolution identifies a wallpaper size class requested by the UI.
type Resolution string

const (
	Resolution4K     Resolution = "4k"
	Resolution1080p  Resolution = "1080p"
	Resolution720p   Resolution = "720p"
	ResolutionMobile Resolution = "mobile"

	// ResolutionCustom selects the user's own wallpaper instead of the
	// daily rotating one. It bypasses the cache tiers entirely.
	ResolutionCustom Resolution = "custom"
)

// resolutionDims maps each downloadable resolution to pixel dimensions.
var resolutionDims = map[Resolution][2]int{
	Resolution4K:     {3840, 2160},
	Resolution1080p:  {1920, 1080},
	Resolution720p:   {1280, 720},
	ResolutionMobile: {1080, 1920},
}

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	if r == ResolutionCustom {
		return true
	}
	_, ok := resolutionDims[r]
	return ok
}

// Dimensions returns the pixel width and height for a downloadable
// resolution. Returns zeros for "custom", which has no fixed size.
func (r Resolution) Dimensions() (width, height int) {
	d, ok := resolutionDims[r]
	if !ok {
		return 0, 0
	}
	return d[0], d[1]
}

// Resolutions returns the downloadable resolutions, excluding "custom".
// The order is stable and used by the daily pre-warm check.
func Resolutions() []Resolution {
	return []Resolution{Resolution4K, Resolution1080p, Resolution720p, ResolutionMobile}
}
