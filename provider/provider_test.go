package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	freshtab "github.com/freshtab/freshtab"
)

func TestSeedIsStablePerDayAndResolution(t *testing.T) {
	require.Equal(t,
		Seed("2025-12-16", freshtab.Resolution1080p),
		Seed("2025-12-16", freshtab.Resolution1080p))

	require.NotEqual(t,
		Seed("2025-12-16", freshtab.Resolution1080p),
		Seed("2025-12-17", freshtab.Resolution1080p))

	require.NotEqual(t,
		Seed("2025-12-16", freshtab.Resolution1080p),
		Seed("2025-12-16", freshtab.Resolution4K))
}

func TestPicsumURL(t *testing.T) {
	p := NewPicsum()
	url := p.ImageURL(1920, 1080, "2025-12-16-1080p")
	require.Equal(t, "https://picsum.photos/seed/2025-12-16-1080p/1920/1080.jpg", url)

	// Same inputs, same URL.
	require.Equal(t, url, p.ImageURL(1920, 1080, "2025-12-16-1080p"))
}

func TestPicsumBaseURLOverride(t *testing.T) {
	p := NewPicsum(WithPicsumBaseURL("http://127.0.0.1:9999/"))
	require.Equal(t, "http://127.0.0.1:9999/seed/s/640/480.jpg", p.ImageURL(640, 480, "s"))
}

func TestLoremFlickrURLDeterministic(t *testing.T) {
	l := NewLoremFlickr()
	a := l.ImageURL(1280, 720, "2025-12-16-720p")
	b := l.ImageURL(1280, 720, "2025-12-16-720p")
	require.Equal(t, a, b)
	require.Contains(t, a, "https://loremflickr.com/1280/720/landscape?lock=")

	// Different seeds should (almost always) map to different locks.
	c := l.ImageURL(1280, 720, "2025-12-17-720p")
	require.NotEqual(t, a, c)
}
