package handle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireResolve(t *testing.T) {
	m := NewManager()

	data := []byte("image bytes")
	h := m.Acquire(data, "image/jpeg", "wallpaper")

	require.NotEmpty(t, h.ID)
	require.Equal(t, "/blob/"+h.ID, h.URL)
	require.Equal(t, "image/jpeg", h.MIME)
	require.Equal(t, "wallpaper", h.Category)

	got, mime, ok := m.Resolve(h.ID)
	require.True(t, ok)
	require.Equal(t, data, got)
	require.Equal(t, "image/jpeg", mime)
}

func TestIndependentHandlesForSameBytes(t *testing.T) {
	m := NewManager()
	data := []byte("shared")

	a := m.Acquire(data, "image/png", "wallpaper")
	b := m.Acquire(data, "image/png", "wallpaper")
	require.NotEqual(t, a.ID, b.ID)

	// Releasing one does not affect the other.
	require.True(t, m.Release(a.ID))
	_, _, ok := m.Resolve(a.ID)
	require.False(t, ok)
	_, _, ok = m.Resolve(b.ID)
	require.True(t, ok)
}

func TestReleaseUnknown(t *testing.T) {
	m := NewManager()
	require.False(t, m.Release("no-such-id"))
}

func TestReleaseCategory(t *testing.T) {
	m := NewManager()

	m.Acquire([]byte("a"), "image/jpeg", "custom-wallpaper:1")
	m.Acquire([]byte("b"), "image/jpeg", "custom-wallpaper:1")
	keep := m.Acquire([]byte("c"), "image/jpeg", "custom-wallpaper:2")

	require.Equal(t, 2, m.CategoryCount("custom-wallpaper:1"))
	require.Equal(t, 2, m.ReleaseCategory("custom-wallpaper:1"))
	require.Equal(t, 0, m.CategoryCount("custom-wallpaper:1"))

	_, _, ok := m.Resolve(keep.ID)
	require.True(t, ok)
	require.Equal(t, 1, m.Count())

	// Releasing an empty category is a no-op.
	require.Equal(t, 0, m.ReleaseCategory("custom-wallpaper:1"))
}

func TestCustomBasePath(t *testing.T) {
	m := NewManager(WithBasePath("/assets/blob"))
	h := m.Acquire([]byte("x"), "image/webp", "wallpaper")
	require.Equal(t, "/assets/blob/"+h.ID, h.URL)
}
