package custom

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	freshtab "github.com/freshtab/freshtab"
	"github.com/freshtab/freshtab/handle"
	"github.com/freshtab/freshtab/store"
)

func makeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height)), nil))
	return buf.Bytes()
}

func makePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	data  []byte
	mime  string
}

func (f *stubFetcher) FetchImage(ctx context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.data, f.mime, nil
}

func (f *stubFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *store.BoltStore, *handle.Manager) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	handles := handle.NewManager()
	return NewManager(s, s, handles, opts...), s, handles
}

func TestValidateFile(t *testing.T) {
	jpegData := makeJPEG(t, 10, 10)

	tests := []struct {
		name     string
		mime     string
		data     []byte
		wantMIME string
		wantErr  bool
	}{
		{name: "declared jpeg", mime: "image/jpeg", data: jpegData, wantMIME: "image/jpeg"},
		{name: "mime with parameters", mime: "image/png; charset=binary", data: makePNG(t, 4, 4), wantMIME: "image/png"},
		{name: "sniffed when undeclared", mime: "", data: makePNG(t, 4, 4), wantMIME: "image/png"},
		{name: "sniffed when generic", mime: "application/octet-stream", data: jpegData, wantMIME: "image/jpeg"},
		{name: "empty file", mime: "image/jpeg", data: nil, wantErr: true},
		{name: "oversize", mime: "image/jpeg", data: make([]byte, MaxUploadBytes+1), wantErr: true},
		{name: "unsupported type", mime: "image/gif", data: jpegData, wantErr: true},
		{name: "not an image at all", mime: "", data: []byte("plain text"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mime, err := ValidateFile(tt.mime, tt.data)
			if tt.wantErr {
				var verr *freshtab.ValidationError
				require.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantMIME, mime)
		})
	}
}

func TestUploadAndList(t *testing.T) {
	m, _, handles := newTestManager(t)
	ctx := context.Background()

	meta, err := m.Upload(ctx, "beach.jpg", "image/jpeg", makeJPEG(t, 400, 200))
	require.NoError(t, err)
	require.NotEmpty(t, meta.ID)
	require.Equal(t, "beach.jpg", meta.Name)
	require.Equal(t, 400, meta.Width)
	require.Equal(t, 200, meta.Height)

	items, err := m.All(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, items[0].Active)
	require.NotEmpty(t, items[0].ThumbURL)

	// The thumbnail resolves and fits the bound.
	thumbID := filepath.Base(items[0].ThumbURL)
	data, mime, ok := handles.Resolve(thumbID)
	require.True(t, ok)
	require.Equal(t, "image/jpeg", mime)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.LessOrEqual(t, img.Bounds().Dx(), 300)
	require.LessOrEqual(t, img.Bounds().Dy(), 300)

	// Uploading selects the new wallpaper.
	h, ok, err := m.CurrentHandle(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	_, _, resolvable := handles.Resolve(h.ID)
	require.True(t, resolvable)
}

func TestSmallImageNotUpscaled(t *testing.T) {
	m, _, handles := newTestManager(t)
	ctx := context.Background()

	_, err := m.Upload(ctx, "tiny.png", "image/png", makePNG(t, 80, 60))
	require.NoError(t, err)

	items, err := m.All(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	data, _, ok := handles.Resolve(filepath.Base(items[0].ThumbURL))
	require.True(t, ok)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 80, img.Bounds().Dx())
	require.Equal(t, 60, img.Bounds().Dy())
}

func TestUploadUndecodable(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	garbage := append([]byte{0xFF, 0xD8, 0xFF}, []byte("definitely not a jpeg")...)
	_, err := m.Upload(ctx, "bad.jpg", "image/jpeg", garbage)

	var verr *freshtab.ValidationError
	require.ErrorAs(t, err, &verr)

	// Nothing was persisted.
	keys, err := s.ListKeys(ctx, blobKeyPrefix)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestSaveFromURLDeduplicates(t *testing.T) {
	fetcher := &stubFetcher{data: makeJPEG(t, 320, 180), mime: "image/jpeg"}
	m, _, _ := newTestManager(t, WithFetcher(fetcher))
	ctx := context.Background()

	first := "https://picsum.photos/seed/2025-12-16-1080p/1920/1080.jpg"
	meta, err := m.SaveFromURL(ctx, first)
	require.NoError(t, err)
	require.Equal(t, first, meta.SourceURL)
	require.Equal(t, 1, fetcher.count())

	// Same seed at another size and with a cache buster is the same image.
	dup := "https://picsum.photos/seed/2025-12-16-1080p/640/480.jpg?cb=123"
	_, err = m.SaveFromURL(ctx, dup)

	var derr *freshtab.DuplicateError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, meta.ID, derr.ExistingID)
	// The duplicate was detected before any download.
	require.Equal(t, 1, fetcher.count())

	ok, err := m.IsFavorited(ctx, dup)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.IsFavorited(ctx, "https://picsum.photos/seed/other-seed/1920/1080.jpg")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteRemovesEverything(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Upload(ctx, "a.jpg", "image/jpeg", makeJPEG(t, 100, 100))
	require.NoError(t, err)
	b, err := m.Upload(ctx, "b.jpg", "image/jpeg", makeJPEG(t, 100, 100))
	require.NoError(t, err)

	// b is current; deleting a keeps the selection.
	require.NoError(t, m.Delete(ctx, a.ID))

	items, err := m.All(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, b.ID, items[0].ID)
	require.True(t, items[0].Active)

	ok, err := s.Has(ctx, blobKeyPrefix+a.ID)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = s.Has(ctx, thumbKeyPrefix+a.ID)
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting the selected wallpaper clears the selection.
	require.NoError(t, m.Delete(ctx, b.ID))
	_, ok, err = m.CurrentHandle(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, m.Delete(ctx, b.ID), freshtab.ErrNotFound)
}

func TestDeleteRevokesThumbnailHandles(t *testing.T) {
	m, _, handles := newTestManager(t)
	ctx := context.Background()

	a, err := m.Upload(ctx, "a.jpg", "image/jpeg", makeJPEG(t, 100, 100))
	require.NoError(t, err)
	b, err := m.Upload(ctx, "b.jpg", "image/jpeg", makeJPEG(t, 100, 100))
	require.NoError(t, err)

	items, err := m.All(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	thumbIDs := make(map[string]string, len(items))
	for _, item := range items {
		thumbIDs[item.ID] = filepath.Base(item.ThumbURL)
	}

	require.NoError(t, m.Delete(ctx, a.ID))

	// The deleted item's thumbnail handle is revoked immediately; the
	// survivor's stays resolvable.
	_, _, ok := handles.Resolve(thumbIDs[a.ID])
	require.False(t, ok)
	_, _, ok = handles.Resolve(thumbIDs[b.ID])
	require.True(t, ok)
}

func TestDeleteAll(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Upload(ctx, fmt.Sprintf("w%d.jpg", i), "image/jpeg", makeJPEG(t, 50, 50))
		require.NoError(t, err)
	}

	count, err := m.DeleteAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	items, err := m.All(ctx)
	require.NoError(t, err)
	require.Empty(t, items)

	keys, err := s.ListKeys(ctx, blobKeyPrefix)
	require.NoError(t, err)
	require.Empty(t, keys)

	_, ok, err := m.CurrentHandle(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetCurrent(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Upload(ctx, "a.jpg", "image/jpeg", makeJPEG(t, 50, 50))
	require.NoError(t, err)
	_, err = m.Upload(ctx, "b.jpg", "image/jpeg", makeJPEG(t, 50, 50))
	require.NoError(t, err)

	require.NoError(t, m.SetCurrent(ctx, a.ID))
	items, err := m.All(ctx)
	require.NoError(t, err)
	for _, item := range items {
		require.Equal(t, item.ID == a.ID, item.Active)
	}

	require.ErrorIs(t, m.SetCurrent(ctx, "no-such-id"), freshtab.ErrNotFound)

	require.NoError(t, m.ClearCurrent(ctx))
	_, ok, err := m.CurrentHandle(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
