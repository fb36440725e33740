// Package custom manages user-provided wallpapers: direct uploads and
// favorited remote images. Originals and thumbnails are persisted in the
// blob store, the metadata list and current selection live in the document
// store, and favoriting is deduplicated by a URL identity core so the same
// image is never saved twice.
package custom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	freshtab "github.com/freshtab/freshtab"
	"github.com/freshtab/freshtab/handle"
	"github.com/freshtab/freshtab/store"
	"github.com/freshtab/freshtab/telemetry"
)

const (
	// MaxUploadBytes caps a single custom wallpaper (10 MiB).
	MaxUploadBytes = 10 << 20

	blobKeyPrefix  = "custom-wallpaper-"
	thumbKeyPrefix = "custom-wallpaper-thumb-"

	listKey    = "custom-wallpaper-list"
	currentKey = "current-custom-wallpaper-id"

	// customTTL keeps favorites far past any daily cycle; the entries are
	// removed explicitly on delete.
	customTTL = 365 * 24 * time.Hour

	categoryCurrent = "custom-current"
)

// thumbCategory tags an item's thumbnail handles so deleting the item can
// revoke them without touching the rest of the list.
func thumbCategory(id string) string {
	return "custom-thumb:" + id
}

var allowedMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Metadata describes one saved custom wallpaper.
type Metadata struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	SourceURL  string    `json:"sourceUrl,omitempty"`
}

// Item is a list entry with a resolvable thumbnail.
type Item struct {
	Metadata
	ThumbURL string
	Active   bool
}

// Fetcher downloads a remote image for favoriting. Implemented by
// provider.Fetcher.
type Fetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, string, error)
}

// Manager stores and serves custom wallpapers.
type Manager struct {
	blobs   store.BlobStore
	docs    store.DocStore
	handles *handle.Manager
	fetcher Fetcher
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithFetcher enables favoriting remote images by URL.
func WithFetcher(f Fetcher) Option {
	return func(m *Manager) {
		m.fetcher = f
	}
}

// WithLogger sets the logger for the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithNow sets the clock, mainly for tests.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator sets the ID generator, mainly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// NewManager creates the custom wallpaper manager.
func NewManager(blobs store.BlobStore, docs store.DocStore, handles *handle.Manager, opts ...Option) *Manager {
	m := &Manager{
		blobs:   blobs,
		docs:    docs,
		handles: handles,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ValidateFile checks a prospective upload and returns the effective MIME
// type. When no type is declared it is sniffed from the payload.
func ValidateFile(declaredMIME string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", &freshtab.ValidationError{Reason: "empty file"}
	}
	if len(data) > MaxUploadBytes {
		return "", &freshtab.ValidationError{Reason: fmt.Sprintf("file exceeds %d bytes", MaxUploadBytes)}
	}

	mime := declaredMIME
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	if !allowedMIMEs[mime] {
		return "", &freshtab.ValidationError{Reason: fmt.Sprintf("unsupported image type %q", mime)}
	}
	return mime, nil
}

// Upload saves an uploaded image, generates its thumbnail, and makes it the
// current wallpaper. Nothing is persisted unless the thumbnail succeeds.
func (m *Manager) Upload(ctx context.Context, name string, declaredMIME string, data []byte) (*Metadata, error) {
	meta, err := m.save(ctx, name, declaredMIME, data, "")
	if err != nil {
		return nil, err
	}
	telemetry.RecordCustomUpload(ctx, "file")
	return meta, nil
}

// SaveFromURL favorites a remote image. The same image favorited twice, even
// via URLs that differ only in irrelevant query parameters, is rejected with
// a DuplicateError naming the existing entry.
func (m *Manager) SaveFromURL(ctx context.Context, rawURL string) (*Metadata, error) {
	if m.fetcher == nil {
		return nil, errors.New("no fetcher configured")
	}

	if id, ok, err := m.IDByURL(ctx, rawURL); err != nil {
		return nil, err
	} else if ok {
		return nil, &freshtab.DuplicateError{URL: rawURL, ExistingID: id}
	}

	data, mime, err := m.fetcher.FetchImage(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	meta, err := m.save(ctx, nameFromURL(rawURL), mime, data, rawURL)
	if err != nil {
		return nil, err
	}
	telemetry.RecordCustomUpload(ctx, "url")
	return meta, nil
}

// save validates, decodes, thumbnails, and persists an image, then appends
// it to the list and selects it. The thumbnail is generated before any
// write so a processing failure leaves no partial state.
func (m *Manager) save(ctx context.Context, name, declaredMIME string, data []byte, sourceURL string) (*Metadata, error) {
	mime, err := ValidateFile(declaredMIME, data)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &freshtab.ValidationError{Reason: fmt.Sprintf("undecodable image: %v", err)}
	}
	bounds := img.Bounds()

	thumb, err := makeThumbnail(img)
	if err != nil {
		return nil, &freshtab.ValidationError{Reason: fmt.Sprintf("thumbnail failed: %v", err)}
	}

	id := m.newID()
	meta := &Metadata{
		ID:         id,
		Name:       name,
		Size:       int64(len(data)),
		UploadedAt: m.now(),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		SourceURL:  sourceURL,
	}

	if err := m.blobs.Set(ctx, blobKeyPrefix+id, data, mime, customTTL); err != nil {
		return nil, err
	}
	if err := m.blobs.Set(ctx, thumbKeyPrefix+id, thumb, "image/jpeg", customTTL); err != nil {
		// A wallpaper without a thumbnail would render as a hole in the
		// list, so roll the original back.
		_ = m.blobs.Delete(ctx, blobKeyPrefix+id)
		return nil, err
	}

	core := ExtractCore(sourceURL)
	err = m.docs.UpdateDoc(ctx, listKey, &[]Metadata{}, func(v any) error {
		list := v.(*[]Metadata)
		if sourceURL != "" {
			for _, existing := range *list {
				if existing.SourceURL == "" {
					continue
				}
				if existing.SourceURL == sourceURL || ExtractCore(existing.SourceURL) == core {
					return &freshtab.DuplicateError{URL: sourceURL, ExistingID: existing.ID}
				}
			}
		}
		*list = append(*list, *meta)
		return nil
	})
	if err != nil {
		_ = m.blobs.Delete(ctx, blobKeyPrefix+id)
		_ = m.blobs.Delete(ctx, thumbKeyPrefix+id)
		return nil, err
	}

	if err := m.docs.PutDoc(ctx, currentKey, id); err != nil {
		m.logger.Warn("selecting new wallpaper failed", "id", id, "error", err)
	}

	m.logger.Info("saved custom wallpaper",
		"id", id,
		"name", name,
		"bytes", len(data),
		"dimensions", fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()),
		"from_url", sourceURL != "")

	return meta, nil
}

// CurrentHandle returns a handle to the selected custom wallpaper, or false
// when nothing is selected. Handles from previous calls are released; only
// the latest stays resolvable.
func (m *Manager) CurrentHandle(ctx context.Context) (*handle.Handle, bool, error) {
	var id string
	if err := m.docs.GetDoc(ctx, currentKey, &id); err != nil {
		if errors.Is(err, freshtab.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	entry, err := m.blobs.Get(ctx, blobKeyPrefix+id)
	if err != nil {
		if errors.Is(err, freshtab.ErrNotFound) {
			// The blob vanished underneath the pointer. Clear it so the
			// daily wallpaper takes over.
			_ = m.docs.DeleteDoc(ctx, currentKey)
			return nil, false, nil
		}
		return nil, false, err
	}

	m.handles.ReleaseCategory(categoryCurrent)
	h := m.handles.Acquire(entry.Payload, entry.MIME, categoryCurrent)
	return h, true, nil
}

// All lists every custom wallpaper with a fresh thumbnail handle, newest
// first. Thumbnail handles from previous calls are released.
func (m *Manager) All(ctx context.Context) ([]Item, error) {
	list, err := m.list(ctx)
	if err != nil {
		return nil, err
	}

	var currentID string
	if err := m.docs.GetDoc(ctx, currentKey, &currentID); err != nil && !errors.Is(err, freshtab.ErrNotFound) {
		return nil, err
	}

	items := make([]Item, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		meta := list[i]
		item := Item{Metadata: meta, Active: meta.ID == currentID}

		entry, err := m.blobs.Get(ctx, thumbKeyPrefix+meta.ID)
		if err == nil {
			m.handles.ReleaseCategory(thumbCategory(meta.ID))
			h := m.handles.Acquire(entry.Payload, entry.MIME, thumbCategory(meta.ID))
			item.ThumbURL = h.URL
		} else if !errors.Is(err, freshtab.ErrNotFound) {
			return nil, err
		}

		items = append(items, item)
	}
	return items, nil
}

// SetCurrent selects a wallpaper by ID. Returns ErrNotFound for unknown IDs.
func (m *Manager) SetCurrent(ctx context.Context, id string) error {
	ok, err := m.blobs.Has(ctx, blobKeyPrefix+id)
	if err != nil {
		return err
	}
	if !ok {
		return freshtab.ErrNotFound
	}
	return m.docs.PutDoc(ctx, currentKey, id)
}

// ClearCurrent deselects any custom wallpaper so the daily image shows.
func (m *Manager) ClearCurrent(ctx context.Context) error {
	return m.docs.DeleteDoc(ctx, currentKey)
}

// Delete removes a wallpaper, its thumbnail, its list entry, and, if it was
// selected, the selection. Returns ErrNotFound for unknown IDs.
func (m *Manager) Delete(ctx context.Context, id string) error {
	found := false
	err := m.docs.UpdateDoc(ctx, listKey, &[]Metadata{}, func(v any) error {
		list := v.(*[]Metadata)
		kept := (*list)[:0]
		for _, meta := range *list {
			if meta.ID == id {
				found = true
				continue
			}
			kept = append(kept, meta)
		}
		*list = kept
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return freshtab.ErrNotFound
	}

	if err := m.blobs.Delete(ctx, blobKeyPrefix+id); err != nil {
		return err
	}
	if err := m.blobs.Delete(ctx, thumbKeyPrefix+id); err != nil {
		return err
	}
	m.handles.ReleaseCategory(thumbCategory(id))

	var currentID string
	if err := m.docs.GetDoc(ctx, currentKey, &currentID); err == nil && currentID == id {
		if err := m.docs.DeleteDoc(ctx, currentKey); err != nil {
			return err
		}
		m.handles.ReleaseCategory(categoryCurrent)
	}

	m.logger.Info("deleted custom wallpaper", "id", id)
	return nil
}

// DeleteAll removes every custom wallpaper and the selection.
func (m *Manager) DeleteAll(ctx context.Context) (int, error) {
	list, err := m.list(ctx)
	if err != nil {
		return 0, err
	}

	for _, meta := range list {
		if err := m.blobs.Delete(ctx, blobKeyPrefix+meta.ID); err != nil {
			return 0, err
		}
		if err := m.blobs.Delete(ctx, thumbKeyPrefix+meta.ID); err != nil {
			return 0, err
		}
		m.handles.ReleaseCategory(thumbCategory(meta.ID))
	}

	if err := m.docs.DeleteDoc(ctx, listKey); err != nil {
		return 0, err
	}
	if err := m.docs.DeleteDoc(ctx, currentKey); err != nil {
		return 0, err
	}

	m.handles.ReleaseCategory(categoryCurrent)

	m.logger.Info("deleted all custom wallpapers", "count", len(list))
	return len(list), nil
}

// IsFavorited reports whether a URL's image is already saved.
func (m *Manager) IsFavorited(ctx context.Context, rawURL string) (bool, error) {
	_, ok, err := m.IDByURL(ctx, rawURL)
	return ok, err
}

// IDByURL finds the saved wallpaper matching a URL, by exact URL or by
// identity core.
func (m *Manager) IDByURL(ctx context.Context, rawURL string) (string, bool, error) {
	list, err := m.list(ctx)
	if err != nil {
		return "", false, err
	}

	core := ExtractCore(rawURL)
	for _, meta := range list {
		if meta.SourceURL == "" {
			continue
		}
		if meta.SourceURL == rawURL || ExtractCore(meta.SourceURL) == core {
			return meta.ID, true, nil
		}
	}
	return "", false, nil
}

func (m *Manager) list(ctx context.Context) ([]Metadata, error) {
	var list []Metadata
	if err := m.docs.GetDoc(ctx, listKey, &list); err != nil && !errors.Is(err, freshtab.ErrNotFound) {
		return nil, err
	}
	return list, nil
}

func nameFromURL(rawURL string) string {
	core := ExtractCore(rawURL)
	if idx := strings.LastIndex(core, "/"); idx >= 0 && idx < len(core)-1 {
		return core[idx+1:]
	}
	return core
}
