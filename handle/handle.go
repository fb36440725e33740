// Package handle issues short-lived, revocable URLs for in-memory binary
// payloads so the UI can render them. Each handle maps a generated id to the
// underlying bytes; the HTTP layer resolves ids under the manager's base
// path. A per-category registry exists purely for bulk revocation
// bookkeeping, never for ownership: the consumer owns a handle until it is
// released.
package handle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle is a renderable reference to acquired bytes. Multiple handles may
// be issued for the same underlying bytes; each is independently revocable.
type Handle struct {
	ID        string
	URL       string
	MIME      string
	Category  string
	CreatedAt time.Time
}

// Manager tracks issued handles and their categories.
type Manager struct {
	basePath string
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	entries    map[string]*entry
	categories map[string]map[string]struct{}
}

type entry struct {
	data     []byte
	mime     string
	category string
}

// Option configures a Manager.
type Option func(*Manager)

// WithBasePath sets the URL path prefix for issued handles.
func WithBasePath(p string) Option {
	return func(m *Manager) {
		m.basePath = p
	}
}

// WithLogger sets the logger for the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a handle manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		basePath:   "/blob",
		logger:     slog.Default(),
		now:        time.Now,
		entries:    make(map[string]*entry),
		categories: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire issues a new handle for the given bytes. The payload is not
// copied; callers must not mutate it after acquisition.
func (m *Manager) Acquire(data []byte, mime, category string) *Handle {
	id := uuid.NewString()

	m.mu.Lock()
	m.entries[id] = &entry{data: data, mime: mime, category: category}
	ids, ok := m.categories[category]
	if !ok {
		ids = make(map[string]struct{})
		m.categories[category] = ids
	}
	ids[id] = struct{}{}
	m.mu.Unlock()

	return &Handle{
		ID:        id,
		URL:       m.basePath + "/" + id,
		MIME:      mime,
		Category:  category,
		CreatedAt: m.now(),
	}
}

// Resolve returns the bytes and MIME type for a handle id. Used by the HTTP
// layer to serve handle URLs.
func (m *Manager) Resolve(id string) (data []byte, mime string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, "", false
	}
	return e.data, e.mime, true
}

// Release revokes a single handle. Reports whether the handle existed.
func (m *Manager) Release(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(id)
}

// ReleaseCategory revokes every handle in a category and returns how many
// were released.
func (m *Manager) ReleaseCategory(category string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, ok := m.categories[category]
	if !ok {
		return 0
	}

	released := 0
	for id := range ids {
		if m.releaseLocked(id) {
			released++
		}
	}

	if released > 0 {
		m.logger.Debug("released handle category", "category", category, "count", released)
	}
	return released
}

func (m *Manager) releaseLocked(id string) bool {
	e, ok := m.entries[id]
	if !ok {
		return false
	}
	delete(m.entries, id)

	if ids, ok := m.categories[e.category]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.categories, e.category)
		}
	}
	return true
}

// Count returns the number of outstanding handles.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// CategoryCount returns the number of outstanding handles in a category.
func (m *Manager) CategoryCount(category string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.categories[category])
}
