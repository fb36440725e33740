// Package store provides the durable blob store backing the wallpaper cache:
// a bbolt-based key to (payload, metadata) store with per-entry expiration,
// plus a small-document layer for metadata lists and markers.
package store

import (
	"context"
	"time"
)

// Entry is a stored blob with its metadata. An entry is live iff
// now - StoredAt < TTL; expired entries are reported as absent by readers.
type Entry struct {
	Key      string
	Payload  []byte
	MIME     string
	Size     int64
	StoredAt time.Time
	TTL      time.Duration
}

// Expired reports whether the entry's TTL has elapsed at the given instant.
// A zero TTL never expires.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.StoredAt) >= e.TTL
}

// BlobStore is the durable blob store contract. Implementations must be safe
// for concurrent use. Writes are keyed upserts; readers treat expired entries
// as absent.
type BlobStore interface {
	// Set upserts an entry, recording the store's current time as StoredAt.
	Set(ctx context.Context, key string, payload []byte, mime string, ttl time.Duration) error

	// Get returns the entry for a key, or ErrNotFound for both never-stored
	// and expired keys. Detecting an expired or corrupt entry schedules its
	// deletion without blocking the read.
	Get(ctx context.Context, key string) (*Entry, error)

	// Has reports existence and liveness without returning the payload.
	Has(ctx context.Context, key string) (bool, error)

	// Delete removes an entry. Idempotent.
	Delete(ctx context.Context, key string) error

	// ListKeys enumerates blob keys beginning with prefix, in key order. An
	// empty prefix enumerates everything. Snapshot semantics; corrupt
	// entries do not abort the enumeration.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// CleanupExpired removes all expired and corrupt entries using a
	// two-phase collect-then-delete scan. Returns the number removed.
	CleanupExpired(ctx context.Context) (int, error)
}

// DocStore is the small-document layer used for the custom wallpaper
// metadata list, the current-selection pointer, and refresh markers.
// Documents are JSON-encoded and have no TTL.
type DocStore interface {
	// GetDoc unmarshals the document at key into v. Returns ErrNotFound if
	// the document does not exist.
	GetDoc(ctx context.Context, key string, v any) error

	// PutDoc marshals v and stores it at key, overwriting any previous value.
	PutDoc(ctx context.Context, key string, v any) error

	// DeleteDoc removes a document. Idempotent.
	DeleteDoc(ctx context.Context, key string) error

	// UpdateDoc performs read-modify-write in a single transaction. v
	// receives the current value (or stays zero if absent), fn mutates it in
	// place, and the result is stored. Prevents lost updates from concurrent
	// writers.
	UpdateDoc(ctx context.Context, key string, v any, fn func(v any) error) error
}
