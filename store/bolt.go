package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	freshtab "github.com/freshtab/freshtab"
)

// Bucket names for bbolt storage.
var (
	bucketBlobs = []byte("blobs") // key -> framed entry (see envelope.go)
	bucketDocs  = []byte("docs")  // key -> JSON document
)

// BoltStore implements BlobStore and DocStore using bbolt.
type BoltStore struct {
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time
	noSync bool // disables fsync per transaction (for testing only)
}

// Option configures a BoltStore.
type Option func(*BoltStore)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *BoltStore) {
		s.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(s *BoltStore) {
		s.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) Option {
	return func(s *BoltStore) {
		s.noSync = noSync
	}
}

// Open opens (creating if necessary) the store at the given path. Failure to
// open is fatal to all operations on the store and is reported as a
// StorageError.
func Open(path string, opts ...Option) (*BoltStore, error) {
	s := &BoltStore{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  s.noSync,
	})
	if err != nil {
		return nil, &freshtab.StorageError{Op: "open", Err: err}
	}
	s.db = db

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketBlobs, bucketDocs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, &freshtab.StorageError{Op: "init", Err: err}
	}

	s.logger.Debug("opened blob store", "path", path, "noSync", s.noSync)
	return s, nil
}

// Close closes the database and releases resources.
func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Debug("closing blob store")
	return s.db.Close()
}

// Set upserts an entry under key, recording the current time as StoredAt.
func (s *BoltStore) Set(ctx context.Context, key string, payload []byte, mime string, ttl time.Duration) error {
	value, err := encodeEntry(&Entry{
		Key:      key,
		Payload:  payload,
		MIME:     mime,
		StoredAt: s.now(),
		TTL:      ttl,
	})
	if err != nil {
		return &freshtab.StorageError{Op: "set", Err: err}
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(key), value)
	})
	if err != nil {
		return &freshtab.StorageError{Op: "set", Err: err}
	}
	return nil
}

// Get returns the entry for key, or ErrNotFound for never-stored, expired,
// and corrupt keys. Expired and corrupt entries are scheduled for deletion
// without blocking the read.
func (s *BoltStore) Get(ctx context.Context, key string) (*Entry, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketBlobs).Get([]byte(key))
		if val == nil {
			return freshtab.ErrNotFound
		}
		raw = make([]byte, len(val))
		copy(raw, val)
		return nil
	})
	if err == freshtab.ErrNotFound {
		return nil, err
	}
	if err != nil {
		return nil, &freshtab.StorageError{Op: "get", Err: err}
	}

	entry, err := decodeEntry(key, raw)
	if err != nil {
		s.logger.Warn("discarding corrupt entry", "key", key, "error", err)
		s.scheduleDelete(key)
		return nil, freshtab.ErrNotFound
	}

	if entry.Expired(s.now()) {
		s.scheduleDelete(key)
		return nil, freshtab.ErrNotFound
	}

	return entry, nil
}

// Has reports existence and liveness without returning the payload.
func (s *BoltStore) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if err == freshtab.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes an entry. Idempotent.
func (s *BoltStore) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlobs).Delete([]byte(key))
	})
	if err != nil {
		return &freshtab.StorageError{Op: "delete", Err: err}
	}
	return nil
}

// ListKeys enumerates blob keys beginning with prefix, in key order. The
// snapshot is taken in one read transaction; corrupt values do not affect
// the enumeration.
func (s *BoltStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketBlobs).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, &freshtab.StorageError{Op: "list", Err: err}
	}
	return keys, nil
}

// CleanupExpired removes expired and corrupt entries. Two-phase scan: collect
// candidate keys in a read transaction, then delete in a write transaction,
// so state is never mutated mid-iteration.
func (s *BoltStore) CleanupExpired(ctx context.Context) (int, error) {
	now := s.now()

	var doomed []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlobs).ForEach(func(k, v []byte) error {
			entry, err := decodeEntry(string(k), v)
			if err != nil {
				// Corrupt entries are swept too; never abort the scan.
				s.logger.Warn("sweeping corrupt entry", "key", string(k), "error", err)
				doomed = append(doomed, string(k))
				return nil
			}
			if entry.Expired(now) {
				doomed = append(doomed, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return 0, &freshtab.StorageError{Op: "cleanup", Err: err}
	}

	if len(doomed) == 0 {
		return 0, nil
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBlobs)
		for _, key := range doomed {
			if err := bucket.Delete([]byte(key)); err != nil {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, &freshtab.StorageError{Op: "cleanup", Err: err}
	}

	s.logger.Debug("cleaned up expired entries", "count", len(doomed))
	return len(doomed), nil
}

// scheduleDelete removes a key in the background so reads never block on a
// write transaction.
func (s *BoltStore) scheduleDelete(key string) {
	go func() {
		if err := s.Delete(context.Background(), key); err != nil {
			s.logger.Warn("failed to delete stale entry", "key", key, "error", err)
		}
	}()
}

// Compile-time interface checks
var (
	_ BlobStore = (*BoltStore)(nil)
	_ DocStore  = (*BoltStore)(nil)
)
