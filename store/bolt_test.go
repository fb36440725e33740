package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	freshtab "github.com/freshtab/freshtab"
)

func newTestStore(t *testing.T, opts ...Option) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, append([]Option{WithNoSync(true)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenFailure(t *testing.T) {
	// A directory path cannot be opened as a database file.
	_, err := Open(t.TempDir())
	require.Error(t, err)

	var storageErr *freshtab.StorageError
	require.ErrorAs(t, err, &storageErr)
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := []byte("jpeg bytes go here")
	require.NoError(t, s.Set(ctx, "wallpaper-optimized:1080p-2025-12-16", payload, "image/jpeg", time.Hour))

	entry, err := s.Get(ctx, "wallpaper-optimized:1080p-2025-12-16")
	require.NoError(t, err)
	require.Equal(t, payload, entry.Payload)
	require.Equal(t, "image/jpeg", entry.MIME)
	require.Equal(t, int64(len(payload)), entry.Size)
	require.Equal(t, time.Hour, entry.TTL)
}

func TestGetNeverStored(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nonexistent")
	require.ErrorIs(t, err, freshtab.ErrNotFound)
}

func TestSetOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", []byte("old"), "image/jpeg", time.Hour))
	require.NoError(t, s.Set(ctx, "key", []byte("new"), "image/png", time.Hour))

	entry, err := s.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, []byte("new"), entry.Payload)
	require.Equal(t, "image/png", entry.MIME)
}

func TestExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short-lived", []byte("data"), "image/jpeg", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := s.Get(ctx, "short-lived")
	require.ErrorIs(t, err, freshtab.ErrNotFound)

	ok, err := s.Has(ctx, "short-lived")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestZeroTTLNeverExpires(t *testing.T) {
	s := newTestStore(t, WithNow(func() time.Time {
		return time.Now().Add(100 * 365 * 24 * time.Hour)
	}))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "forever", []byte("data"), "image/jpeg", 0))

	ok, err := s.Has(ctx, "forever")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", []byte("data"), "image/jpeg", time.Hour))
	require.NoError(t, s.Delete(ctx, "key"))
	require.NoError(t, s.Delete(ctx, "key"))

	ok, err := s.Has(ctx, "key")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys, err := s.ListKeys(ctx, "")
	require.NoError(t, err)
	require.Empty(t, keys)

	require.NoError(t, s.Set(ctx, "wp:a", []byte("1"), "image/jpeg", time.Hour))
	require.NoError(t, s.Set(ctx, "wp:b", []byte("2"), "image/jpeg", time.Hour))
	require.NoError(t, s.Set(ctx, "other:c", []byte("3"), "image/jpeg", time.Hour))

	keys, err = s.ListKeys(ctx, "")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"wp:a", "wp:b", "other:c"}, keys)

	keys, err = s.ListKeys(ctx, "wp:")
	require.NoError(t, err)
	require.Equal(t, []string{"wp:a", "wp:b"}, keys)

	keys, err = s.ListKeys(ctx, "nope:")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestCleanupExpired(t *testing.T) {
	base := time.Now()
	current := base
	s := newTestStore(t, WithNow(func() time.Time { return current }))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "expired-1", []byte("1"), "image/jpeg", time.Minute))
	require.NoError(t, s.Set(ctx, "expired-2", []byte("2"), "image/jpeg", time.Minute))
	require.NoError(t, s.Set(ctx, "live", []byte("3"), "image/jpeg", time.Hour))

	current = base.Add(30 * time.Minute)

	deleted, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	keys, err := s.ListKeys(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"live"}, keys)
}

func TestCorruptEntrySkipped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "good", []byte("fine"), "image/jpeg", time.Hour))

	// Write garbage directly, bypassing the envelope.
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte("corrupt"), []byte("not a framed entry"))
	})
	require.NoError(t, err)

	// Reads report it as absent.
	_, err = s.Get(ctx, "corrupt")
	require.ErrorIs(t, err, freshtab.ErrNotFound)

	// Enumeration is not aborted by it.
	keys, err := s.ListKeys(ctx, "")
	require.NoError(t, err)
	require.Contains(t, keys, "good")

	// The sweep removes it and keeps the good entry.
	deleted, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, deleted, 1)

	ok, err := s.Has(ctx, "good")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTamperedPayloadRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", []byte("original payload"), "image/jpeg", time.Hour))

	// Flip a payload byte in place, keeping the frame intact.
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBlobs)
		val := bucket.Get([]byte("key"))
		tampered := make([]byte, len(val))
		copy(tampered, val)
		tampered[len(tampered)-1] ^= 0xFF
		return bucket.Put([]byte("key"), tampered)
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, "key")
	require.ErrorIs(t, err, freshtab.ErrNotFound)
}
