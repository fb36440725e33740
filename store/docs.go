package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	freshtab "github.com/freshtab/freshtab"
)

// GetDoc unmarshals the document at key into v.
func (s *BoltStore) GetDoc(ctx context.Context, key string, v any) error {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketDocs).Get([]byte(key))
		if val == nil {
			return freshtab.ErrNotFound
		}
		raw = make([]byte, len(val))
		copy(raw, val)
		return nil
	})
	if err == freshtab.ErrNotFound {
		return err
	}
	if err != nil {
		return &freshtab.StorageError{Op: "get doc", Err: err}
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return &freshtab.StorageError{Op: "get doc", Err: fmt.Errorf("unmarshaling %s: %w", key, err)}
	}
	return nil
}

// PutDoc marshals v and stores it at key.
func (s *BoltStore) PutDoc(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &freshtab.StorageError{Op: "put doc", Err: fmt.Errorf("marshaling %s: %w", key, err)}
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).Put([]byte(key), data)
	})
	if err != nil {
		return &freshtab.StorageError{Op: "put doc", Err: err}
	}
	return nil
}

// DeleteDoc removes a document. Idempotent.
func (s *BoltStore) DeleteDoc(ctx context.Context, key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocs).Delete([]byte(key))
	})
	if err != nil {
		return &freshtab.StorageError{Op: "delete doc", Err: err}
	}
	return nil
}

// UpdateDoc performs read-modify-write in a single Bolt transaction. The
// function fn receives the current value (or the zero value if not found)
// unmarshaled into v and should modify it in place. The modified value is
// then stored. This prevents lost updates from concurrent writers.
func (s *BoltStore) UpdateDoc(ctx context.Context, key string, v any, fn func(v any) error) error {
	var fnErr error
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDocs)

		if val := bucket.Get([]byte(key)); val != nil {
			if err := json.Unmarshal(val, v); err != nil {
				return fmt.Errorf("unmarshaling existing value: %w", err)
			}
		}

		// fn errors abort the transaction but are returned to the caller
		// as-is, not as storage failures.
		if fnErr = fn(v); fnErr != nil {
			return fnErr
		}

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling value: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		if fnErr != nil {
			return fnErr
		}
		return &freshtab.StorageError{Op: "update doc", Err: err}
	}
	return nil
}
