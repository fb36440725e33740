// Package freshtab holds the shared types of the freshtab wallpaper core:
// resolutions, and the error taxonomy used across the cache service, the
// custom wallpaper manager, and the HTTP layer.
package freshtab

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key, wallpaper, or handle does not exist.
// Expired cache entries are reported as ErrNotFound by readers.
var ErrNotFound = errors.New("not found")

// ValidationError indicates a rejected input (bad file type, oversized
// upload, unknown resolution). Never retried; surfaced to the user.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// NetworkError indicates a failed remote image fetch (timeout, non-2xx,
// transport failure). The caller decides whether to retry against the
// alternate provider.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StorageError indicates the durable store failed. Callers on a serving path
// log it and proceed with the in-memory bytes they already have.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DuplicateError indicates an attempt to favorite a URL that already maps to
// a saved wallpaper. Distinct from a generic failure so the UI can render a
// specific message.
type DuplicateError struct {
	URL        string
	ExistingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("already favorited: %s (id %s)", e.URL, e.ExistingID)
}
