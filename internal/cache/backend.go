// Package cache implements the advisory dependency cache. Entries are
// zstd-compressed tar archives of cache paths, stored by content-derived key.
// A miss or a backend failure degrades to a cold build, never a failed run.
package cache

import (
	"context"
	"errors"
	"io"
)

// ErrMiss is returned by Backend.Get when no entry exists under the key.
var ErrMiss = errors.New("cache miss")

// Backend stores opaque cache archives by key. Writes follow last-writer-wins
// semantics, consistent with the cache being advisory.
type Backend interface {
	Has(ctx context.Context, key string) (bool, error)
	// Get returns the archive stream for key, or ErrMiss.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, body io.Reader) error
}
