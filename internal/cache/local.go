package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const archiveSuffix = ".tar.zst"

// LocalBackend stores cache archives under a directory on the build host.
type LocalBackend struct {
	Dir string
}

func NewLocalBackend(dir string) (*LocalBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &LocalBackend{Dir: dir}, nil
}

func (b *LocalBackend) path(key string) string {
	// Entry keys contain a "/" separating run key from path digest.
	return filepath.Join(b.Dir, strings.ReplaceAll(key, "/", "_")+archiveSuffix)
}

func (b *LocalBackend) Has(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *LocalBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMiss
		}
		return nil, err
	}
	return f, nil
}

// Put writes to a temp file and renames it into place, so concurrent writers
// settle on last-writer-wins without torn archives.
func (b *LocalBackend) Put(_ context.Context, key string, body io.Reader) error {
	tmp, err := os.CreateTemp(b.Dir, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path(key)); err != nil {
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return nil
}
