package cache

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
)

// Key derives the cache key from lockfile content and the platform identity.
// Identical lockfile bytes on the same platform always produce the same key;
// any content change or platform change produces a different one.
func Key(lockfile []byte, platformID string) string {
	sum := sha256.Sum256(lockfile)
	return fmt.Sprintf("%s-%x", sanitize(platformID), sum)
}

// KeyFromFile hashes the lockfile at path. A missing lockfile is an error:
// without it the key would not be deterministic.
func KeyFromFile(path, platformID string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read lockfile: %w", err)
	}
	return Key(data, platformID), nil
}

// entryKey scopes one cached path under a run key. The path is hashed so
// nested directories stay flat object keys.
func entryKey(key, path string) string {
	sum := sha256.Sum256([]byte(path))
	return fmt.Sprintf("%s/%x", key, sum[:8])
}

func sanitize(platformID string) string {
	return strings.ReplaceAll(platformID, "/", "-")
}
