// Package artifact correlates the build stage's output with the release
// stage's input. The only correlation handle is the artifact name: upload and
// download must agree on it exactly or the pipeline fails closed.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrNotFound indicates no artifact is registered under the requested name.
var ErrNotFound = errors.New("artifact not found")

const manifestFile = "artifact.json"

// Artifact describes one registered build output. The file is carried between
// stages without modification; the digest recorded at upload is verified at
// download.
type Artifact struct {
	Name       string    `json:"name"`
	FileName   string    `json:"file_name"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type StoreConfig struct {
	Logger *slog.Logger
	// Dir is the run-scoped directory artifacts live in. Nothing under it
	// outlives the run.
	Dir string

	// Optional with defaults.
	Clock clockwork.Clock
}

func (c *StoreConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Dir == "" {
		return errors.New("artifact directory is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Store struct {
	log *slog.Logger
	cfg *StoreConfig
}

func NewStore(cfg *StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate artifact store config: %w", err)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

// Upload registers the file at srcPath under name. Callers upload only after
// the binary is fully verified, so no partial artifact is ever visible.
func (s *Store) Upload(name, srcPath string) (*Artifact, error) {
	if name == "" {
		return nil, errors.New("artifact name is required")
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact source: %w", err)
	}
	defer src.Close()

	dir := filepath.Join(s.cfg.Dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact entry: %w", err)
	}

	fileName := filepath.Base(srcPath)
	dst, err := os.Create(filepath.Join(dir, fileName))
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer dst.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(dst, h), src)
	if err != nil {
		return nil, fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := dst.Close(); err != nil {
		return nil, fmt.Errorf("failed to close artifact file: %w", err)
	}

	art := &Artifact{
		Name:       name,
		FileName:   fileName,
		Size:       size,
		SHA256:     hex.EncodeToString(h.Sum(nil)),
		UploadedAt: s.cfg.Clock.Now().UTC(),
	}
	manifest, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), manifest, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write artifact manifest: %w", err)
	}

	s.log.Info("artifact uploaded", "name", name, "file", fileName, "size", size, "sha256", art.SHA256)
	return art, nil
}

// Download copies the artifact registered under name into dstDir and returns
// the restored file path. An unknown name fails closed with ErrNotFound; a
// digest mismatch means the artifact was modified in transit and is fatal.
func (s *Store) Download(name, dstDir string) (string, error) {
	art, err := s.Stat(name)
	if err != nil {
		return "", err
	}

	src, err := os.Open(filepath.Join(s.cfg.Dir, name, art.FileName))
	if err != nil {
		return "", fmt.Errorf("failed to open artifact %s: %w", name, err)
	}
	defer src.Close()

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	dstPath := filepath.Join(dstDir, art.FileName)
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}
	defer dst.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(dst, h), src); err != nil {
		return "", fmt.Errorf("failed to copy artifact %s: %w", name, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to close download file: %w", err)
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != art.SHA256 {
		return "", fmt.Errorf("artifact %s digest mismatch: manifest %s, stored %s", name, art.SHA256, got)
	}
	return dstPath, nil
}

// Stat returns the manifest for name without copying the file.
func (s *Store) Stat(name string) (*Artifact, error) {
	data, err := os.ReadFile(filepath.Join(s.cfg.Dir, name, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read artifact manifest: %w", err)
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("failed to decode artifact manifest: %w", err)
	}
	return &art, nil
}
