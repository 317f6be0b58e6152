package artifact

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, clock clockwork.Clock) *Store {
	t.Helper()
	s, err := NewStore(&StoreConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dir:    t.TempDir(),
		Clock:  clock,
	})
	require.NoError(t, err)
	return s
}

func TestArtifact_StoreConfigValidate(t *testing.T) {
	t.Parallel()

	err := (&StoreConfig{}).Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "logger is required")

	cfg := &StoreConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Dir: t.TempDir()}
	require.NoError(t, cfg.Validate())
	require.NotNil(t, cfg.Clock)
}

func TestArtifact_UploadDownloadRoundTrip(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := newStore(t, clock)

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "nexus_emotes.dll")
	require.NoError(t, os.WriteFile(srcPath, []byte("MZ binary bytes"), 0o644))

	art, err := store.Upload("nexus_emotes", srcPath)
	require.NoError(t, err)
	require.Equal(t, "nexus_emotes", art.Name)
	require.Equal(t, "nexus_emotes.dll", art.FileName)
	require.Equal(t, int64(len("MZ binary bytes")), art.Size)
	require.Equal(t, clock.Now().UTC(), art.UploadedAt)

	dstDir := t.TempDir()
	dstPath, err := store.Download("nexus_emotes", dstDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dstDir, "nexus_emotes.dll"), dstPath)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.Equal(t, "MZ binary bytes", string(got))
}

func TestArtifact_NameMismatchFailsClosed(t *testing.T) {
	t.Parallel()

	store := newStore(t, nil)

	srcPath := filepath.Join(t.TempDir(), "nexus_emotes.dll")
	require.NoError(t, os.WriteFile(srcPath, []byte("bytes"), 0o644))
	_, err := store.Upload("nexus_emotes", srcPath)
	require.NoError(t, err)

	_, err = store.Download("nexus-emotes", t.TempDir())
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Stat("something_else")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestArtifact_DownloadDetectsTamperedBytes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewStore(&StoreConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dir:    dir,
	})
	require.NoError(t, err)

	srcPath := filepath.Join(t.TempDir(), "nexus_emotes.dll")
	require.NoError(t, os.WriteFile(srcPath, []byte("original"), 0o644))
	_, err = store.Upload("nexus_emotes", srcPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "nexus_emotes", "nexus_emotes.dll"), []byte("tampered"), 0o644))

	_, err = store.Download("nexus_emotes", t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "digest mismatch")
}

func TestArtifact_UploadRequiresName(t *testing.T) {
	t.Parallel()

	store := newStore(t, nil)
	_, err := store.Upload("", "/nonexistent")
	require.Error(t, err)
}
