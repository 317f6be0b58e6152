package build

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexusaddons/releasepipe/internal/artifact"
	"github.com/nexusaddons/releasepipe/internal/cache"
	"github.com/nexusaddons/releasepipe/internal/platform"
	"github.com/nexusaddons/releasepipe/internal/workflow"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWorkflow() *workflow.Workflow {
	w := &workflow.Workflow{
		Name:      "release",
		Artifact:  "nexus_emotes",
		Lockfile:  "deps.lock",
		Toolchain: workflow.ToolchainSpec{Channel: "stable-1.78"},
		Build: workflow.BuildSpec{
			Command:    []string{"compilerd", "--release"},
			ProfileDir: "target/release",
		},
		Cache:   workflow.CacheSpec{Paths: []string{"deps"}},
		Release: workflow.ReleaseSpec{TagPattern: "v*"},
	}
	return w
}

type mockRunner struct {
	RunFunc func(ctx context.Context, argv []string, dir string, env []string) error
	calls   int
	lastEnv []string
}

func (m *mockRunner) Run(ctx context.Context, argv []string, dir string, env []string) error {
	m.calls++
	m.lastEnv = env
	return m.RunFunc(ctx, argv, dir, env)
}

type mockUploader struct {
	UploadFunc func(name, srcPath string) (*artifact.Artifact, error)
	calls      int
}

func (m *mockUploader) Upload(name, srcPath string) (*artifact.Artifact, error) {
	m.calls++
	return m.UploadFunc(name, srcPath)
}

// newWorkDir lays out a working copy with a lockfile and a deps tree.
func newWorkDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deps.lock"), []byte("dep-a = 1.0\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "deps"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deps", "dep-a.bin"), []byte("dep bytes"), 0o644))
	return dir
}

// compileTo returns a runner that simulates a successful compile by writing
// the binary where verifyOutput expects it.
func compileTo(t *testing.T, fileName string) *mockRunner {
	t.Helper()
	return &mockRunner{RunFunc: func(_ context.Context, _ []string, dir string, _ []string) error {
		out := filepath.Join(dir, "target", "release", fileName)
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		return os.WriteFile(out, []byte("MZ binary"), 0o644)
	}}
}

func newCacheStore(t *testing.T, dir string) *cache.Store {
	t.Helper()
	backend, err := cache.NewLocalBackend(dir)
	require.NoError(t, err)
	store, err := cache.New(&cache.Config{Logger: newLogger(), Backend: backend})
	require.NoError(t, err)
	return store
}

func TestBuild_ConfigValidate(t *testing.T) {
	t.Parallel()

	t.Run("missing required fields", func(t *testing.T) {
		t.Parallel()
		err := (&Config{}).Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "logger is required")
	})

	t.Run("defaults applied", func(t *testing.T) {
		t.Parallel()
		cfg := &Config{
			Logger:      newLogger(),
			Workflow:    testWorkflow(),
			Platform:    platform.Platform{OS: "windows", Arch: "amd64"},
			Provisioner: platform.HostProvisioner{},
			Artifacts:   &mockUploader{},
			WorkDir:     t.TempDir(),
		}
		require.NoError(t, cfg.Validate())
		require.NotNil(t, cfg.Runner)
		require.NotNil(t, cfg.Clock)
	})
}

func TestBuild_SuccessUploadsArtifact(t *testing.T) {
	t.Parallel()

	workdir := newWorkDir(t)
	runner := compileTo(t, "nexus_emotes.dll")

	artStore, err := artifact.NewStore(&artifact.StoreConfig{Logger: newLogger(), Dir: t.TempDir()})
	require.NoError(t, err)

	stage, err := New(&Config{
		Logger:      newLogger(),
		Workflow:    testWorkflow(),
		Platform:    platform.Platform{OS: "windows", Arch: "amd64"},
		Provisioner: platform.HostProvisioner{},
		Artifacts:   artStore,
		WorkDir:     workdir,
		Runner:      runner,
	})
	require.NoError(t, err)

	res, err := stage.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "nexus_emotes", res.ArtifactName)
	require.Equal(t, filepath.Join(workdir, "target", "release", "nexus_emotes.dll"), res.BinaryPath)
	require.False(t, res.CacheHit)
	require.Equal(t, 1, runner.calls)

	// The artifact is retrievable under the exact name.
	path, err := artStore.Download("nexus_emotes", t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "nexus_emotes.dll", filepath.Base(path))
}

func TestBuild_CompileFailureUploadsNothing(t *testing.T) {
	t.Parallel()

	workdir := newWorkDir(t)
	uploader := &mockUploader{UploadFunc: func(string, string) (*artifact.Artifact, error) {
		return &artifact.Artifact{}, nil
	}}

	stage, err := New(&Config{
		Logger:      newLogger(),
		Workflow:    testWorkflow(),
		Platform:    platform.Platform{OS: "windows", Arch: "amd64"},
		Provisioner: platform.HostProvisioner{},
		Artifacts:   uploader,
		WorkDir:     workdir,
		Runner: &mockRunner{RunFunc: func(context.Context, []string, string, []string) error {
			return errors.New("compiler exploded")
		}},
	})
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "compiler exploded")
	require.Equal(t, 0, uploader.calls)
}

func TestBuild_MissingBinaryIsFatal(t *testing.T) {
	t.Parallel()

	workdir := newWorkDir(t)
	uploader := &mockUploader{UploadFunc: func(string, string) (*artifact.Artifact, error) {
		return &artifact.Artifact{}, nil
	}}

	stage, err := New(&Config{
		Logger:      newLogger(),
		Workflow:    testWorkflow(),
		Platform:    platform.Platform{OS: "windows", Arch: "amd64"},
		Provisioner: platform.HostProvisioner{},
		Artifacts:   uploader,
		WorkDir:     workdir,
		// Compiler exits zero without producing the binary.
		Runner: &mockRunner{RunFunc: func(context.Context, []string, string, []string) error {
			return nil
		}},
	})
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "compiled binary missing")
	require.Equal(t, 0, uploader.calls)
}

func TestBuild_ToolchainUnavailableIsFatal(t *testing.T) {
	t.Parallel()

	workdir := newWorkDir(t)
	stage, err := New(&Config{
		Logger:      newLogger(),
		Workflow:    testWorkflow(),
		Platform:    platform.Platform{OS: "windows", Arch: "amd64"},
		Provisioner: platform.DirProvisioner{Root: t.TempDir()},
		Artifacts:   &mockUploader{},
		WorkDir:     workdir,
		Runner:      compileTo(t, "nexus_emotes.dll"),
	})
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.ErrorIs(t, err, platform.ErrToolchainUnavailable)
}

func TestBuild_MissingLockfileIsFatal(t *testing.T) {
	t.Parallel()

	workdir := t.TempDir() // no deps.lock
	stage, err := New(&Config{
		Logger:      newLogger(),
		Workflow:    testWorkflow(),
		Platform:    platform.Platform{OS: "windows", Arch: "amd64"},
		Provisioner: platform.HostProvisioner{},
		Artifacts:   &mockUploader{},
		WorkDir:     workdir,
		Runner:      compileTo(t, "nexus_emotes.dll"),
	})
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "cache key")
}

func TestBuild_CacheHitOnUnchangedLockfile(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()

	run := func(workdir string) *Result {
		artStore, err := artifact.NewStore(&artifact.StoreConfig{Logger: newLogger(), Dir: t.TempDir()})
		require.NoError(t, err)
		stage, err := New(&Config{
			Logger:      newLogger(),
			Workflow:    testWorkflow(),
			Platform:    platform.Platform{OS: "windows", Arch: "amd64"},
			Provisioner: platform.HostProvisioner{},
			Artifacts:   artStore,
			WorkDir:     workdir,
			Cache:       newCacheStore(t, cacheDir),
			Runner:      compileTo(t, "nexus_emotes.dll"),
		})
		require.NoError(t, err)
		res, err := stage.Run(context.Background())
		require.NoError(t, err)
		return res
	}

	first := run(newWorkDir(t))
	require.False(t, first.CacheHit)

	// Second run: identical lockfile content, fresh working copy without the
	// deps tree. The cache must repopulate it.
	second := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(second, "deps.lock"), []byte("dep-a = 1.0\n"), 0o644))
	res := run(second)
	require.True(t, res.CacheHit)
	require.Equal(t, first.CacheKey, res.CacheKey)

	restored, err := os.ReadFile(filepath.Join(second, "deps", "dep-a.bin"))
	require.NoError(t, err)
	require.Equal(t, "dep bytes", string(restored))
}

func TestBuild_ChangedLockfileInvalidatesCache(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()
	first := newWorkDir(t)
	{
		artStore, err := artifact.NewStore(&artifact.StoreConfig{Logger: newLogger(), Dir: t.TempDir()})
		require.NoError(t, err)
		stage, err := New(&Config{
			Logger:      newLogger(),
			Workflow:    testWorkflow(),
			Platform:    platform.Platform{OS: "windows", Arch: "amd64"},
			Provisioner: platform.HostProvisioner{},
			Artifacts:   artStore,
			WorkDir:     first,
			Cache:       newCacheStore(t, cacheDir),
			Runner:      compileTo(t, "nexus_emotes.dll"),
		})
		require.NoError(t, err)
		_, err = stage.Run(context.Background())
		require.NoError(t, err)
	}

	second := newWorkDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(second, "deps.lock"), []byte("dep-a = 2.0\n"), 0o644))

	artStore, err := artifact.NewStore(&artifact.StoreConfig{Logger: newLogger(), Dir: t.TempDir()})
	require.NoError(t, err)
	stage, err := New(&Config{
		Logger:      newLogger(),
		Workflow:    testWorkflow(),
		Platform:    platform.Platform{OS: "windows", Arch: "amd64"},
		Provisioner: platform.HostProvisioner{},
		Artifacts:   artStore,
		WorkDir:     second,
		Cache:       newCacheStore(t, cacheDir),
		Runner:      compileTo(t, "nexus_emotes.dll"),
	})
	require.NoError(t, err)
	res, err := stage.Run(context.Background())
	require.NoError(t, err)
	require.False(t, res.CacheHit)
}

func TestBuild_ColorFlagReachesCommandEnv(t *testing.T) {
	t.Parallel()

	workdir := newWorkDir(t)
	wf := testWorkflow()
	wf.Build.Env = map[string]string{workflow.EnvColor: "always"}

	runner := compileTo(t, "nexus_emotes.dll")
	artStore, err := artifact.NewStore(&artifact.StoreConfig{Logger: newLogger(), Dir: t.TempDir()})
	require.NoError(t, err)

	stage, err := New(&Config{
		Logger:      newLogger(),
		Workflow:    wf,
		Platform:    platform.Platform{OS: "windows", Arch: "amd64"},
		Provisioner: platform.HostProvisioner{},
		Artifacts:   artStore,
		WorkDir:     workdir,
		Runner:      runner,
	})
	require.NoError(t, err)

	_, err = stage.Run(context.Background())
	require.NoError(t, err)
	require.Contains(t, runner.lastEnv, workflow.EnvColor+"=always")
}
