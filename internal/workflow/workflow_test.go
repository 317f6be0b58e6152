package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const sampleWorkflow = `
name: release
artifact: nexus_emotes
lockfile: deps.lock
toolchain:
  channel: stable-1.78
build:
  command: ["compilerd", "--release"]
  profile_dir: target/release
  env:
    OPT_LEVEL: "3"
cache:
  paths:
    - deps
    - target
release:
  tag_pattern: "v*"
`

func TestWorkflow_Parse(t *testing.T) {
	t.Parallel()

	w, err := Parse([]byte(sampleWorkflow))
	require.NoError(t, err)

	want := &Workflow{
		Name:      "release",
		Artifact:  "nexus_emotes",
		Lockfile:  "deps.lock",
		Toolchain: ToolchainSpec{Channel: "stable-1.78"},
		Build: BuildSpec{
			Command:    []string{"compilerd", "--release"},
			ProfileDir: "target/release",
			Env:        map[string]string{"OPT_LEVEL": "3"},
		},
		Cache:   CacheSpec{Paths: []string{"deps", "target"}},
		Release: ReleaseSpec{TagPattern: "v*"},
	}
	if diff := cmp.Diff(want, w); diff != "" {
		t.Fatalf("workflow mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkflow_ParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("name: x\nartifcat: typo\n"))
	require.Error(t, err)
}

func TestWorkflow_Validate(t *testing.T) {
	t.Parallel()

	base := func() *Workflow {
		w, err := Parse([]byte(sampleWorkflow))
		require.NoError(t, err)
		return w
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, base().Validate())
	})

	t.Run("defaults applied", func(t *testing.T) {
		t.Parallel()
		w := base()
		w.Build.ProfileDir = ""
		w.Release.TagPattern = ""
		require.NoError(t, w.Validate())
		require.Equal(t, "target/release", w.Build.ProfileDir)
		require.Equal(t, "v*", w.Release.TagPattern)
	})

	t.Run("missing required fields", func(t *testing.T) {
		t.Parallel()
		for _, mutate := range []func(*Workflow){
			func(w *Workflow) { w.Name = "" },
			func(w *Workflow) { w.Artifact = "" },
			func(w *Workflow) { w.Lockfile = "" },
			func(w *Workflow) { w.Toolchain.Channel = "" },
			func(w *Workflow) { w.Build.Command = nil },
		} {
			w := base()
			mutate(w)
			require.Error(t, w.Validate())
		}
	})
}

func TestWorkflow_Load(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "release.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleWorkflow), 0o644))

	t.Run("env overrides artifact and threads color flag", func(t *testing.T) {
		t.Parallel()
		env := map[string]string{
			EnvArtifact: "custom_emotes",
			EnvColor:    "always",
		}
		w, err := Load(path, func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		})
		require.NoError(t, err)
		require.Equal(t, "custom_emotes", w.Artifact)
		require.Equal(t, "always", w.Build.Env[EnvColor])
	})

	t.Run("no env leaves definition untouched", func(t *testing.T) {
		t.Parallel()
		w, err := Load(path, func(string) (string, bool) { return "", false })
		require.NoError(t, err)
		require.Equal(t, "nexus_emotes", w.Artifact)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := Load(filepath.Join(dir, "absent.yaml"), nil)
		require.Error(t, err)
	})
}
