// Package workflow loads and validates the pipeline definition file.
package workflow

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// EnvArtifact overrides the artifact base name. It feeds both the
	// compiled filename and the published asset filename.
	EnvArtifact = "RELEASEPIPE_ARTIFACT"
	// EnvColor is the cosmetic color-output flag passed through to the
	// build command's environment.
	EnvColor = "RELEASEPIPE_COLOR"
)

const (
	defaultProfileDir = "target/release"
	defaultTagPattern = "v*"
)

// Workflow is the declarative pipeline definition.
type Workflow struct {
	Name string `yaml:"name"`
	// Artifact is the base name shared by the compiled binary, the named
	// build artifact and the published release asset.
	Artifact string `yaml:"artifact"`
	// Lockfile is the dependency lockfile whose content hash keys the cache.
	Lockfile  string        `yaml:"lockfile"`
	Toolchain ToolchainSpec `yaml:"toolchain"`
	Build     BuildSpec     `yaml:"build"`
	Cache     CacheSpec     `yaml:"cache"`
	Release   ReleaseSpec   `yaml:"release"`
}

type ToolchainSpec struct {
	Channel string `yaml:"channel"`
}

type BuildSpec struct {
	Command []string `yaml:"command"`
	// ProfileDir is the build-profile output directory the compiled binary
	// lands in, relative to the working directory.
	ProfileDir string            `yaml:"profile_dir"`
	Env        map[string]string `yaml:"env"`
}

type CacheSpec struct {
	// Paths are the directories restored from and saved to the dependency
	// cache, relative to the working directory.
	Paths []string `yaml:"paths"`
}

type ReleaseSpec struct {
	// TagPattern gates publishing: only tag refs whose tag name matches
	// run the release stage.
	TagPattern string `yaml:"tag_pattern"`
}

// Load reads a workflow file, applies environment overrides from lookup
// (os.LookupEnv in production) and validates the result.
func Load(path string, lookup func(string) (string, bool)) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	w, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", path, err)
	}
	if lookup != nil {
		w.applyEnv(lookup)
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow %s: %w", path, err)
	}
	return w, nil
}

// Parse decodes a workflow definition, rejecting unknown fields.
func Parse(data []byte) (*Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var w Workflow
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (w *Workflow) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvArtifact); ok && v != "" {
		w.Artifact = v
	}
	if v, ok := lookup(EnvColor); ok && v != "" {
		if w.Build.Env == nil {
			w.Build.Env = map[string]string{}
		}
		w.Build.Env[EnvColor] = v
	}
}

func (w *Workflow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("name is required")
	}
	if w.Artifact == "" {
		return fmt.Errorf("artifact base name is required")
	}
	if w.Lockfile == "" {
		return fmt.Errorf("lockfile is required")
	}
	if w.Toolchain.Channel == "" {
		return fmt.Errorf("toolchain channel is required")
	}
	if len(w.Build.Command) == 0 {
		return fmt.Errorf("build command is required")
	}
	if w.Build.ProfileDir == "" {
		w.Build.ProfileDir = defaultProfileDir
	}
	if w.Release.TagPattern == "" {
		w.Release.TagPattern = defaultTagPattern
	}
	return nil
}
