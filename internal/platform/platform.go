// Package platform describes the build platform a pipeline run targets and
// resolves the pinned toolchain that compiles for it.
package platform

import (
	"fmt"
	"runtime"
	"strings"
)

// Platform identifies the operating system and architecture a binary is
// compiled for. Its ID participates in cache keys, so two platforms never
// share dependency cache entries.
type Platform struct {
	OS   string
	Arch string
}

// Host returns the platform the current process runs on.
func Host() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// Parse parses an "os/arch" pair such as "windows/amd64".
func Parse(s string) (Platform, error) {
	osName, arch, ok := strings.Cut(s, "/")
	if !ok || osName == "" || arch == "" {
		return Platform{}, fmt.Errorf("invalid platform %q: expected os/arch", s)
	}
	return Platform{OS: osName, Arch: arch}, nil
}

func (p Platform) Validate() error {
	if p.OS == "" {
		return fmt.Errorf("platform os is required")
	}
	if p.Arch == "" {
		return fmt.Errorf("platform arch is required")
	}
	return nil
}

// ID returns the canonical "os/arch" identifier.
func (p Platform) ID() string {
	return p.OS + "/" + p.Arch
}

// LibExt returns the dynamic library extension for the platform.
func (p Platform) LibExt() string {
	switch p.OS {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}

// LibraryName composes the compiled filename from the artifact base name,
// e.g. "nexus_emotes" on windows -> "nexus_emotes.dll". The same composition
// names the published release asset.
func (p Platform) LibraryName(base string) string {
	return base + p.LibExt()
}
