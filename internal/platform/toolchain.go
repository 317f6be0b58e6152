package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrToolchainUnavailable indicates the pinned channel could not be resolved
// to an installed toolchain. This is fatal for a build.
var ErrToolchainUnavailable = errors.New("toolchain unavailable")

// Toolchain is a resolved, pinned compiler installation.
type Toolchain struct {
	// Channel is the selector the workflow pinned, e.g. "stable-1.78".
	Channel string
	// BinDir is the directory holding the toolchain executables. It is
	// prepended to PATH for the build command.
	BinDir string
}

// Provisioner resolves a toolchain channel selector to an installation.
type Provisioner interface {
	Provision(ctx context.Context, channel string) (Toolchain, error)
}

// DirProvisioner resolves channels under a root directory laid out as
// <root>/<channel>/bin, the layout toolchain installers produce.
type DirProvisioner struct {
	Root string
}

func (p DirProvisioner) Provision(_ context.Context, channel string) (Toolchain, error) {
	if channel == "" {
		return Toolchain{}, fmt.Errorf("%w: empty channel", ErrToolchainUnavailable)
	}
	if p.Root == "" {
		return Toolchain{}, fmt.Errorf("%w: toolchain root not configured", ErrToolchainUnavailable)
	}
	binDir := filepath.Join(p.Root, channel, "bin")
	info, err := os.Stat(binDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Toolchain{}, fmt.Errorf("%w: channel %q not installed under %s", ErrToolchainUnavailable, channel, p.Root)
		}
		return Toolchain{}, fmt.Errorf("stat toolchain dir: %w", err)
	}
	if !info.IsDir() {
		return Toolchain{}, fmt.Errorf("%w: %s is not a directory", ErrToolchainUnavailable, binDir)
	}
	return Toolchain{Channel: channel, BinDir: binDir}, nil
}

// HostProvisioner assumes the toolchain is already on PATH, the common case
// on pre-provisioned build hosts. The channel is accepted as-is.
type HostProvisioner struct{}

func (HostProvisioner) Provision(_ context.Context, channel string) (Toolchain, error) {
	if channel == "" {
		return Toolchain{}, fmt.Errorf("%w: empty channel", ErrToolchainUnavailable)
	}
	return Toolchain{Channel: channel}, nil
}
