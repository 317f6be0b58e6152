package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/nexusaddons/releasepipe/internal/platform"
)

// CommandRunner executes the workflow's build command.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, dir string, env []string) error
}

// ExecRunner runs the command as a subprocess, streaming its output.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (r *ExecRunner) Run(ctx context.Context, argv []string, dir string, env []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty build command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build command %q failed: %w", argv[0], err)
	}
	return nil
}

func (s *Stage) compile(ctx context.Context, tc platform.Toolchain) error {
	env := buildEnv(os.Environ(), tc, s.cfg.Workflow.Build.Env)
	s.log.Info("compiling", "command", s.cfg.Workflow.Build.Command, "workDir", s.cfg.WorkDir)
	if err := s.cfg.Runner.Run(ctx, s.cfg.Workflow.Build.Command, s.cfg.WorkDir, env); err != nil {
		return err
	}
	return nil
}

// verifyOutput checks the compiled binary landed at the fixed relative path
// <profile_dir>/<artifact base><platform ext>. The artifact is only uploaded
// after this, so a compiler that exits zero without producing output still
// fails the stage with nothing published.
func (s *Stage) verifyOutput() (string, error) {
	name := s.cfg.Platform.LibraryName(s.cfg.Workflow.Artifact)
	path := filepath.Join(s.cfg.WorkDir, filepath.FromSlash(s.cfg.Workflow.Build.ProfileDir), name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("compiled binary missing at %s", path)
		}
		return "", fmt.Errorf("failed to stat compiled binary: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("expected file at %s, found directory", path)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("compiled binary at %s is empty", path)
	}
	return path, nil
}

// buildEnv layers the workflow's build env over the process environment and
// prepends the toolchain bin dir to PATH when one was resolved.
func buildEnv(base []string, tc platform.Toolchain, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra)+1)
	env = append(env, base...)

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}

	if tc.BinDir != "" {
		env = append(env, "PATH="+tc.BinDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
	return env
}

func lockfilePath(workdir, lockfile string) string {
	if filepath.IsAbs(lockfile) {
		return lockfile
	}
	return filepath.Join(workdir, filepath.FromSlash(lockfile))
}
