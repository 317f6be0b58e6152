// Package build implements the build stage: provision the pinned toolchain,
// restore the advisory dependency cache, compile the release binary and
// register it as a named artifact.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nexusaddons/releasepipe/internal/artifact"
	"github.com/nexusaddons/releasepipe/internal/cache"
	"github.com/nexusaddons/releasepipe/internal/metrics"
	"github.com/nexusaddons/releasepipe/internal/platform"
	"github.com/nexusaddons/releasepipe/internal/workflow"
)

// ArtifactUploader registers a verified binary under an artifact name.
type ArtifactUploader interface {
	Upload(name, srcPath string) (*artifact.Artifact, error)
}

// CacheStore restores and saves dependency cache entries. Both directions
// are advisory.
type CacheStore interface {
	Restore(ctx context.Context, key string, paths []string, workdir string) (bool, error)
	Save(ctx context.Context, key string, paths []string, workdir string) error
}

type Config struct {
	Logger      *slog.Logger
	Workflow    *workflow.Workflow
	Platform    platform.Platform
	Provisioner platform.Provisioner
	Artifacts   ArtifactUploader
	WorkDir     string

	// Optional with defaults.
	Cache  CacheStore // nil disables caching
	Runner CommandRunner
	Clock  clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Workflow == nil {
		return errors.New("workflow is required")
	}
	if err := c.Platform.Validate(); err != nil {
		return err
	}
	if c.Provisioner == nil {
		return errors.New("toolchain provisioner is required")
	}
	if c.Artifacts == nil {
		return errors.New("artifact uploader is required")
	}
	if c.WorkDir == "" {
		return errors.New("work directory is required")
	}
	if c.Runner == nil {
		c.Runner = &ExecRunner{}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Result is the build stage's contribution to the run record.
type Result struct {
	ArtifactName string
	BinaryPath   string
	CacheKey     string
	CacheHit     bool
	Duration     time.Duration
}

type Stage struct {
	log *slog.Logger
	cfg *Config
}

func New(cfg *Config) (*Stage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate build config: %w", err)
	}
	return &Stage{log: cfg.Logger, cfg: cfg}, nil
}

// Run executes the build stage. Any toolchain or compile failure is fatal and
// leaves no artifact behind; cache failures only degrade to a cold build.
func (s *Stage) Run(ctx context.Context) (*Result, error) {
	start := s.cfg.Clock.Now()
	res, err := s.run(ctx)
	elapsed := s.cfg.Clock.Since(start)
	metrics.StageDuration.WithLabelValues("build").Observe(elapsed.Seconds())
	if err != nil {
		metrics.BuildsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.BuildsTotal.WithLabelValues("success").Inc()
	res.Duration = elapsed
	return res, nil
}

func (s *Stage) run(ctx context.Context) (*Result, error) {
	wf := s.cfg.Workflow

	tc, err := s.cfg.Provisioner.Provision(ctx, wf.Toolchain.Channel)
	if err != nil {
		return nil, fmt.Errorf("failed to provision toolchain: %w", err)
	}
	s.log.Info("toolchain provisioned", "channel", tc.Channel, "binDir", tc.BinDir)

	key, err := cache.KeyFromFile(lockfilePath(s.cfg.WorkDir, wf.Lockfile), s.cfg.Platform.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to derive cache key: %w", err)
	}

	hit := false
	if s.cfg.Cache != nil && len(wf.Cache.Paths) > 0 {
		hit, err = s.cfg.Cache.Restore(ctx, key, wf.Cache.Paths, s.cfg.WorkDir)
		if err != nil {
			// Advisory: a broken cache must not fail the build.
			s.log.Warn("cache restore failed, continuing cold", "key", key, "error", err)
			metrics.CacheOutcomes.WithLabelValues("error").Inc()
			hit = false
		} else if hit {
			metrics.CacheOutcomes.WithLabelValues("hit").Inc()
		} else {
			metrics.CacheOutcomes.WithLabelValues("miss").Inc()
		}
		s.log.Info("cache restore finished", "key", key, "hit", hit)
	}

	if err := s.compile(ctx, tc); err != nil {
		return nil, err
	}

	binaryPath, err := s.verifyOutput()
	if err != nil {
		return nil, err
	}

	art, err := s.cfg.Artifacts.Upload(wf.Artifact, binaryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to upload artifact: %w", err)
	}
	metrics.ArtifactsUploaded.Inc()
	metrics.ArtifactBytes.Add(float64(art.Size))

	if s.cfg.Cache != nil && len(wf.Cache.Paths) > 0 && !hit {
		if err := s.cfg.Cache.Save(ctx, key, wf.Cache.Paths, s.cfg.WorkDir); err != nil {
			s.log.Warn("cache save failed", "key", key, "error", err)
			metrics.CacheSaveErrs.Inc()
		}
	}

	return &Result{
		ArtifactName: art.Name,
		BinaryPath:   binaryPath,
		CacheKey:     key,
		CacheHit:     hit,
	}, nil
}
