// Package release implements the release stage: gated on the triggering
// event being a tag push, it downloads the named build artifact and publishes
// it as a release asset attached to the tag.
package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nexusaddons/releasepipe/internal/metrics"
	"github.com/nexusaddons/releasepipe/internal/trigger"
)

// ArtifactDownloader retrieves a registered artifact by exact name.
type ArtifactDownloader interface {
	Download(name, dstDir string) (string, error)
}

type Config struct {
	Logger    *slog.Logger
	Gate      trigger.Gate
	Artifacts ArtifactDownloader
	Publisher Publisher

	// Optional with defaults.
	Clock clockwork.Clock
	// StagingDir is where the artifact is downloaded before publishing.
	// Defaults to a temp directory per run.
	StagingDir string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Artifacts == nil {
		return errors.New("artifact downloader is required")
	}
	if c.Publisher == nil {
		return errors.New("publisher is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Result records what the release stage did. Skipped is a normal outcome,
// not a failure.
type Result struct {
	Skipped   bool
	Tag       string
	AssetName string
	Duration  time.Duration
}

type Stage struct {
	log *slog.Logger
	cfg *Config
}

func New(cfg *Config) (*Stage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate release config: %w", err)
	}
	return &Stage{log: cfg.Logger, cfg: cfg}, nil
}

// Run evaluates the gate and publishes the artifact registered under
// artifactName. A false gate skips the stage entirely; a missing artifact or
// a publish failure is fatal.
func (s *Stage) Run(ctx context.Context, trig trigger.Trigger, artifactName string) (*Result, error) {
	start := s.cfg.Clock.Now()
	res, err := s.run(ctx, trig, artifactName)
	elapsed := s.cfg.Clock.Since(start)
	metrics.StageDuration.WithLabelValues("release").Observe(elapsed.Seconds())
	if err != nil {
		return nil, err
	}
	res.Duration = elapsed
	return res, nil
}

func (s *Stage) run(ctx context.Context, trig trigger.Trigger, artifactName string) (*Result, error) {
	tag, ok, err := s.cfg.Gate.Allows(trig)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate release gate: %w", err)
	}
	if !ok {
		s.log.Info("release gate closed, skipping", "event", trig.Event, "ref", trig.Ref)
		metrics.ReleasesSkipped.Inc()
		return &Result{Skipped: true}, nil
	}

	staging := s.cfg.StagingDir
	if staging == "" {
		staging, err = os.MkdirTemp("", "releasepipe-staging-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create staging directory: %w", err)
		}
		defer os.RemoveAll(staging)
	}

	assetPath, err := s.cfg.Artifacts.Download(artifactName, staging)
	if err != nil {
		return nil, fmt.Errorf("failed to locate artifact %q: %w", artifactName, err)
	}

	f, err := os.Open(assetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat asset: %w", err)
	}
	assetName := info.Name()

	if err := s.cfg.Publisher.Publish(ctx, tag, assetName, f); err != nil {
		return nil, err
	}
	metrics.ReleasesPublished.Inc()
	s.log.Info("release published", "tag", tag, "asset", assetName, "size", info.Size())

	return &Result{Tag: tag, AssetName: assetName}, nil
}
