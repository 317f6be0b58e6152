// Package pipeline sequences the build and release stages of one run. The
// control flow is strictly linear with a single dependency edge: release
// depends on build.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nexusaddons/releasepipe/internal/build"
	"github.com/nexusaddons/releasepipe/internal/metrics"
	"github.com/nexusaddons/releasepipe/internal/release"
	"github.com/nexusaddons/releasepipe/internal/trigger"
)

// BuildStage produces the named artifact.
type BuildStage interface {
	Run(ctx context.Context) (*build.Result, error)
}

// ReleaseStage publishes the named artifact when the trigger permits it.
type ReleaseStage interface {
	Run(ctx context.Context, trig trigger.Trigger, artifactName string) (*release.Result, error)
}

type Config struct {
	Logger  *slog.Logger
	Build   BuildStage
	Release ReleaseStage

	// Optional with defaults.
	Clock clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Build == nil {
		return errors.New("build stage is required")
	}
	if c.Release == nil {
		return errors.New("release stage is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Status is the terminal status of a whole run.
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// RunResult is the record of one pipeline run. Nothing about a run persists
// beyond it except the advisory cache.
type RunResult struct {
	Status     Status
	States     RunState
	Build      *build.Result
	Release    *release.Result
	StartedAt  time.Time
	FinishedAt time.Time
}

type Pipeline struct {
	log *slog.Logger
	cfg *Config
}

func New(cfg *Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate pipeline config: %w", err)
	}
	return &Pipeline{log: cfg.Logger, cfg: cfg}, nil
}

// Run executes one pipeline run for the trigger. The returned RunResult is
// populated even when the run fails; the error carries the cause.
func (p *Pipeline) Run(ctx context.Context, trig trigger.Trigger) (*RunResult, error) {
	if err := trig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trigger: %w", err)
	}

	res := &RunResult{
		States:    NewRunState(),
		StartedAt: p.cfg.Clock.Now().UTC(),
	}
	err := p.run(ctx, trig, res)
	res.FinishedAt = p.cfg.Clock.Now().UTC()
	if err != nil {
		res.Status = StatusFailed
		metrics.RunsTotal.WithLabelValues("failure").Inc()
		p.log.Error("pipeline run failed", "event", trig.Event, "ref", trig.Ref, "error", err)
		return res, err
	}
	res.Status = StatusSucceeded
	metrics.RunsTotal.WithLabelValues("success").Inc()
	p.log.Info("pipeline run succeeded",
		"event", trig.Event,
		"ref", trig.Ref,
		"published", res.Release != nil && !res.Release.Skipped,
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, trig trigger.Trigger, res *RunResult) error {
	if err := res.States.Transition(StageBuild, StagePending, StageRunning); err != nil {
		return err
	}
	buildRes, err := p.cfg.Build.Run(ctx)
	if err != nil {
		if terr := res.States.Transition(StageBuild, StageRunning, StageFailed); terr != nil {
			return terr
		}
		// The dependency edge: a failed build skips release outright.
		if terr := res.States.Transition(StageRelease, StagePending, StageSkipped); terr != nil {
			return terr
		}
		return fmt.Errorf("build stage failed: %w", err)
	}
	if err := res.States.Transition(StageBuild, StageRunning, StageSucceeded); err != nil {
		return err
	}
	res.Build = buildRes

	if err := res.States.Transition(StageRelease, StagePending, StageRunning); err != nil {
		return err
	}
	relRes, err := p.cfg.Release.Run(ctx, trig, buildRes.ArtifactName)
	if err != nil {
		if terr := res.States.Transition(StageRelease, StageRunning, StageFailed); terr != nil {
			return terr
		}
		return fmt.Errorf("release stage failed: %w", err)
	}
	res.Release = relRes

	to := StageSucceeded
	if relRes.Skipped {
		to = StageSkipped
	}
	return res.States.Transition(StageRelease, StageRunning, to)
}
