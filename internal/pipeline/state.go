package pipeline

import "fmt"

// StageState is the lifecycle state of one pipeline stage.
type StageState string

const (
	StagePending   StageState = "PENDING"
	StageRunning   StageState = "RUNNING"
	StageSucceeded StageState = "SUCCEEDED"
	StageFailed    StageState = "FAILED"
	// StageSkipped is a normal terminal state: the stage's gating predicate
	// was false or an upstream stage failed. Never an error by itself.
	StageSkipped StageState = "SKIPPED"
)

const (
	StageBuild   = "build"
	StageRelease = "release"
)

// RunState tracks every stage of one run.
type RunState map[string]StageState

func NewRunState() RunState {
	return RunState{
		StageBuild:   StagePending,
		StageRelease: StagePending,
	}
}

// IsTerminal reports whether the state is final.
func IsTerminal(s StageState) bool {
	switch s {
	case StageSucceeded, StageFailed, StageSkipped:
		return true
	default:
		return false
	}
}

// Transition performs a validated transition for a single stage. The caller
// supplies the expected prior state so invalid sequencing surfaces as an
// error instead of silently corrupting the run record.
func (rs RunState) Transition(stage string, from, to StageState) error {
	cur, ok := rs[stage]
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", stage, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", stage, from, to)
	}
	rs[stage] = to
	return nil
}

func isAllowedTransition(from, to StageState) bool {
	switch from {
	case StagePending:
		return to == StageRunning || to == StageSkipped
	case StageRunning:
		return to == StageSucceeded || to == StageFailed || to == StageSkipped
	default:
		return false
	}
}
