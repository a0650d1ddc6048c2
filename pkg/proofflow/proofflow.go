package proofflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decision-zk/decisiond/pkg/utils"
)

// Stage is one step of the submission pipeline. The flow is strictly
// forward: Idle → Generating → Signing → Broadcasting → Success | Error.
type Stage string

const (
	StageIdle         Stage = "Idle"
	StageGenerating   Stage = "Generating"
	StageSigning      Stage = "Signing"
	StageBroadcasting Stage = "Broadcasting"
	StageSuccess      Stage = "Success"
	StageError        Stage = "Error"
)

// next lists the legal transitions out of each stage.
var next = map[Stage][]Stage{
	StageIdle:         {StageGenerating},
	StageGenerating:   {StageSigning, StageError},
	StageSigning:      {StageBroadcasting, StageError},
	StageBroadcasting: {StageSuccess, StageError},
}

// demoPacing is the fixed per-stage delay inserted in demo mode, purely for
// presentation. It carries no correctness semantics.
const demoPacing = 2 * time.Second

// Observer receives every stage the flow passes through.
type Observer func(stage Stage, detail string)

// Flow tracks one submission through its stages. Stages advance on actual
// operation completion; in demo mode (DEMO_MODE env) the original pacing
// delays are inserted before Signing and before Success.
type Flow struct {
	mu       sync.Mutex
	stage    Stage
	observer Observer
	demo     bool
	pacing   time.Duration
}

// New returns a flow at Idle, reading DEMO_MODE from the environment.
func New(observer Observer) *Flow {
	return &Flow{
		stage:    StageIdle,
		observer: observer,
		demo:     utils.EnvBool("DEMO_MODE", false),
		pacing:   demoPacing,
	}
}

// Stage returns the current stage.
func (f *Flow) Stage() Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stage
}

// Advance moves the flow to the given stage, applying demo pacing where the
// original flow paused. Illegal transitions (including anything out of a
// terminal stage) return an error and leave the flow unchanged.
func (f *Flow) Advance(ctx context.Context, to Stage, detail string) error {
	f.mu.Lock()
	from := f.stage
	allowed := false
	for _, s := range next[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		f.mu.Unlock()
		return fmt.Errorf("illegal stage transition %s -> %s", from, to)
	}
	f.mu.Unlock()

	if f.demo && (to == StageSigning || to == StageSuccess) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.pacing):
		}
	}

	f.mu.Lock()
	// Re-check: a concurrent Fail may have won during the pacing delay.
	if f.stage != from {
		f.mu.Unlock()
		return fmt.Errorf("stage moved to %s during transition to %s", f.stage, to)
	}
	f.stage = to
	f.mu.Unlock()

	if f.observer != nil {
		f.observer(to, detail)
	}
	return nil
}

// Fail drives the flow to Error from any non-terminal stage.
func (f *Flow) Fail(detail string) {
	f.mu.Lock()
	if f.stage == StageSuccess || f.stage == StageError {
		f.mu.Unlock()
		return
	}
	f.stage = StageError
	f.mu.Unlock()

	if f.observer != nil {
		f.observer(StageError, detail)
	}
}

// Terminal reports whether the flow has finished, either way.
func (f *Flow) Terminal() bool {
	s := f.Stage()
	return s == StageSuccess || s == StageError
}
