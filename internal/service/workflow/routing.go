package workflow

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

// Decision is the routing outcome after a stage: either the next stage to
// run or a terminal outcome.
type Decision struct {
	Next    core.StageName
	Outcome core.Outcome
	// Retry is set when the next stage starts a new design iteration.
	Retry bool
}

// Terminal reports whether the decision ends the workflow.
func (d Decision) Terminal() bool {
	return d.Outcome != core.OutcomeNone
}

// Route decides what follows the state's current stage. It reads the state
// and never changes it.
func Route(state *core.WorkflowState) (Decision, error) {
	if state.IsTerminal() {
		return Decision{Outcome: state.Outcome}, nil
	}
	switch state.Mode {
	case core.ModeSingle:
		return routeSingle(state)
	case core.ModeMulti, "":
		return routeMulti(state)
	default:
		return Decision{}, core.ErrState(core.CodeInvalidMode, fmt.Sprintf("unknown mode %q", state.Mode))
	}
}

func routeMulti(state *core.WorkflowState) (Decision, error) {
	switch state.CurrentStage {
	case core.StageNone:
		return Decision{Next: core.StageCoder}, nil
	case core.StageCoder:
		return Decision{Next: core.StageVerifier}, nil
	case core.StageVerifier:
		if state.FunctionalValid {
			return Decision{Next: core.StageSynthesizer}, nil
		}
		return retryOrFail(state, core.StageCoder), nil
	case core.StageSynthesizer:
		return Decision{Next: core.StagePPAAnalyst}, nil
	case core.StagePPAAnalyst:
		return Decision{Outcome: core.OutcomeSuccess}, nil
	default:
		return Decision{}, core.ErrState(core.CodeUnknownStage,
			fmt.Sprintf("stage %s does not belong to %s mode", state.CurrentStage, core.ModeMulti))
	}
}

func routeSingle(state *core.WorkflowState) (Decision, error) {
	switch state.CurrentStage {
	case core.StageNone:
		return Decision{Next: core.StageArchitect}, nil
	case core.StageArchitect:
		if state.FunctionalValid {
			return Decision{Outcome: core.OutcomeSuccess}, nil
		}
		return retryOrFail(state, core.StageArchitect), nil
	default:
		return Decision{}, core.ErrState(core.CodeUnknownStage,
			fmt.Sprintf("stage %s does not belong to %s mode", state.CurrentStage, core.ModeSingle))
	}
}

// retryOrFail sends the design back for another iteration while the budget
// allows it, so iteration_count never exceeds max_iterations.
func retryOrFail(state *core.WorkflowState, next core.StageName) Decision {
	if state.IterationCount+1 <= state.MaxIterations {
		return Decision{Next: next, Retry: true}
	}
	return Decision{Outcome: core.OutcomeFailure}
}

// MaxStageRuns bounds the stage executions of one workflow.
func MaxStageRuns(maxIterations int) int {
	return 2*(maxIterations+1) + 2
}
