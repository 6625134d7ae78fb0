package core

import "fmt"

// StageName identifies a workflow stage.
type StageName string

const (
	// StageNone is the value of current_stage before any stage has run.
	StageNone StageName = ""

	// StageCoder authors or repairs the RTL source.
	StageCoder StageName = "coder"

	// StageVerifier writes a testbench and runs simulation.
	StageVerifier StageName = "verifier"

	// StageSynthesizer runs logic synthesis on the verified design.
	StageSynthesizer StageName = "synthesizer"

	// StagePPAAnalyst extracts power, performance and area metrics.
	StagePPAAnalyst StageName = "ppa_analyst"

	// StageArchitect is the single stage used in single-agent mode.
	StageArchitect StageName = "architect"
)

// PipelineStages returns the multi-agent stages in execution order.
func PipelineStages() []StageName {
	return []StageName{StageCoder, StageVerifier, StageSynthesizer, StagePPAAnalyst}
}

// ValidStage reports whether s names a known stage.
func ValidStage(s StageName) bool {
	switch s {
	case StageCoder, StageVerifier, StageSynthesizer, StagePPAAnalyst, StageArchitect:
		return true
	default:
		return false
	}
}

// String returns the stage name, or "none" before the first stage.
func (s StageName) String() string {
	if s == StageNone {
		return "none"
	}
	return string(s)
}

// Outcome is the terminal classification of a workflow.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Mode selects the stage set and routing policy.
type Mode string

const (
	// ModeMulti runs the Coder, Verifier, Synthesizer, PPA Analyst pipeline.
	ModeMulti Mode = "multi"

	// ModeSingle runs one Architect stage holding every tool.
	ModeSingle Mode = "single"
)

// ParseMode validates a mode string. Empty selects ModeMulti.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeMulti:
		return ModeMulti, nil
	case ModeSingle:
		return ModeSingle, nil
	default:
		return "", ErrValidation(CodeInvalidMode, fmt.Sprintf("unknown mode %q (want multi or single)", s))
	}
}

// ErrorLogPolicy controls the lifecycle of error_logs across iterations.
type ErrorLogPolicy string

const (
	// ErrorLogAccumulate keeps every diagnostic for the whole run.
	ErrorLogAccumulate ErrorLogPolicy = "accumulate"

	// ErrorLogReset clears diagnostics when a new Coder iteration starts,
	// after the Coder has consumed the latest entry.
	ErrorLogReset ErrorLogPolicy = "reset"
)
