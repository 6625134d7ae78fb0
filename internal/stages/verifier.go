package stages

import (
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/dispatch"
)

// NoSimulationLog is logged when a verifier run ends without simulating, so
// the next coder iteration still has something to act on.
const NoSimulationLog = "Verification incomplete: the verifier did not run a simulation."

// Verifier writes a testbench and simulates the design.
type Verifier struct {
	baseStage
}

func (v *Verifier) Prepare(state *core.WorkflowState) ([]core.Message, error) {
	return v.prompts.messages("verifier-system", "verifier-task", paramsFor(state))
}

// Merge sets both validity flags from the simulate results of this run
// only, and logs every failing simulation and waveform inspection.
func (v *Verifier) Merge(_ *core.WorkflowState, res *dispatch.Result) core.StateDelta {
	ver := analyzeVerification(res.ToolResults)
	delta := core.StateDelta{
		SyntaxValid:     ptr(ver.compiled),
		FunctionalValid: ptr(ver.functional),
		AppendErrorLogs: ver.errorLogs,
		Messages:        v.conversation(res),
		Usage:           res.Usage,
	}
	if !ver.simulated {
		delta.AppendErrorLogs = append(delta.AppendErrorLogs, NoSimulationLog)
	}
	if tb, ok := (fileTracker{}).last(res.ToolResults, anyFile); ok {
		delta.TestbenchCode = ptr(tb)
	}
	return delta
}
