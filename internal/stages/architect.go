package stages

import (
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/dispatch"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/tools"
)

// Architect is the single-agent mode: one stage with every tool that
// designs, verifies, synthesizes and analyzes on its own.
type Architect struct {
	baseStage
	ws     *tools.Workspace
	policy core.ErrorLogPolicy
}

func (a *Architect) Prepare(state *core.WorkflowState) ([]core.Message, error) {
	return a.prompts.messages("architect-system", "architect-task", paramsFor(state))
}

// Merge applies the coder rules to design files, the verifier rules to
// testbenches and simulations, and the synthesis and metrics rules to the
// rest of the run.
func (a *Architect) Merge(_ *core.WorkflowState, res *dispatch.Result) core.StateDelta {
	ver := analyzeVerification(res.ToolResults)
	delta := core.StateDelta{
		SyntaxValid:     ptr(ver.compiled),
		FunctionalValid: ptr(ver.functional),
		ResetErrorLogs:  a.policy == core.ErrorLogReset,
		AppendErrorLogs: ver.errorLogs,
		PPAMetrics:      lastMetrics(res.ToolResults),
		Messages:        a.conversation(res),
		Usage:           res.Usage,
	}
	if !ver.simulated {
		delta.AppendErrorLogs = append(delta.AppendErrorLogs, NoSimulationLog)
	}

	tracker := fileTracker{ws: a.ws}
	if code, ok := tracker.last(res.ToolResults, isDesignFile); ok {
		delta.SourceCode = ptr(code)
	}
	if tb, ok := tracker.last(res.ToolResults, IsTestbench); ok {
		delta.TestbenchCode = ptr(tb)
	}
	for _, r := range res.ToolResults {
		if r.Name == tools.NameSynthesize {
			delta.SynthesisStatus = r.Status
		}
	}
	return delta
}
