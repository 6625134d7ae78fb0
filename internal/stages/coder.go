package stages

import (
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/dispatch"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/tools"
)

// Coder writes or fixes the RTL. It runs in generate mode until the
// verifier has logged an error, then in fix mode on the latest entry.
type Coder struct {
	baseStage
	ws     *tools.Workspace
	policy core.ErrorLogPolicy
}

func (c *Coder) Prepare(state *core.WorkflowState) ([]core.Message, error) {
	params := paramsFor(state)
	if params.LatestError != "" {
		return c.prompts.messages("coder-system", "coder-fix", params)
	}
	return c.prompts.messages("coder-system", "coder-generate", params)
}

// Merge records the last written design. syntax_valid belongs to the
// verifier and is left alone.
func (c *Coder) Merge(_ *core.WorkflowState, res *dispatch.Result) core.StateDelta {
	delta := core.StateDelta{
		Messages:       c.conversation(res),
		Usage:          res.Usage,
		ResetErrorLogs: c.policy == core.ErrorLogReset,
	}
	if code, ok := (fileTracker{ws: c.ws}).last(res.ToolResults, anyFile); ok {
		delta.SourceCode = ptr(code)
	}
	return delta
}
