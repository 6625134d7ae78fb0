package stages

import (
	"regexp"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/dispatch"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/tools"
)

var moduleDecl = regexp.MustCompile(`module\s+(\w+)`)

// TopModule guesses the top module from the first module declaration.
func TopModule(source string) string {
	if m := moduleDecl.FindStringSubmatch(source); m != nil {
		return m[1]
	}
	return "unknown"
}

// Synthesizer runs the synthesis flow. Its outcome is informational and
// never gates routing.
type Synthesizer struct {
	baseStage
}

func (s *Synthesizer) Prepare(state *core.WorkflowState) ([]core.Message, error) {
	params := paramsFor(state)
	params.TopModule = TopModule(state.SourceCode)
	return s.prompts.messages("synthesizer-system", "synthesizer-task", params)
}

func (s *Synthesizer) Merge(_ *core.WorkflowState, res *dispatch.Result) core.StateDelta {
	return core.StateDelta{
		SynthesisStatus: synthesisStatus(res.ToolResults),
		Messages:        s.conversation(res),
		Usage:           res.Usage,
	}
}

// synthesisStatus is the status of the last synthesize result, or failed
// when synthesis never ran.
func synthesisStatus(results []core.ToolResult) core.ResultStatus {
	status := core.StatusFailed
	for _, r := range results {
		if r.Name == tools.NameSynthesize {
			status = r.Status
		}
	}
	return status
}
