package stages

import (
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/dispatch"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/tools"
)

// PPAAnalyst extracts power, performance and area metrics.
type PPAAnalyst struct {
	baseStage
}

func (p *PPAAnalyst) Prepare(state *core.WorkflowState) ([]core.Message, error) {
	return p.prompts.messages("ppa-system", "ppa-task", paramsFor(state))
}

// Merge replaces ppa_metrics with the last parseable metrics result. When
// none parsed the metrics stay as they were.
func (p *PPAAnalyst) Merge(_ *core.WorkflowState, res *dispatch.Result) core.StateDelta {
	return core.StateDelta{
		PPAMetrics: lastMetrics(res.ToolResults),
		Messages:   p.conversation(res),
		Usage:      res.Usage,
	}
}

func lastMetrics(results []core.ToolResult) core.Metrics {
	var metrics core.Metrics
	for _, r := range results {
		if r.Name != tools.NameGetMetrics {
			continue
		}
		if m := tools.MetricsFromResult(r); m != nil {
			metrics = m
		}
	}
	return metrics
}
