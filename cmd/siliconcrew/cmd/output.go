package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

var (
	successStyle = outcomeStyle("10")
	failureStyle = outcomeStyle("9")
	runningStyle = outcomeStyle("11")
	labelStyle   = lipgloss.NewStyle().Faint(true)
	stageStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
)

func outcomeStyle(color string) lipgloss.Style {
	c := lipgloss.Color(color)
	return lipgloss.NewStyle().Bold(true).Foreground(c).
		Border(lipgloss.RoundedBorder()).BorderForeground(c).Padding(0, 1)
}

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func validFormat(f string) error {
	switch f {
	case formatText, formatJSON, formatYAML:
		return nil
	default:
		return core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("unknown format %q (want text, json or yaml)", f))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// writeStructured encodes v as json or yaml.
func writeStructured(w io.Writer, format string, v any) error {
	if format == formatYAML {
		return writeYAML(w, v)
	}
	return writeJSON(w, v)
}

// statusView is the machine-readable status of one session.
type statusView struct {
	SessionID       string         `json:"session_id" yaml:"session_id"`
	Mode            core.Mode      `json:"mode" yaml:"mode"`
	CurrentStage    string         `json:"current_stage" yaml:"current_stage"`
	Outcome         string         `json:"outcome" yaml:"outcome"`
	IterationCount  int            `json:"iteration_count" yaml:"iteration_count"`
	MaxIterations   int            `json:"max_iterations" yaml:"max_iterations"`
	SyntaxValid     bool           `json:"syntax_valid" yaml:"syntax_valid"`
	FunctionalValid bool           `json:"functional_valid" yaml:"functional_valid"`
	SynthesisStatus string         `json:"synthesis_status,omitempty" yaml:"synthesis_status,omitempty"`
	PPAMetrics      map[string]any `json:"ppa_metrics" yaml:"ppa_metrics"`
	ErrorLogs       int            `json:"error_logs" yaml:"error_logs"`
	LatestError     string         `json:"latest_error,omitempty" yaml:"latest_error,omitempty"`
	StageRuns       int            `json:"stage_runs" yaml:"stage_runs"`
	Usage           usageView      `json:"usage" yaml:"usage"`
	Cost            *float64       `json:"total_cost,omitempty" yaml:"total_cost,omitempty"`
	Model           string         `json:"model,omitempty" yaml:"model,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at" yaml:"updated_at"`
}

func newStatusView(st *core.WorkflowState, meta *core.SessionMetadata) statusView {
	v := statusView{
		SessionID:       st.SessionID,
		Mode:            st.Mode,
		CurrentStage:    st.CurrentStage.String(),
		Outcome:         outcomeLabel(st.Outcome),
		IterationCount:  st.IterationCount,
		MaxIterations:   st.MaxIterations,
		SyntaxValid:     st.SyntaxValid,
		FunctionalValid: st.FunctionalValid,
		SynthesisStatus: string(st.SynthesisStatus),
		PPAMetrics:      metricsView(st.PPAMetrics),
		ErrorLogs:       len(st.ErrorLogs),
		LatestError:     st.LatestErrorLog(),
		StageRuns:       st.StageRuns,
		Usage:           usageView(st.Usage),
		UpdatedAt:       st.UpdatedAt,
	}
	if meta != nil {
		cost := meta.TotalCost
		v.Cost = &cost
		v.Model = meta.ModelName
	}
	return v
}

type usageView struct {
	InputTokens  int64 `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int64 `json:"output_tokens" yaml:"output_tokens"`
	CachedTokens int64 `json:"cached_tokens" yaml:"cached_tokens"`
	TotalTokens  int64 `json:"total_tokens" yaml:"total_tokens"`
}

// metricsView keeps absent metrics as explicit nulls.
func metricsView(m core.Metrics) map[string]any {
	out := make(map[string]any, len(core.MetricKeys()))
	for _, k := range core.MetricKeys() {
		if v := m[k]; v != nil {
			out[k] = *v
		} else {
			out[k] = nil
		}
	}
	return out
}

func outcomeLabel(o core.Outcome) string {
	if o == core.OutcomeNone {
		return "running"
	}
	return string(o)
}

// banner renders the outcome headline.
func banner(st *core.WorkflowState) string {
	var text string
	style := runningStyle
	switch st.Outcome {
	case core.OutcomeSuccess:
		text = fmt.Sprintf("SUCCESS  %s verified after %d iteration(s)", st.SessionID, st.IterationCount+1)
		style = successStyle
	case core.OutcomeFailure:
		text = fmt.Sprintf("FAILURE  %s still failing after %d of %d iterations", st.SessionID, st.IterationCount, st.MaxIterations)
		style = failureStyle
	default:
		text = fmt.Sprintf("RUNNING  %s at %s", st.SessionID, st.CurrentStage)
	}
	if noColor {
		return text
	}
	return style.Render(text)
}

// renderStatus prints the human-readable status of a session.
func renderStatus(w io.Writer, st *core.WorkflowState, meta *core.SessionMetadata) {
	v := newStatusView(st, meta)
	fmt.Fprintln(w, banner(st))

	row := func(label, value string) {
		if !noColor {
			label = labelStyle.Render(label)
		}
		fmt.Fprintf(w, "%s %s\n", label, value)
	}
	row("Mode:      ", string(v.Mode))
	row("Stage:     ", v.CurrentStage)
	row("Iteration: ", fmt.Sprintf("%d / %d", v.IterationCount, v.MaxIterations))
	row("Syntax:    ", passFail(v.SyntaxValid))
	row("Functional:", passFail(v.FunctionalValid))
	if v.SynthesisStatus != "" {
		row("Synthesis: ", v.SynthesisStatus)
	}
	row("Metrics:   ", formatMetrics(st.PPAMetrics))
	tokens := fmt.Sprintf("%d in / %d out / %d cached / %d total",
		v.Usage.InputTokens, v.Usage.OutputTokens, v.Usage.CachedTokens, v.Usage.TotalTokens)
	if v.Cost != nil {
		tokens += fmt.Sprintf("  ($%.4f, %s)", *v.Cost, v.Model)
	}
	row("Tokens:    ", tokens)
	if v.LatestError != "" {
		row("Last error:", firstLine(v.LatestError, 120))
	}
	row("Updated:   ", v.UpdatedAt.Local().Format(time.DateTime))
}

func passFail(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

func formatMetrics(m core.Metrics) string {
	if !m.HasValues() {
		return "-"
	}
	parts := make([]string, 0, len(m))
	for _, k := range core.MetricKeys() {
		if v := m[k]; v != nil {
			parts = append(parts, k+"="+strconv.FormatFloat(*v, 'f', -1, 64))
		}
	}
	return strings.Join(parts, "  ")
}

func firstLine(s string, limit int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

// progressObserver prints one line per stage to w.
type progressObserver struct {
	w io.Writer
}

func (p progressObserver) StageStarted(st *core.WorkflowState, stage core.StageName) {
	name := stage.String()
	if !noColor {
		name = stageStyle.Render(name)
	}
	fmt.Fprintf(p.w, "%s  %s  iteration %d/%d\n", st.SessionID, name, st.IterationCount, st.MaxIterations)
}

func (p progressObserver) StageCompleted(st *core.WorkflowState, stage core.StageName, d time.Duration) {
	fmt.Fprintf(p.w, "%s  %s done in %s\n", st.SessionID, stage, d.Round(time.Millisecond))
}

func (p progressObserver) WorkflowFinished(*core.WorkflowState) {}
