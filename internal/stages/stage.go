// Package stages implements the agent nodes of the design workflow. Each
// stage prepares its conversation from the shared state, names the tools it
// may use and folds the loop result back into a state delta.
package stages

import (
	"fmt"
	"path"
	"strings"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/config"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/dispatch"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/tools"
)

// Stage is one agent node.
type Stage interface {
	Name() core.StageName
	TurnLimit() int
	Prepare(state *core.WorkflowState) ([]core.Message, error)
	Tools(state *core.WorkflowState) dispatch.ToolExecutor
	Merge(state *core.WorkflowState, res *dispatch.Result) core.StateDelta
}

// Options configures stage construction.
type Options struct {
	TurnLimits     config.TurnLimitsConfig
	ErrorLogPolicy core.ErrorLogPolicy
	// Prompts defaults to the embedded prompt set.
	Prompts *PromptRenderer
}

// DefaultTurnLimits mirrors the configuration defaults.
func DefaultTurnLimits() config.TurnLimitsConfig {
	return config.TurnLimitsConfig{Coder: 10, Verifier: 5, Synthesizer: 3, PPAAnalyst: 3, Architect: 50}
}

// Set holds every stage bound to one session workspace.
type Set map[core.StageName]Stage

// NewSet builds all stages. Registries are resolved here, once per session.
func NewSet(box *tools.Toolbox, opts Options) (Set, error) {
	if opts.Prompts == nil {
		p, err := DefaultPrompts()
		if err != nil {
			return nil, err
		}
		opts.Prompts = p
	}
	if opts.ErrorLogPolicy == "" {
		opts.ErrorLogPolicy = core.ErrorLogAccumulate
	}
	limits := opts.TurnLimits
	defaults := DefaultTurnLimits()
	limit := func(stage core.StageName) int {
		if n := limits.For(stage); n > 0 {
			return n
		}
		return defaults.For(stage)
	}

	base := func(name core.StageName, label string, reg *tools.Registry) baseStage {
		return baseStage{name: name, label: label, turnLimit: limit(name), registry: reg, prompts: opts.Prompts}
	}
	return Set{
		core.StageCoder:       &Coder{baseStage: base(core.StageCoder, "RTL Coder", box.Coder()), ws: box.Workspace(), policy: opts.ErrorLogPolicy},
		core.StageVerifier:    &Verifier{baseStage: base(core.StageVerifier, "Verifier", box.Verifier())},
		core.StageSynthesizer: &Synthesizer{baseStage: base(core.StageSynthesizer, "Synthesis Agent", box.Synthesizer())},
		core.StagePPAAnalyst:  &PPAAnalyst{baseStage: base(core.StagePPAAnalyst, "PPA Analyst", box.PPAAnalyst())},
		core.StageArchitect:   &Architect{baseStage: base(core.StageArchitect, "Architect", box.Architect()), ws: box.Workspace(), policy: opts.ErrorLogPolicy},
	}, nil
}

// Get returns a stage or an error naming the unknown stage.
func (s Set) Get(name core.StageName) (Stage, error) {
	st, ok := s[name]
	if !ok {
		return nil, core.ErrExecution(core.CodeUnknownStage, fmt.Sprintf("no stage registered for %s", name))
	}
	return st, nil
}

// baseStage carries what every stage shares.
type baseStage struct {
	name      core.StageName
	label     string
	turnLimit int
	registry  *tools.Registry
	prompts   *PromptRenderer
}

func (b *baseStage) Name() core.StageName { return b.name }

func (b *baseStage) TurnLimit() int { return b.turnLimit }

func (b *baseStage) Tools(*core.WorkflowState) dispatch.ToolExecutor { return b.registry }

// conversation returns the run transcript tagged with the stage, followed by
// one summary message. The final text answer is folded into the summary.
func (b *baseStage) conversation(res *dispatch.Result) []core.Message {
	transcript := res.Transcript()
	if n := len(transcript); n > 0 && !res.TurnLimitReached && !transcript[n-1].HasToolRequests() {
		transcript = transcript[:n-1]
	}
	out := make([]core.Message, 0, len(transcript)+1)
	for _, m := range transcript {
		m.Stage = b.name
		out = append(out, m)
	}

	content := strings.TrimSpace(res.Final.Content)
	if res.TurnLimitReached {
		note := fmt.Sprintf("(stopped after reaching the limit of %d turns)", b.turnLimit)
		if content == "" {
			content = note
		} else {
			content += " " + note
		}
	}
	summary := core.AssistantMessage(fmt.Sprintf("**%s**: %s", b.label, content))
	summary.Stage = b.name
	return append(out, summary)
}

// fileTracker follows the content of files written or edited during a run.
type fileTracker struct {
	ws *tools.Workspace
}

// last returns the content of the last successful write or edit to a file
// accepted by keep. Edits are reconciled by re-reading the file.
func (f fileTracker) last(results []core.ToolResult, keep func(name string) bool) (string, bool) {
	var content string
	found := false
	for _, r := range results {
		if !r.OK() {
			continue
		}
		name := r.Request.StringArg("filename")
		if !keep(name) {
			continue
		}
		switch r.Name {
		case tools.NameWriteFile:
			content, found = r.Request.StringArg("content"), true
		case tools.NameEditFile:
			if f.ws == nil {
				continue
			}
			data, err := f.ws.ReadFile(name)
			if err != nil {
				continue
			}
			content, found = string(data), true
		}
	}
	return content, found
}

func anyFile(string) bool { return true }

// IsTestbench reports whether a file name looks like a testbench.
func IsTestbench(name string) bool {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.HasPrefix(base, "tb") ||
		strings.HasSuffix(base, "_tb") ||
		strings.HasPrefix(base, "test") ||
		strings.Contains(base, "testbench")
}

func isDesignFile(name string) bool { return !IsTestbench(name) }

// verification summarizes simulate and waveform results of a run.
type verification struct {
	simulated  bool
	compiled   bool
	functional bool
	errorLogs  []string
}

func analyzeVerification(results []core.ToolResult) verification {
	var v verification
	for _, r := range results {
		switch r.Name {
		case tools.NameSimulate:
			v.simulated = true
			if compiledFrom(r) {
				v.compiled = true
			}
			if r.OK() {
				v.functional = true
			} else {
				v.functional = false
				v.errorLogs = append(v.errorLogs, r.Payload)
			}
		case tools.NameWaveform:
			v.errorLogs = append(v.errorLogs, "Waveform Analysis: "+r.Payload)
		}
	}
	return v
}

func compiledFrom(r core.ToolResult) bool {
	switch d := r.Data.(type) {
	case tools.SimulationReport:
		return d.Compiled
	case *tools.SimulationReport:
		return d != nil && d.Compiled
	}
	return r.OK()
}

func ptr[T any](v T) *T { return &v }
