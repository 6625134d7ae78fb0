package core

import (
	"fmt"
	"strings"
	"time"
)

// CurrentStateVersion is the schema version written with every checkpoint.
const CurrentStateVersion = 1

// Metric keys reported by the metrics extraction tool.
const (
	MetricArea               = "area"
	MetricCellCount          = "cell_count"
	MetricWorstNegativeSlack = "worst_negative_slack"
	MetricPower              = "power"
)

// MetricKeys returns the metric keys in display order.
func MetricKeys() []string {
	return []string{MetricArea, MetricCellCount, MetricWorstNegativeSlack, MetricPower}
}

// Metrics maps a metric name to a value; nil marks an absent value.
type Metrics map[string]*float64

// Float returns a pointer to v, for building Metrics literals.
func Float(v float64) *float64 {
	return &v
}

// HasValues reports whether at least one metric is present.
func (m Metrics) HasValues() bool {
	for _, v := range m {
		if v != nil {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (m Metrics) Clone() Metrics {
	if m == nil {
		return nil
	}
	out := make(Metrics, len(m))
	for k, v := range m {
		if v != nil {
			val := *v
			out[k] = &val
		} else {
			out[k] = nil
		}
	}
	return out
}

// WorkflowState is the single mutable document shared by every stage of one
// session. Only the orchestrator applies changes, one StateDelta at a time.
type WorkflowState struct {
	Version         int          `json:"version"`
	SessionID       string       `json:"session_id"`
	Mode            Mode         `json:"mode"`
	DesignSpec      string       `json:"design_spec"`
	SourceCode      string       `json:"source_code"`
	TestbenchCode   string       `json:"testbench_code"`
	IterationCount  int          `json:"iteration_count"`
	MaxIterations   int          `json:"max_iterations"`
	SyntaxValid     bool         `json:"syntax_valid"`
	FunctionalValid bool         `json:"functional_valid"`
	ErrorLogs       []string     `json:"error_logs"`
	PPAMetrics      Metrics      `json:"ppa_metrics"`
	SynthesisStatus ResultStatus `json:"synthesis_status,omitempty"`
	ConversationLog []Message    `json:"conversation_log"`
	CurrentStage    StageName    `json:"current_stage"`
	Outcome         Outcome      `json:"outcome,omitempty"`
	Usage           Usage        `json:"usage"`
	StageRuns       int          `json:"stage_runs"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewWorkflowState creates the initial state for a session.
func NewWorkflowState(sessionID, designSpec string, maxIterations int, mode Mode) (*WorkflowState, error) {
	if strings.TrimSpace(designSpec) == "" {
		return nil, ErrValidation(CodeEmptySpec, "design specification cannot be empty")
	}
	if len(designSpec) > MaxSpecLength {
		return nil, ErrValidation(CodeSpecTooLong,
			fmt.Sprintf("design specification exceeds %d characters", MaxSpecLength))
	}
	if maxIterations <= 0 {
		return nil, ErrValidation(CodeInvalidIterations,
			fmt.Sprintf("max_iterations must be positive, got %d", maxIterations))
	}
	if mode == "" {
		mode = ModeMulti
	}
	now := time.Now().UTC()
	return &WorkflowState{
		Version:         CurrentStateVersion,
		SessionID:       sessionID,
		Mode:            mode,
		DesignSpec:      designSpec,
		MaxIterations:   maxIterations,
		ErrorLogs:       []string{},
		PPAMetrics:      Metrics{},
		ConversationLog: []Message{UserMessage(designSpec)},
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsTerminal reports whether the workflow has reached an outcome.
func (s *WorkflowState) IsTerminal() bool {
	return s.Outcome != OutcomeNone
}

// LatestErrorLog returns the most recent diagnostic, or "".
func (s *WorkflowState) LatestErrorLog() string {
	if len(s.ErrorLogs) == 0 {
		return ""
	}
	return s.ErrorLogs[len(s.ErrorLogs)-1]
}

// Validate checks the structural invariants of a state document.
func (s *WorkflowState) Validate() error {
	if s.SessionID == "" {
		return ErrValidation(CodeInvalidState, "session_id is required")
	}
	if s.MaxIterations <= 0 {
		return ErrValidation(CodeInvalidIterations, "max_iterations must be positive")
	}
	if s.IterationCount < 0 || s.IterationCount > s.MaxIterations {
		return ErrState(CodeInvalidState,
			fmt.Sprintf("iteration_count %d outside [0, %d]", s.IterationCount, s.MaxIterations))
	}
	if s.CurrentStage != StageNone && !ValidStage(s.CurrentStage) {
		return ErrState(CodeUnknownStage, fmt.Sprintf("unknown stage %q", s.CurrentStage))
	}
	switch s.Outcome {
	case OutcomeNone, OutcomeSuccess, OutcomeFailure:
	default:
		return ErrState(CodeInvalidState, fmt.Sprintf("unknown outcome %q", s.Outcome))
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	out := *s
	out.ErrorLogs = append([]string(nil), s.ErrorLogs...)
	out.PPAMetrics = s.PPAMetrics.Clone()
	out.ConversationLog = make([]Message, len(s.ConversationLog))
	for i, m := range s.ConversationLog {
		out.ConversationLog[i] = cloneMessage(m)
	}
	return &out
}

func cloneMessage(m Message) Message {
	if len(m.ToolRequests) == 0 {
		return m
	}
	reqs := make([]ToolRequest, len(m.ToolRequests))
	for i, r := range m.ToolRequests {
		reqs[i] = r
		if r.Args != nil {
			args := make(map[string]any, len(r.Args))
			for k, v := range r.Args {
				args[k] = v
			}
			reqs[i].Args = args
		}
	}
	m.ToolRequests = reqs
	return m
}

// StateDelta is the set of changes one stage run produces. Nil pointer and
// nil map fields leave the corresponding state field unchanged.
type StateDelta struct {
	SourceCode      *string
	TestbenchCode   *string
	SyntaxValid     *bool
	FunctionalValid *bool
	ResetErrorLogs  bool
	AppendErrorLogs []string
	PPAMetrics      Metrics
	SynthesisStatus ResultStatus
	Messages        []Message
	Usage           Usage
}

// Apply folds a stage delta into the state and records the stage as
// current. It is the only mutation path stages have.
func (s *WorkflowState) Apply(stage StageName, d StateDelta) {
	s.CurrentStage = stage
	s.StageRuns++
	if d.SourceCode != nil {
		s.SourceCode = *d.SourceCode
	}
	if d.TestbenchCode != nil {
		s.TestbenchCode = *d.TestbenchCode
	}
	if d.SyntaxValid != nil {
		s.SyntaxValid = *d.SyntaxValid
	}
	if d.FunctionalValid != nil {
		s.FunctionalValid = *d.FunctionalValid
	}
	if d.ResetErrorLogs {
		s.ErrorLogs = []string{}
	}
	s.ErrorLogs = append(s.ErrorLogs, d.AppendErrorLogs...)
	if d.PPAMetrics != nil {
		s.PPAMetrics = d.PPAMetrics.Clone()
	}
	if d.SynthesisStatus != "" {
		s.SynthesisStatus = d.SynthesisStatus
	}
	s.ConversationLog = append(s.ConversationLog, d.Messages...)
	s.Usage = s.Usage.Add(d.Usage)
	s.UpdatedAt = time.Now().UTC()
}

// CheckpointSummary is a lightweight listing entry for a stored session.
type CheckpointSummary struct {
	SessionID      string    `json:"session_id"`
	Mode           Mode      `json:"mode"`
	CurrentStage   StageName `json:"current_stage"`
	Outcome        Outcome   `json:"outcome"`
	IterationCount int       `json:"iteration_count"`
	MaxIterations  int       `json:"max_iterations"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Summary builds the listing entry for s.
func (s *WorkflowState) Summary() CheckpointSummary {
	return CheckpointSummary{
		SessionID:      s.SessionID,
		Mode:           s.Mode,
		CurrentStage:   s.CurrentStage,
		Outcome:        s.Outcome,
		IterationCount: s.IterationCount,
		MaxIterations:  s.MaxIterations,
		UpdatedAt:      s.UpdatedAt,
	}
}
