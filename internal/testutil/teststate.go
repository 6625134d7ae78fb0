package testutil

import (
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

// NewTestState creates a multi-mode WorkflowState for session "s1" with a
// three-iteration budget. Use functional options to override fields.
func NewTestState(opts ...func(*core.WorkflowState)) *core.WorkflowState {
	s, err := core.NewWorkflowState("s1", "A 4-bit counter with synchronous reset.", 3, core.ModeMulti)
	if err != nil {
		panic(err)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
