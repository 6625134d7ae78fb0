package workflow

import (
	"time"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

// Observer receives progress notifications from the runner. Callbacks run
// synchronously on the workflow goroutine.
type Observer interface {
	StageStarted(state *core.WorkflowState, stage core.StageName)
	StageCompleted(state *core.WorkflowState, stage core.StageName, duration time.Duration)
	WorkflowFinished(state *core.WorkflowState)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) StageStarted(*core.WorkflowState, core.StageName)                  {}
func (NopObserver) StageCompleted(*core.WorkflowState, core.StageName, time.Duration) {}
func (NopObserver) WorkflowFinished(*core.WorkflowState)                              {}
