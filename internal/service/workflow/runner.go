// Package workflow runs the design workflow: it routes between stages,
// drives each stage through the dispatch loop, merges the resulting deltas
// and checkpoints the state after every stage.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/config"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/dispatch"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/logging"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/stages"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/telemetry"
)

// StageFactory builds the stages bound to one session workspace.
type StageFactory func(sessionID string) (stages.Set, error)

// RunnerConfig holds the workflow settings that do not come from the state.
type RunnerConfig struct {
	// Mode applies to new sessions; resumed sessions keep their own.
	Mode      core.Mode
	ModelName string
	Pricing   config.PricingConfig
}

// RunnerDeps holds dependencies for creating a Runner.
type RunnerDeps struct {
	Config   RunnerConfig
	Client   core.ReasoningClient
	Store    core.Store
	Stages   StageFactory
	Logger   *logging.Logger
	Observer Observer
}

// Runner orchestrates workflow sessions. It is safe to run different
// sessions concurrently; one session must not run twice at the same time.
type Runner struct {
	config   RunnerConfig
	client   core.ReasoningClient
	store    core.Store
	stages   StageFactory
	logger   *logging.Logger
	observer Observer
}

// NewRunner creates a runner with all dependencies.
func NewRunner(deps RunnerDeps) (*Runner, error) {
	if deps.Client == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "reasoning client is required")
	}
	if deps.Store == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "checkpoint store is required")
	}
	if deps.Stages == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "stage factory is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Config.Mode == "" {
		deps.Config.Mode = core.ModeMulti
	}
	if deps.Config.ModelName == "" {
		deps.Config.ModelName = config.DefaultModel
	}
	return &Runner{
		config:   deps.Config,
		client:   deps.Client,
		store:    deps.Store,
		stages:   deps.Stages,
		logger:   deps.Logger,
		observer: deps.Observer,
	}, nil
}

// Run starts a new workflow for sessionID and drives it to a terminal
// outcome. The returned state is the last checkpointed one. A Failure
// outcome is returned together with an IterationExhausted error.
func (r *Runner) Run(ctx context.Context, sessionID, designSpec string, maxIterations int) (*core.WorkflowState, error) {
	existing, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return nil, core.ErrCheckpoint("load", sessionID, err)
	}
	if existing != nil {
		return existing, core.ErrConflict(core.CodeSessionExists,
			fmt.Sprintf("session %s already has a checkpoint; resume it instead", sessionID))
	}

	state, err := core.NewWorkflowState(sessionID, designSpec, maxIterations, r.config.Mode)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.EnsureMetadata(ctx, core.SessionMetadata{
		SessionID: sessionID,
		ModelName: r.config.ModelName,
		CreatedAt: state.CreatedAt,
	}); err != nil {
		r.logger.Warn("session metadata not recorded", logging.KeySession, sessionID, "error", err)
	}
	if err := r.store.Save(ctx, state); err != nil {
		return state, core.ErrCheckpoint("save", sessionID, err)
	}

	r.logger.Info("starting workflow",
		logging.KeySession, sessionID,
		"mode", state.Mode,
		"max_iterations", maxIterations,
		"spec_length", len(designSpec),
	)
	return r.drive(ctx, state)
}

// Resume continues a session from its last checkpoint. A session that has
// already finished is returned unchanged with a WORKFLOW_TERMINAL error.
func (r *Runner) Resume(ctx context.Context, sessionID string) (*core.WorkflowState, error) {
	state, err := r.store.Load(ctx, sessionID)
	if err != nil {
		return nil, core.ErrCheckpoint("load", sessionID, err)
	}
	if state == nil {
		return nil, core.ErrSessionNotFound(sessionID)
	}
	if err := state.Validate(); err != nil {
		return state, err
	}
	if state.IsTerminal() {
		return state, core.ErrState(core.CodeWorkflowTerminal,
			fmt.Sprintf("session %s already finished with %s", sessionID, state.Outcome))
	}

	r.logger.Info("resuming workflow",
		logging.KeySession, sessionID,
		"current_stage", state.CurrentStage.String(),
		logging.KeyIteration, state.IterationCount,
	)
	return r.drive(ctx, state)
}

// drive alternates routing and stage runs until a terminal outcome.
func (r *Runner) drive(ctx context.Context, state *core.WorkflowState) (*core.WorkflowState, error) {
	ctx, span := telemetry.Start(ctx, "workflow.run",
		attribute.String("session.id", state.SessionID),
		attribute.String("workflow.mode", string(state.Mode)),
	)
	final, err := r.loop(ctx, state)
	if final != nil {
		span.SetAttributes(
			attribute.String("workflow.outcome", string(final.Outcome)),
			attribute.Int("workflow.iterations", final.IterationCount),
		)
	}
	telemetry.End(span, err)
	return final, err
}

func (r *Runner) loop(ctx context.Context, state *core.WorkflowState) (*core.WorkflowState, error) {
	logger := r.logger.WithSession(state.SessionID)
	set, err := r.stages(state.SessionID)
	if err != nil {
		return state, fmt.Errorf("building stages: %w", err)
	}
	budget := MaxStageRuns(state.MaxIterations)

	for {
		decision, err := Route(state)
		if err != nil {
			return state, err
		}
		if decision.Terminal() {
			return r.finish(ctx, state, decision.Outcome)
		}
		if state.StageRuns >= budget {
			return state, core.ErrState(core.CodeInvalidState,
				fmt.Sprintf("stage budget of %d runs exhausted without a terminal outcome", budget))
		}

		// The working copy is only checkpointed once the stage completes, so a
		// crash mid-stage resumes by routing from the previous checkpoint.
		next := state.Clone()
		if decision.Retry {
			next.IterationCount++
			logger.Info("verification failed, starting new iteration",
				logging.KeyIteration, next.IterationCount,
				"max_iterations", next.MaxIterations,
				"latest_error", logging.Preview(next.LatestErrorLog(), 300),
			)
		}

		stage, err := set.Get(decision.Next)
		if err != nil {
			return state, err
		}
		if err := r.runStage(ctx, logger, stage, next); err != nil {
			return state, err
		}
		if err := r.store.Save(ctx, next); err != nil {
			return state, core.ErrCheckpoint("save", state.SessionID, err)
		}
		state = next
	}
}

// runStage runs one stage through the dispatch loop and folds its delta into
// state.
func (r *Runner) runStage(ctx context.Context, logger *logging.Logger, stage stages.Stage, state *core.WorkflowState) error {
	name := stage.Name()
	logger = logger.WithStage(string(name))
	ctx, span := telemetry.Start(ctx, "workflow.stage",
		attribute.String("stage.name", string(name)),
		attribute.Int("workflow.iteration", state.IterationCount),
	)
	var err error
	defer func() { telemetry.End(span, err) }()

	r.observer.StageStarted(state, name)
	start := time.Now()

	initial, err := stage.Prepare(state)
	if err != nil {
		err = fmt.Errorf("preparing %s: %w", name, err)
		return err
	}
	res, err := dispatch.New(r.client, logger).Run(ctx, initial, stage.Tools(state), stage.TurnLimit())
	if err != nil {
		err = fmt.Errorf("stage %s: %w", name, err)
		return err
	}
	if res.TurnLimitReached {
		logger.Warn("stage stopped at its turn limit",
			"turn_limit", stage.TurnLimit(),
			"tool_results", len(res.ToolResults),
		)
	}

	delta := stage.Merge(state, res)
	state.Apply(name, delta)
	r.recordUsage(ctx, logger, state.SessionID, delta.Usage)

	duration := time.Since(start)
	logger.Info("stage completed",
		"turns", res.Turns,
		"tool_calls", len(res.ToolResults),
		"syntax_valid", state.SyntaxValid,
		"functional_valid", state.FunctionalValid,
		"duration", duration.Round(time.Millisecond).String(),
	)
	if name == core.StageSynthesizer {
		logger.Info("synthesis finished", "status", state.SynthesisStatus)
	}
	r.observer.StageCompleted(state, name, duration)
	return nil
}

func (r *Runner) recordUsage(ctx context.Context, logger *logging.Logger, sessionID string, usage core.Usage) {
	if usage.IsZero() {
		return
	}
	cost := r.config.Pricing.Cost(usage)
	if err := r.store.AddUsage(ctx, sessionID, usage, cost); err != nil {
		logger.Warn("session usage not recorded", "error", err)
	}
}

// finish records the terminal outcome and checkpoints it.
func (r *Runner) finish(ctx context.Context, state *core.WorkflowState, outcome core.Outcome) (*core.WorkflowState, error) {
	if state.Outcome != outcome {
		final := state.Clone()
		final.Outcome = outcome
		final.UpdatedAt = time.Now().UTC()
		if err := r.store.Save(ctx, final); err != nil {
			return state, core.ErrCheckpoint("save", state.SessionID, err)
		}
		state = final
	}

	r.observer.WorkflowFinished(state)
	if outcome == core.OutcomeFailure {
		r.logger.Error("workflow failed",
			logging.KeySession, state.SessionID,
			logging.KeyIteration, state.IterationCount,
			"error_logs", len(state.ErrorLogs),
		)
		return state, core.ErrIterationExhausted(state.IterationCount, state.MaxIterations)
	}
	r.logger.Info("workflow succeeded",
		logging.KeySession, state.SessionID,
		logging.KeyIteration, state.IterationCount,
		"synthesis_status", state.SynthesisStatus,
	)
	return state, nil
}

// IsIterationExhausted reports whether err is the terminal Failure outcome.
func IsIterationExhausted(err error) bool {
	var derr *core.DomainError
	return errors.As(err, &derr) && derr.Code == core.CodeIterationExhausted
}
