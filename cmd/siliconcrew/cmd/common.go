package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/adapters/llm"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/config"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/logging"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/service"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/service/workflow"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/session"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/stages"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/tools"
)

// app bundles the dependencies shared by every command.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    core.Store
	sessions *session.Manager

	// clientFn overrides newClient in tests.
	clientFn func(*service.RateLimiter) (core.ReasoningClient, error)
}

// openApp opens the state store and the session manager from the loaded
// configuration.
func openApp() (*app, error) {
	cfg, logger := appConfig, appLogger
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	store, err := state.NewStore(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	sessions, err := session.NewManager(cfg.Workspace.BaseDir, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: store, sessions: sessions}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing state store", "error", err)
	}
}

// newClient builds the reasoning client with retries and an optional
// shared rate limiter.
func (a *app) newClient(limiter *service.RateLimiter) (core.ReasoningClient, error) {
	opts, err := llm.OptionsFromConfig(a.cfg.LLM)
	if err != nil {
		return nil, err
	}
	client, err := llm.NewClient(opts, a.logger)
	if err != nil {
		return nil, err
	}
	policy := service.NewRetryPolicy(
		service.WithMaxAttempts(a.cfg.LLM.MaxRetries+1),
		service.WithBaseDelay(config.Duration(a.cfg.LLM.RetryBaseDelay, 2*time.Second)),
	)
	return service.NewResilientClient(client, policy, limiter, a.logger), nil
}

// newLimiter returns the shared limiter for llm.requests_per_minute, or nil.
func (a *app) newLimiter() *service.RateLimiter {
	if a.cfg.LLM.RequestsPerMinute <= 0 {
		return nil
	}
	return service.NewRateLimiter(service.PerMinute(a.cfg.LLM.RequestsPerMinute))
}

// stageFactory binds the stages to a session workspace.
func (a *app) stageFactory() workflow.StageFactory {
	settings := tools.Settings{
		Iverilog:         a.cfg.Tools.Iverilog,
		Vvp:              a.cfg.Tools.Vvp,
		Docker:           a.cfg.Tools.Docker,
		DockerImage:      a.cfg.Tools.DockerImage,
		Platform:         a.cfg.Tools.Platform,
		ClockPeriod:      a.cfg.Tools.ClockPeriod,
		Timeout:          config.Duration(a.cfg.Tools.Timeout, tools.DefaultTimeout),
		SynthesisTimeout: config.Duration(a.cfg.Tools.SynthesisTimeout, 30*time.Minute),
		OutputLimit:      a.cfg.Tools.OutputLimit,
	}
	opts := stages.Options{
		TurnLimits:     a.cfg.Workflow.TurnLimits,
		ErrorLogPolicy: core.ErrorLogPolicy(a.cfg.Workflow.ErrorLogPolicy),
	}
	return func(sessionID string) (stages.Set, error) {
		dir, err := a.sessions.Ensure(sessionID)
		if err != nil {
			return nil, err
		}
		ws, err := tools.NewWorkspace(dir)
		if err != nil {
			return nil, err
		}
		box := tools.NewToolbox(ws, nil, settings, a.logger.WithSession(sessionID).Logger)
		return stages.NewSet(box, opts)
	}
}

// newRunner wires a workflow runner. mode overrides workflow.mode when set.
func (a *app) newRunner(mode string, limiter *service.RateLimiter, observer workflow.Observer) (*workflow.Runner, error) {
	if mode == "" {
		mode = a.cfg.Workflow.Mode
	}
	parsed, err := core.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	newClient := a.newClient
	if a.clientFn != nil {
		newClient = a.clientFn
	}
	client, err := newClient(limiter)
	if err != nil {
		return nil, err
	}
	return workflow.NewRunner(workflow.RunnerDeps{
		Config: workflow.RunnerConfig{
			Mode:      parsed,
			ModelName: a.cfg.LLM.Model,
			Pricing:   a.cfg.LLM.Pricing,
		},
		Client:   client,
		Store:    a.store,
		Stages:   a.stageFactory(),
		Logger:   a.logger,
		Observer: observer,
	})
}

// readSpec returns the design specification from an inline argument, a
// file, or stdin when file is "-".
func readSpec(args []string, file string) (string, error) {
	if file != "" {
		var data []byte
		var err error
		if file == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return "", fmt.Errorf("reading spec file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}
	return "", core.ErrValidation(core.CodeEmptySpec, "provide a design specification as an argument or with --spec-file")
}

// commandContext returns the command context, or Background when unset.
func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
