package tools

import (
	"log/slog"
	"time"
)

// Settings configures the external EDA tools.
type Settings struct {
	Iverilog         string
	Vvp              string
	Docker           string
	DockerImage      string
	Platform         string
	ClockPeriod      float64
	Timeout          time.Duration
	SynthesisTimeout time.Duration
	OutputLimit      int
}

// DefaultSettings matches the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		Iverilog:         "iverilog",
		Vvp:              "vvp",
		Docker:           "docker",
		DockerImage:      "openroad/orfs:latest",
		Platform:         "sky130hd",
		ClockPeriod:      10,
		Timeout:          DefaultTimeout,
		SynthesisTimeout: 30 * time.Minute,
		OutputLimit:      DefaultOutputLimit,
	}
}

// Toolbox builds the per-stage registries for one session workspace.
type Toolbox struct {
	ws       *Workspace
	runner   CommandRunner
	settings Settings
}

// NewToolbox creates a toolbox. A nil runner selects ExecRunner.
func NewToolbox(ws *Workspace, runner CommandRunner, settings Settings, logger *slog.Logger) *Toolbox {
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &Toolbox{ws: ws, runner: runner, settings: settings}
}

// Workspace returns the session workspace.
func (b *Toolbox) Workspace() *Workspace {
	return b.ws
}

func (b *Toolbox) registry(ts ...Tool) *Registry {
	return NewRegistry(b.settings.OutputLimit).MustRegister(ts...)
}

// Coder: write, read, edit and lint.
func (b *Toolbox) Coder() *Registry {
	return b.registry(
		NewWriteFileTool(b.ws),
		NewReadFileTool(b.ws),
		NewEditFileTool(b.ws),
		NewLintTool(b.ws, b.runner, b.settings),
	)
}

// Verifier: write, simulate and waveform.
func (b *Toolbox) Verifier() *Registry {
	return b.registry(
		NewWriteFileTool(b.ws),
		NewSimulateTool(b.ws, b.runner, b.settings),
		NewWaveformTool(b.ws),
	)
}

// Synthesizer: synthesize only.
func (b *Toolbox) Synthesizer() *Registry {
	return b.registry(NewSynthesizeTool(b.ws, b.runner, b.settings))
}

// PPAAnalyst: metrics and log search.
func (b *Toolbox) PPAAnalyst() *Registry {
	return b.registry(NewGetMetricsTool(b.ws), NewSearchLogsTool(b.ws))
}

// Architect gets every tool.
func (b *Toolbox) Architect() *Registry {
	return b.registry(
		NewWriteFileTool(b.ws),
		NewReadFileTool(b.ws),
		NewEditFileTool(b.ws),
		NewLintTool(b.ws, b.runner, b.settings),
		NewSimulateTool(b.ws, b.runner, b.settings),
		NewWaveformTool(b.ws),
		NewSynthesizeTool(b.ws, b.runner, b.settings),
		NewGetMetricsTool(b.ws),
		NewSearchLogsTool(b.ws),
	)
}
