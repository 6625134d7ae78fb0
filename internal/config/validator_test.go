package config

import (
	"errors"
	"strings"
	"testing"
)

// validConfig returns a valid configuration for testing.
func validConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          DefaultModel,
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta/openai/",
			APIKeyEnv:      "GOOGLE_API_KEY",
			Temperature:    0.2,
			MaxTokens:      8192,
			Timeout:        "5m",
			MaxRetries:     3,
			RetryBaseDelay: "2s",
		},
		Workflow: WorkflowConfig{
			Mode:           "multi",
			MaxIterations:  3,
			ErrorLogPolicy: "accumulate",
			TurnLimits: TurnLimitsConfig{
				Coder: 10, Verifier: 5, Synthesizer: 3, PPAAnalyst: 3, Architect: 50,
			},
		},
		Workspace: WorkspaceConfig{BaseDir: "workspace"},
		State:     StateConfig{Backend: "sqlite", Path: "state.db"},
		Tools: ToolsConfig{
			Timeout:          "2m",
			SynthesisTimeout: "30m",
			Iverilog:         "iverilog",
			Vvp:              "vvp",
			Docker:           "docker",
			DockerImage:      "openroad/orfs:latest",
			Platform:         "sky130hd",
			ClockPeriod:      10,
			OutputLimit:      20000,
		},
		Batch: BatchConfig{Concurrency: 2},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"provider", func(c *Config) { c.LLM.Provider = "bard" }, "llm.provider"},
		{"model", func(c *Config) { c.LLM.Model = " " }, "llm.model"},
		{"base url", func(c *Config) { c.LLM.BaseURL = "not a url" }, "llm.base_url"},
		{"retry delay", func(c *Config) { c.LLM.RetryBaseDelay = "soon" }, "llm.retry_base_delay"},
		{"mode", func(c *Config) { c.Workflow.Mode = "swarm" }, "workflow.mode"},
		{"iterations", func(c *Config) { c.Workflow.MaxIterations = 0 }, "workflow.max_iterations"},
		{"error log policy", func(c *Config) { c.Workflow.ErrorLogPolicy = "drop" }, "workflow.error_log_policy"},
		{"turn limit", func(c *Config) { c.Workflow.TurnLimits.Verifier = 0 }, "workflow.turn_limits.verifier"},
		{"workspace", func(c *Config) { c.Workspace.BaseDir = "" }, "workspace.base_dir"},
		{"backend", func(c *Config) { c.State.Backend = "redis" }, "state.backend"},
		{"tool timeout", func(c *Config) { c.Tools.Timeout = "-1s" }, "tools.timeout"},
		{"clock", func(c *Config) { c.Tools.ClockPeriod = 0 }, "tools.clock_period"},
		{"batch", func(c *Config) { c.Batch.Concurrency = 0 }, "batch.concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: "x", Message: "worse"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "a: bad") || !strings.Contains(msg, "b: worse") {
		t.Errorf("unexpected message %q", msg)
	}
	if !errs.HasErrors() {
		t.Error("expected HasErrors")
	}
}
