package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateLLM(&cfg.LLM)
	v.validateWorkflow(&cfg.Workflow)
	v.validateWorkspace(&cfg.Workspace)
	v.validateState(&cfg.State)
	v.validateTools(&cfg.Tools)

	if cfg.Batch.Concurrency < 1 {
		v.addError("batch.concurrency", cfg.Batch.Concurrency, "must be at least 1")
	}

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of debug, info, warn, error")
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "must be one of auto, text, json")
	}
}

func (v *Validator) validateLLM(cfg *LLMConfig) {
	if cfg.Provider != "openai" {
		v.addError("llm.provider", cfg.Provider, "only the openai-compatible provider is supported")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		v.addError("llm.model", cfg.Model, "required")
	}
	if cfg.BaseURL != "" {
		if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			v.addError("llm.base_url", cfg.BaseURL, "must be an absolute URL")
		}
	}
	if cfg.APIKeyEnv == "" {
		v.addError("llm.api_key_env", cfg.APIKeyEnv, "required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		v.addError("llm.temperature", cfg.Temperature, "must be between 0 and 2")
	}
	if cfg.MaxTokens < 0 {
		v.addError("llm.max_tokens", cfg.MaxTokens, "must be non-negative")
	}
	if cfg.MaxRetries < 0 {
		v.addError("llm.max_retries", cfg.MaxRetries, "must be non-negative")
	}
	if cfg.RequestsPerMinute < 0 {
		v.addError("llm.requests_per_minute", cfg.RequestsPerMinute, "must be non-negative")
	}
	v.validateDuration("llm.timeout", cfg.Timeout)
	v.validateDuration("llm.retry_base_delay", cfg.RetryBaseDelay)
	if cfg.Pricing.InputPerMillion < 0 || cfg.Pricing.OutputPerMillion < 0 || cfg.Pricing.CachedPerMillion < 0 {
		v.addError("llm.pricing", cfg.Pricing, "prices must be non-negative")
	}
}

func (v *Validator) validateWorkflow(cfg *WorkflowConfig) {
	if _, err := core.ParseMode(cfg.Mode); err != nil {
		v.addError("workflow.mode", cfg.Mode, "must be multi or single")
	}
	if cfg.MaxIterations <= 0 {
		v.addError("workflow.max_iterations", cfg.MaxIterations, "must be positive")
	}
	switch core.ErrorLogPolicy(cfg.ErrorLogPolicy) {
	case core.ErrorLogAccumulate, core.ErrorLogReset:
	default:
		v.addError("workflow.error_log_policy", cfg.ErrorLogPolicy, "must be accumulate or reset")
	}

	limits := map[string]int{
		"coder":       cfg.TurnLimits.Coder,
		"verifier":    cfg.TurnLimits.Verifier,
		"synthesizer": cfg.TurnLimits.Synthesizer,
		"ppa_analyst": cfg.TurnLimits.PPAAnalyst,
		"architect":   cfg.TurnLimits.Architect,
	}
	for name, limit := range limits {
		if limit <= 0 {
			v.addError("workflow.turn_limits."+name, limit, "must be positive")
		}
	}
}

func (v *Validator) validateWorkspace(cfg *WorkspaceConfig) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		v.addError("workspace.base_dir", cfg.BaseDir, "required")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	switch cfg.Backend {
	case "sqlite", "json":
	default:
		v.addError("state.backend", cfg.Backend, "must be sqlite or json")
	}
	if strings.TrimSpace(cfg.Path) == "" {
		v.addError("state.path", cfg.Path, "required")
	}
}

func (v *Validator) validateTools(cfg *ToolsConfig) {
	v.validateDuration("tools.timeout", cfg.Timeout)
	v.validateDuration("tools.synthesis_timeout", cfg.SynthesisTimeout)
	if cfg.Iverilog == "" {
		v.addError("tools.iverilog", cfg.Iverilog, "required")
	}
	if cfg.Vvp == "" {
		v.addError("tools.vvp", cfg.Vvp, "required")
	}
	if cfg.DockerImage == "" {
		v.addError("tools.docker_image", cfg.DockerImage, "required")
	}
	if cfg.Platform == "" {
		v.addError("tools.platform", cfg.Platform, "required")
	}
	if cfg.ClockPeriod <= 0 {
		v.addError("tools.clock_period", cfg.ClockPeriod, "must be positive")
	}
	if cfg.OutputLimit <= 0 {
		v.addError("tools.output_limit", cfg.OutputLimit, "must be positive")
	}
}

func (v *Validator) validateDuration(field, value string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return
	}
	if d < 0 {
		v.addError(field, value, "must be non-negative")
	}
}

// ValidateConfig is a convenience function to validate a configuration.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
