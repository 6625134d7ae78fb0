package config

import (
	"time"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	State     StateConfig     `mapstructure:"state"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Batch     BatchConfig     `mapstructure:"batch"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LLMConfig configures the reasoning engine client. Any endpoint speaking the
// OpenAI chat completions protocol works; the default points at Gemini.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"`
	Model          string        `mapstructure:"model"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKeyEnv      string        `mapstructure:"api_key_env"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        string        `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay string        `mapstructure:"retry_base_delay"`
	Pricing        PricingConfig `mapstructure:"pricing"`
	// RequestsPerMinute caps reasoning calls across all sessions; 0 disables.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// PricingConfig holds USD prices per million tokens.
type PricingConfig struct {
	InputPerMillion  float64 `mapstructure:"input_per_million"`
	OutputPerMillion float64 `mapstructure:"output_per_million"`
	CachedPerMillion float64 `mapstructure:"cached_per_million"`
}

// Cost prices a usage record. Cached input tokens are billed at the cached
// rate instead of the input rate.
func (p PricingConfig) Cost(u core.Usage) float64 {
	uncached := u.InputTokens - u.CachedTokens
	if uncached < 0 {
		uncached = 0
	}
	return (float64(uncached)*p.InputPerMillion +
		float64(u.CachedTokens)*p.CachedPerMillion +
		float64(u.OutputTokens)*p.OutputPerMillion) / 1e6
}

// WorkflowConfig configures orchestration.
type WorkflowConfig struct {
	Mode           string           `mapstructure:"mode"`
	MaxIterations  int              `mapstructure:"max_iterations"`
	ErrorLogPolicy string           `mapstructure:"error_log_policy"`
	TurnLimits     TurnLimitsConfig `mapstructure:"turn_limits"`
}

// TurnLimitsConfig bounds reasoning calls per stage run.
type TurnLimitsConfig struct {
	Coder       int `mapstructure:"coder"`
	Verifier    int `mapstructure:"verifier"`
	Synthesizer int `mapstructure:"synthesizer"`
	PPAAnalyst  int `mapstructure:"ppa_analyst"`
	Architect   int `mapstructure:"architect"`
}

// For returns the turn limit configured for a stage.
func (t TurnLimitsConfig) For(stage core.StageName) int {
	switch stage {
	case core.StageCoder:
		return t.Coder
	case core.StageVerifier:
		return t.Verifier
	case core.StageSynthesizer:
		return t.Synthesizer
	case core.StagePPAAnalyst:
		return t.PPAAnalyst
	case core.StageArchitect:
		return t.Architect
	default:
		return 0
	}
}

// WorkspaceConfig locates session workspaces.
type WorkspaceConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// StateConfig configures checkpoint persistence.
type StateConfig struct {
	Backend string `mapstructure:"backend"` // sqlite or json
	Path    string `mapstructure:"path"`
}

// ToolsConfig configures the external EDA tools.
type ToolsConfig struct {
	Timeout          string  `mapstructure:"timeout"`
	SynthesisTimeout string  `mapstructure:"synthesis_timeout"`
	Iverilog         string  `mapstructure:"iverilog"`
	Vvp              string  `mapstructure:"vvp"`
	Docker           string  `mapstructure:"docker"`
	DockerImage      string  `mapstructure:"docker_image"`
	Platform         string  `mapstructure:"platform"`
	ClockPeriod      float64 `mapstructure:"clock_period"`
	OutputLimit      int     `mapstructure:"output_limit"`
}

// BatchConfig configures concurrent session runs.
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// Duration parses a duration string, returning fallback when s is empty or
// malformed. Validation reports malformed values before this is reached.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
