package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (SILICONCREW_LLM_MODEL, ...).
const EnvPrefix = "SILICONCREW"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: EnvPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (SILICONCREW_*)
// 3. Project config (.siliconcrew.yaml in current directory)
// 4. User config (~/.config/siliconcrew/.siliconcrew.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".siliconcrew")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "siliconcrew"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Gemini through its OpenAI-compatible endpoint.
	l.v.SetDefault("llm.provider", "openai")
	l.v.SetDefault("llm.model", DefaultModel)
	l.v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai/")
	l.v.SetDefault("llm.api_key_env", "GOOGLE_API_KEY")
	l.v.SetDefault("llm.temperature", 0.2)
	l.v.SetDefault("llm.max_tokens", 8192)
	l.v.SetDefault("llm.timeout", "5m")
	l.v.SetDefault("llm.max_retries", 3)
	l.v.SetDefault("llm.retry_base_delay", "2s")
	l.v.SetDefault("llm.requests_per_minute", 0)
	l.v.SetDefault("llm.pricing.input_per_million", 0.30)
	l.v.SetDefault("llm.pricing.output_per_million", 2.50)
	l.v.SetDefault("llm.pricing.cached_per_million", 0.075)

	l.v.SetDefault("workflow.mode", "multi")
	l.v.SetDefault("workflow.max_iterations", 3)
	l.v.SetDefault("workflow.error_log_policy", "accumulate")
	l.v.SetDefault("workflow.turn_limits.coder", 10)
	l.v.SetDefault("workflow.turn_limits.verifier", 5)
	l.v.SetDefault("workflow.turn_limits.synthesizer", 3)
	l.v.SetDefault("workflow.turn_limits.ppa_analyst", 3)
	l.v.SetDefault("workflow.turn_limits.architect", 50)

	l.v.SetDefault("workspace.base_dir", "workspace")

	l.v.SetDefault("state.backend", "sqlite")
	l.v.SetDefault("state.path", "state.db")

	l.v.SetDefault("tools.timeout", "2m")
	l.v.SetDefault("tools.synthesis_timeout", "30m")
	l.v.SetDefault("tools.iverilog", "iverilog")
	l.v.SetDefault("tools.vvp", "vvp")
	l.v.SetDefault("tools.docker", "docker")
	l.v.SetDefault("tools.docker_image", "openroad/orfs:latest")
	l.v.SetDefault("tools.platform", "sky130hd")
	l.v.SetDefault("tools.clock_period", 10.0)
	l.v.SetDefault("tools.output_limit", 20000)

	l.v.SetDefault("batch.concurrency", 2)
}

// DefaultModel is the model recorded for sessions created without one.
const DefaultModel = "gemini-2.5-flash"

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
