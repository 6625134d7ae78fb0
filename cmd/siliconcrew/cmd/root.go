package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/config"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string

	// Populated by PersistentPreRunE.
	appConfig *config.Config
	appLogger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "siliconcrew",
	Short: "Agentic RTL design: write, verify, synthesize and measure hardware",
	Long: `siliconcrew turns a natural-language hardware specification into
verified Verilog. A crew of agents writes the RTL, simulates it against a
generated testbench, repairs failures within an iteration budget, then runs
synthesis and reports power, performance and area.

Every session is checkpointed after each stage and can be resumed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records build information for the version command.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .siliconcrew.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable styled output")
	rootCmd.PersistentFlags().String("workspace", "",
		"workspace base directory (overrides workspace.base_dir)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("workspace.base_dir", rootCmd.PersistentFlags().Lookup("workspace"))
}

func initConfig() error {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// An empty --workspace flag must not clobber the configured default.
	if cfg.Workspace.BaseDir == "" {
		cfg.Workspace.BaseDir = "workspace"
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	appConfig = cfg
	appLogger = logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Secrets: []string{os.Getenv(cfg.LLM.APIKeyEnv)},
	})
	if f := loader.ConfigFile(); f != "" {
		appLogger.Debug("loaded config file", "path", f)
	}
	return nil
}

// FormatError renders an error for the terminal.
func FormatError(err error) string {
	var derr *core.DomainError
	if errors.As(err, &derr) {
		return fmt.Sprintf("Error: %s (%s)", derr.Message, derr.Code)
	}
	return "Error: " + err.Error()
}

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitFailure = 2 // the workflow finished with a failure outcome
)

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case core.GetCode(err) == core.CodeIterationExhausted:
		return exitFailure
	default:
		return exitError
	}
}
