package cmd

import (
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session>",
	Short: "Continue a session from its last checkpoint",
	Long: `Resume re-enters the workflow after the last completed stage. A stage
that was interrupted runs again from the start.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

var resumeQuiet bool

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().BoolVarP(&resumeQuiet, "quiet", "q", false, "do not print stage progress")
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// The session keeps the mode it was started with.
	runner, err := a.newRunner("", a.newLimiter(), observerFor(cmd, resumeQuiet))
	if err != nil {
		return err
	}
	st, err := runner.Resume(commandContext(cmd.Context()), args[0])
	return finishCommand(cmd, a, st, err)
}
