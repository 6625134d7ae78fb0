package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/service/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run [specification]",
	Short: "Design, verify and synthesize a circuit from a specification",
	Long: `Start a new session from a natural-language design specification.

The specification is read from the arguments, or from --spec-file
("-" reads stdin). The session workspace holds every generated file.`,
	Example: `  siliconcrew run "A 4-bit up counter with synchronous reset"
  siliconcrew run --session fifo --spec-file fifo.md --max-iterations 5
  siliconcrew run --mode single --spec-file alu.md`,
	RunE: runWorkflow,
}

var (
	runSession  string
	runSpecFile string
	runMode     string
	runMaxIter  int
	runQuiet    bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "session tag (default: session-<id>)")
	runCmd.Flags().StringVarP(&runSpecFile, "spec-file", "f", "", "read the specification from a file (- for stdin)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "workflow mode: multi or single (default: workflow.mode)")
	runCmd.Flags().IntVar(&runMaxIter, "max-iterations", 0, "repair budget (default: workflow.max_iterations)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "do not print stage progress")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	spec, err := readSpec(args, runSpecFile)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd.Context())

	maxIter := runMaxIter
	if maxIter <= 0 {
		maxIter = a.cfg.Workflow.MaxIterations
	}

	runner, err := a.newRunner(runMode, a.newLimiter(), observerFor(cmd, runQuiet))
	if err != nil {
		return err
	}
	sessionID, err := a.sessions.Create(ctx, runSession, a.cfg.LLM.Model)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "session %s: %s\n", sessionID, a.sessionPath(sessionID))

	st, err := runner.Run(ctx, sessionID, spec, maxIter)
	return finishCommand(cmd, a, st, err)
}

// finishCommand prints the final status and passes err through. A failure
// outcome keeps its IterationExhausted error for the exit code.
func finishCommand(cmd *cobra.Command, a *app, st *core.WorkflowState, err error) error {
	if st != nil && st.IsTerminal() {
		meta, _ := a.store.GetMetadata(commandContext(cmd.Context()), st.SessionID)
		renderStatus(cmd.OutOrStdout(), st, meta)
		if workflow.IsIterationExhausted(err) {
			return err
		}
	}
	if err != nil && st != nil && !st.IsTerminal() {
		fmt.Fprintf(cmd.ErrOrStderr(), "session %s stopped at %s; continue with: siliconcrew resume %s\n",
			st.SessionID, st.CurrentStage, st.SessionID)
	}
	return err
}

func observerFor(cmd *cobra.Command, quiet bool) workflow.Observer {
	if quiet {
		return workflow.NopObserver{}
	}
	return progressObserver{w: cmd.ErrOrStderr()}
}

func (a *app) sessionPath(id string) string {
	p, err := a.sessions.Path(id)
	if err != nil {
		return id
	}
	return p
}
