package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage session workspaces",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create [tag]",
	Short: "Create an empty session workspace",
	Long: `Create a session workspace. The tag keeps letters, digits, '-' and '_';
without a tag an id of the form session-<8 hex digits> is generated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessionsCreate,
}

var sessionsPathCmd = &cobra.Command{
	Use:   "path <session>",
	Short: "Print the workspace directory of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsPath,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session>...",
	Short: "Delete sessions: workspace, checkpoint and metadata",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every session",
	Args:  cobra.NoArgs,
	RunE:  runSessionsClear,
}

var (
	sessionsFormat string
	clearYes       bool
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsCreateCmd, sessionsPathCmd, sessionsDeleteCmd, sessionsClearCmd)
	sessionsListCmd.Flags().StringVarP(&sessionsFormat, "format", "o", formatText, "output format: text, json or yaml")
	sessionsClearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "do not ask for confirmation")
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	if err := validFormat(sessionsFormat); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.sessions.List(commandContext(cmd.Context()))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if sessionsFormat != formatText {
		if list == nil {
			list = []session.Info{}
		}
		return writeStructured(out, sessionsFormat, list)
	}
	return writeSessionTable(out, list)
}

func writeSessionTable(w io.Writer, list []session.Info) error {
	if len(list) == 0 {
		fmt.Fprintln(w, "No sessions")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTAGE\tOUTCOME\tTOKENS\tCOST\tMODIFIED")
	for _, s := range list {
		stage, outcome := "-", "-"
		if s.Checkpoint != nil {
			stage = s.Checkpoint.CurrentStage.String()
			outcome = outcomeLabel(s.Checkpoint.Outcome)
		}
		tokens, cost := "-", "-"
		if s.Metadata != nil {
			tokens = fmt.Sprintf("%d", s.Metadata.TotalTokens)
			cost = fmt.Sprintf("$%.4f", s.Metadata.TotalCost)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, stage, outcome, tokens, cost, s.ModifiedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func runSessionsCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	tag := ""
	if len(args) == 1 {
		tag = args[0]
	}
	id, err := a.sessions.Create(commandContext(cmd.Context()), tag, a.cfg.LLM.Model)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runSessionsPath(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.sessions.Exists(args[0]) {
		return core.ErrSessionNotFound(args[0])
	}
	p, err := a.sessions.Path(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), p)
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd.Context())
	for _, id := range args {
		if err := a.sessions.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
	}
	return nil
}

func runSessionsClear(cmd *cobra.Command, _ []string) error {
	if !clearYes && !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), "Delete every session workspace and checkpoint?") {
		fmt.Fprintln(cmd.ErrOrStderr(), "aborted")
		return nil
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.sessions.Clear(commandContext(cmd.Context()))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared %d session(s)\n", n)
	return nil
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
