package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/logging"
)

var logCmd = &cobra.Command{
	Use:   "log <session>",
	Short: "Render the conversation log of a session",
	Long: `Print every stage conversation recorded for a session as Markdown:
assistant answers, tool requests with their arguments and tool results.`,
	Args: cobra.ExactArgs(1),
	RunE: runLog,
}

var (
	logRaw      bool
	logStage    string
	logFull     bool
	logWordWrap int
)

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().BoolVar(&logRaw, "raw", false, "print Markdown without terminal rendering")
	logCmd.Flags().StringVar(&logStage, "stage", "", "only show messages from this stage")
	logCmd.Flags().BoolVar(&logFull, "full", false, "do not shorten tool arguments and results")
	logCmd.Flags().IntVar(&logWordWrap, "width", 100, "word wrap width for rendered output")
}

func runLog(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := loadSession(commandContext(cmd.Context()), a, args[0])
	if err != nil {
		return err
	}
	md := conversationMarkdown(st, logOptions{stage: core.StageName(logStage), full: logFull})

	if logRaw {
		_, err := fmt.Fprint(cmd.OutOrStdout(), md)
		return err
	}

	style := glamour.WithAutoStyle()
	if noColor {
		style = glamour.WithStandardStyle("notty")
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(logWordWrap))
	if err != nil {
		return fmt.Errorf("creating markdown renderer: %w", err)
	}
	rendered, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("rendering log: %w", err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), rendered)
	return err
}

type logOptions struct {
	stage core.StageName
	full  bool
}

const previewLimit = 400

// conversationMarkdown renders the session conversation with one heading
// per contiguous stage run.
func conversationMarkdown(st *core.WorkflowState, opts logOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", st.SessionID)
	fmt.Fprintf(&b, "**Mode**: %s | **Outcome**: %s | **Iteration**: %d/%d\n\n",
		st.Mode, outcomeLabel(st.Outcome), st.IterationCount, st.MaxIterations)
	b.WriteString("## Specification\n\n")
	b.WriteString(quote(st.DesignSpec))
	b.WriteString("\n")

	clip := func(s string) string {
		if opts.full {
			return s
		}
		return logging.Preview(s, previewLimit)
	}

	current := core.StageName("-")
	for _, m := range st.ConversationLog {
		if opts.stage != "" && m.Stage != opts.stage {
			continue
		}
		if m.Stage != current {
			current = m.Stage
			fmt.Fprintf(&b, "## %s\n\n", stageTitle(current))
		}
		switch m.Role {
		case core.RoleAssistant:
			if m.Content != "" {
				b.WriteString(m.Content)
				b.WriteString("\n\n")
			}
			for _, req := range m.ToolRequests {
				fmt.Fprintf(&b, "- **%s** `%s`", req.Name, req.ID)
				if len(req.Args) > 0 {
					fmt.Fprintf(&b, " %s", inlineArgs(req.Args, clip))
				}
				if req.ArgsError != "" {
					fmt.Fprintf(&b, " (bad arguments: %s)", req.ArgsError)
				}
				b.WriteString("\n")
			}
			if m.HasToolRequests() {
				b.WriteString("\n")
			}
		case core.RoleTool:
			fmt.Fprintf(&b, "**%s** %s `%s`\n\n", m.ToolName, statusMark(m.Status), m.ToolCallID)
			if m.Content != "" {
				b.WriteString(fence(clip(m.Content)))
			}
		default:
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}
	}

	if len(st.ErrorLogs) > 0 {
		b.WriteString("## Error logs\n\n")
		for i, e := range st.ErrorLogs {
			fmt.Fprintf(&b, "%d. %s\n", i+1, firstLine(e, 200))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func stageTitle(s core.StageName) string {
	if s == core.StageNone {
		return "Summary"
	}
	return s.String()
}

func statusMark(s core.ResultStatus) string {
	if s == core.StatusFailed {
		return "failed"
	}
	return "ok"
}

func inlineArgs(args map[string]any, clip func(string) string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(args[k])
		if strings.Contains(v, "\n") {
			v = fmt.Sprintf("<%d lines>", strings.Count(v, "\n")+1)
		}
		parts = append(parts, fmt.Sprintf("`%s=%s`", k, clip(v)))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n") + "\n"
}

func fence(s string) string {
	// Keep a payload that itself contains fences from closing ours.
	marker := "```"
	for strings.Contains(s, marker) {
		marker += "`"
	}
	return marker + "\n" + strings.TrimRight(s, "\n") + "\n" + marker + "\n\n"
}
