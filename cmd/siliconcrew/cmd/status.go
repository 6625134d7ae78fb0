package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

var statusCmd = &cobra.Command{
	Use:   "status [session]",
	Short: "Show session status",
	Long: `Without arguments, list every checkpointed session. With a session id,
show its stage, iteration, verification flags, metrics and token usage.

--follow keeps printing updates until the session finishes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var (
	statusFormat string
	statusFollow bool
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusFormat, "format", "o", formatText, "output format: text, json or yaml")
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "w", false, "watch the checkpoint and print every update")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := validFormat(statusFormat); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd.Context())
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		if statusFollow {
			return core.ErrValidation(core.CodeInvalidConfig, "--follow needs a session id")
		}
		return listCheckpoints(ctx, a, out, statusFormat)
	}

	id := args[0]
	if statusFollow {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		return followStatus(ctx, a, id, statusFormat, out)
	}
	st, err := loadSession(ctx, a, id)
	if err != nil {
		return err
	}
	return printStatus(ctx, a, st, statusFormat, out)
}

func loadSession(ctx context.Context, a *app, id string) (*core.WorkflowState, error) {
	st, err := a.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, core.ErrSessionNotFound(id)
	}
	return st, nil
}

func printStatus(ctx context.Context, a *app, st *core.WorkflowState, format string, w io.Writer) error {
	meta, err := a.store.GetMetadata(ctx, st.SessionID)
	if err != nil {
		a.logger.Warn("reading session metadata", "error", err)
	}
	if format == formatText {
		renderStatus(w, st, meta)
		return nil
	}
	return writeStructured(w, format, newStatusView(st, meta))
}

func listCheckpoints(ctx context.Context, a *app, w io.Writer, format string) error {
	sums, err := a.store.List(ctx)
	if err != nil {
		return err
	}
	if format != formatText {
		if sums == nil {
			sums = []core.CheckpointSummary{}
		}
		return writeStructured(w, format, sums)
	}
	if len(sums) == 0 {
		fmt.Fprintln(w, "No sessions")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tMODE\tSTAGE\tOUTCOME\tITERATION\tUPDATED")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			s.SessionID, s.Mode, s.CurrentStage, outcomeLabel(s.Outcome),
			s.IterationCount, s.MaxIterations, s.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// followStatus prints the session status whenever its checkpoint changes,
// until the session reaches a terminal outcome or ctx ends.
func followStatus(ctx context.Context, a *app, id, format string, w io.Writer) error {
	dir, match := watchTarget(a.cfg.State.Backend, a.cfg.State.Path, id)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	var last time.Time
	lastRuns := -1
	refresh := func() (bool, error) {
		st, err := a.store.Load(ctx, id)
		if err != nil || st == nil {
			// A checkpoint being replaced can be briefly unreadable.
			return false, nil
		}
		if st.StageRuns != lastRuns || !st.UpdatedAt.Equal(last) {
			lastRuns, last = st.StageRuns, st.UpdatedAt
			if err := printStatus(ctx, a, st, format, w); err != nil {
				return false, err
			}
			if format == formatText {
				fmt.Fprintln(w)
			}
		}
		return st.IsTerminal(), nil
	}

	if _, err := loadSession(ctx, a, id); err != nil {
		return err
	}
	if done, err := refresh(); done || err != nil {
		return err
	}

	// Polling covers filesystems where events are coalesced or dropped.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !match(filepath.Base(ev.Name)) || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("checkpoint watcher error", "error", err)
			continue
		case <-ticker.C:
		}
		if done, err := refresh(); done || err != nil {
			return err
		}
	}
}

// watchTarget returns the directory to watch and a matcher for the file
// names that carry checkpoint updates of session id.
func watchTarget(backend, path, id string) (string, func(string) bool) {
	if strings.EqualFold(backend, state.BackendJSON) {
		want := id + ".json"
		return path, func(name string) bool { return name == want }
	}
	if !strings.HasSuffix(path, ".db") {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
	}
	base := filepath.Base(path)
	// WAL mode writes land in <db>-wal before the checkpoint.
	return filepath.Dir(path), func(name string) bool { return strings.HasPrefix(name, base) }
}
