package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/logging"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/service/workflow"
)

var batchCmd = &cobra.Command{
	Use:   "batch <file.yaml>",
	Short: "Run several sessions concurrently",
	Long: `Run every job of a YAML batch file as its own session. At most
batch.concurrency sessions run at once and all of them share one reasoning
rate limit (llm.requests_per_minute).

  defaults:
    max_iterations: 3
    mode: multi
  jobs:
    - session: counter
      spec: A 4-bit up counter with synchronous reset.
    - session: fifo
      spec_file: specs/fifo.md
      max_iterations: 5`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var batchConcurrency int

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "j", 0, "sessions run at once (default: batch.concurrency)")
}

// batchFile is the on-disk job list.
type batchFile struct {
	Defaults batchJob   `yaml:"defaults"`
	Jobs     []batchJob `yaml:"jobs"`
}

type batchJob struct {
	Session       string `yaml:"session"`
	Spec          string `yaml:"spec"`
	SpecFile      string `yaml:"spec_file"`
	Mode          string `yaml:"mode"`
	MaxIterations int    `yaml:"max_iterations"`
}

// loadBatchFile parses path and resolves spec files relative to it.
// Defaults fill fields a job leaves empty.
func loadBatchFile(path string) ([]batchJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("parsing batch file: %v", err))
	}
	if len(f.Jobs) == 0 {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "batch file has no jobs")
	}

	seen := map[string]bool{}
	base := filepath.Dir(path)
	for i := range f.Jobs {
		job := &f.Jobs[i]
		if job.Mode == "" {
			job.Mode = f.Defaults.Mode
		}
		if job.MaxIterations == 0 {
			job.MaxIterations = f.Defaults.MaxIterations
		}
		if job.SpecFile != "" {
			p := job.SpecFile
			if !filepath.IsAbs(p) {
				p = filepath.Join(base, p)
			}
			spec, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("job %d: reading spec file: %w", i+1, err)
			}
			job.Spec = string(spec)
		}
		job.Spec = strings.TrimSpace(job.Spec)
		if job.Spec == "" {
			return nil, core.ErrValidation(core.CodeEmptySpec, fmt.Sprintf("job %d has no specification", i+1))
		}
		if job.Session != "" {
			if seen[job.Session] {
				return nil, core.ErrValidation(core.CodeInvalidTag,
					fmt.Sprintf("session %q appears more than once", job.Session))
			}
			seen[job.Session] = true
		}
	}
	return f.Jobs, nil
}

// batchResult is the outcome of one job.
type batchResult struct {
	Job     batchJob
	Session string
	State   *core.WorkflowState
	Err     error
}

func runBatch(cmd *cobra.Command, args []string) error {
	jobs, err := loadBatchFile(args[0])
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	limit := batchConcurrency
	if limit <= 0 {
		limit = a.cfg.Batch.Concurrency
	}
	results := runJobs(commandContext(cmd.Context()), a, jobs, limit, observerFor(cmd, false))
	return reportBatch(cmd.OutOrStdout(), results)
}

// runJobs runs every job to completion. One failing job does not cancel the
// others.
func runJobs(ctx context.Context, a *app, jobs []batchJob, limit int, observer workflow.Observer) []batchResult {
	limiter := a.newLimiter()
	results := make([]batchResult, len(jobs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			res := batchResult{Job: job}
			defer func() { results[i] = res }()

			maxIter := job.MaxIterations
			if maxIter <= 0 {
				maxIter = a.cfg.Workflow.MaxIterations
			}
			runner, err := a.newRunner(job.Mode, limiter, observer)
			if err != nil {
				res.Err = err
				return nil
			}
			id, err := a.sessions.Create(ctx, job.Session, a.cfg.LLM.Model)
			if err != nil {
				res.Err = err
				return nil
			}
			res.Session = id
			a.logger.Info("batch job started", logging.KeySession, id)
			res.State, res.Err = runner.Run(ctx, id, job.Spec, maxIter)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// reportBatch prints one row per job and returns an error when any job did
// not succeed.
func reportBatch(w io.Writer, results []batchResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tOUTCOME\tITERATIONS\tDETAIL")
	failed := 0
	for _, r := range results {
		id := r.Session
		if id == "" {
			id = r.Job.Session
		}
		outcome, iters, detail := "error", "-", ""
		if r.State != nil {
			outcome = outcomeLabel(r.State.Outcome)
			iters = fmt.Sprintf("%d/%d", r.State.IterationCount, r.State.MaxIterations)
			detail = formatMetrics(r.State.PPAMetrics)
		}
		if r.Err != nil {
			detail = firstLine(FormatError(r.Err), 100)
		}
		if r.State == nil || r.State.Outcome != core.OutcomeSuccess {
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, outcome, iters, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d batch job(s) did not succeed", failed, len(results))
	}
	return nil
}
