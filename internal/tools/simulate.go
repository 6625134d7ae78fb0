package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

var (
	passMarker = regexp.MustCompile(`(?i)\b(test(s)?\s+)?passed\b|\bverification passed\b|\ball tests pass`)
	failMarker = regexp.MustCompile(`(?i)\bfail(ed|ure)?\b|\berrors?\b|\bmismatch\b`)
	// Summary lines such as "Error count: 0" or "0 errors" report the
	// absence of failures and are removed before looking for failure markers.
	zeroCounts = regexp.MustCompile(`(?i)\b(errors?|fail(ures?|ed|s)?|mismatch(es)?)(\s+count)?\s*[:=]\s*0+\b|\b0+\s+(errors?|failures?|mismatch(es)?)\b`)
)

// reportsFailure reports whether simulation output carries a failure
// marker other than a zero-count summary.
func reportsFailure(out string) bool {
	return failMarker.MatchString(zeroCounts.ReplaceAllString(out, ""))
}

// SimulationReport is the structured data attached to simulate results.
type SimulationReport struct {
	Compiled bool `json:"compiled"`
	ExitCode int  `json:"exit_code"`
	Passed   bool `json:"passed"`
}

// SimulateTool compiles with iverilog and runs the result with vvp.
type SimulateTool struct {
	ws       *Workspace
	runner   CommandRunner
	settings Settings
}

func NewSimulateTool(ws *Workspace, runner CommandRunner, settings Settings) *SimulateTool {
	return &SimulateTool{ws: ws, runner: runner, settings: settings}
}

func (t *SimulateTool) Name() string { return NameSimulate }

func (t *SimulateTool) Description() string {
	return "Compile design and testbench files with Icarus Verilog and run the simulation. " +
		"The testbench must print PASSED on success and FAILED or ERROR on any mismatch."
}

func (t *SimulateTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"files": fileListProp("Design and testbench files, e.g. [\"design.v\", \"tb.v\"]"),
		"top":   stringProp("Optional top-level testbench module"),
	}, "files")
}

func (t *SimulateTool) Invoke(ctx context.Context, args map[string]any) (Output, error) {
	files, failure := resolveFiles(t.ws, stringSliceArg(args, "files"))
	if failure != nil {
		return *failure, nil
	}

	compileArgs := []string{"-g2012", "-o", "sim.vvp"}
	if top := strings.TrimSpace(stringArg(args, "top")); top != "" {
		compileArgs = append(compileArgs, "-s", top)
	}
	compileArgs = append(compileArgs, files...)

	compile, err := t.runner.Run(ctx, Command{
		Path:    t.settings.Iverilog,
		Args:    compileArgs,
		WorkDir: t.ws.Root(),
		Timeout: t.settings.Timeout,
	})
	if err != nil {
		return Output{}, err
	}
	report := SimulationReport{ExitCode: compile.ExitCode}
	if compile.TimedOut || compile.ExitCode != 0 {
		return Output{
			Status:  core.StatusFailed,
			Payload: fmt.Sprintf("Compilation failed:\n%s", strings.TrimSpace(compile.Combined())),
			Data:    report,
		}, nil
	}
	report.Compiled = true

	run, err := t.runner.Run(ctx, Command{
		Path:    t.settings.Vvp,
		Args:    []string{"sim.vvp"},
		WorkDir: t.ws.Root(),
		Timeout: t.settings.Timeout,
	})
	if err != nil {
		return Output{}, err
	}
	report.ExitCode = run.ExitCode
	out := strings.TrimSpace(run.Combined())

	switch {
	case run.TimedOut:
		return Output{Status: core.StatusFailed, Payload: fmt.Sprintf("Simulation timed out after %s:\n%s", t.settings.Timeout, out), Data: report}, nil
	case run.ExitCode != 0:
		return Output{Status: core.StatusFailed, Payload: fmt.Sprintf("Simulation exited with code %d:\n%s", run.ExitCode, out), Data: report}, nil
	case reportsFailure(out):
		return Output{Status: core.StatusFailed, Payload: "Simulation FAILED:\n" + out, Data: report}, nil
	case !passMarker.MatchString(out):
		return Output{Status: core.StatusFailed, Payload: "Simulation finished without a PASSED marker:\n" + out, Data: report}, nil
	}
	report.Passed = true
	return Succeeded("Simulation PASSED:\n"+out, report), nil
}
