package tools

import (
	"context"
	"fmt"
	"strings"
)

// LintTool checks HDL syntax with iverilog's null target.
type LintTool struct {
	ws       *Workspace
	runner   CommandRunner
	settings Settings
}

func NewLintTool(ws *Workspace, runner CommandRunner, settings Settings) *LintTool {
	return &LintTool{ws: ws, runner: runner, settings: settings}
}

func (t *LintTool) Name() string { return NameLint }

func (t *LintTool) Description() string {
	return "Check Verilog/SystemVerilog files for syntax errors and warnings."
}

func (t *LintTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"files": fileListProp("Workspace files to lint, e.g. [\"design.v\"]"),
	}, "files")
}

func (t *LintTool) Invoke(ctx context.Context, args map[string]any) (Output, error) {
	files, failure := resolveFiles(t.ws, stringSliceArg(args, "files"))
	if failure != nil {
		return *failure, nil
	}

	cmdArgs := append([]string{"-g2012", "-t", "null", "-Wall"}, files...)
	res, err := t.runner.Run(ctx, Command{
		Path:    t.settings.Iverilog,
		Args:    cmdArgs,
		WorkDir: t.ws.Root(),
		Timeout: t.settings.Timeout,
	})
	if err != nil {
		return Output{}, err
	}
	if res.TimedOut {
		return Failedf("Lint timed out after %s", t.settings.Timeout), nil
	}

	out := strings.TrimSpace(res.Combined())
	if res.ExitCode != 0 {
		return Failedf("Syntax errors found (exit %d):\n%s", res.ExitCode, out), nil
	}
	if out == "" {
		return Succeeded("Syntax OK: no errors or warnings.", nil), nil
	}
	return Succeeded(fmt.Sprintf("Syntax OK with warnings:\n%s", out), nil), nil
}

// resolveFiles validates workspace file names and returns them relative to
// the root. The second return is a failed output to hand back as-is.
func resolveFiles(ws *Workspace, names []string) ([]string, *Output) {
	if len(names) == 0 {
		out := Failed("Error: no files given")
		return nil, &out
	}
	files := make([]string, 0, len(names))
	for _, name := range names {
		path, err := ws.Resolve(name)
		if err != nil {
			out := Failedf("Error: %v", err)
			return nil, &out
		}
		if !ws.Exists(name) {
			out := Failedf("Error: file %s does not exist", name)
			return nil, &out
		}
		files = append(files, ws.Rel(path))
	}
	return files, nil
}
