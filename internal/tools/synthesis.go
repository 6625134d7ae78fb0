package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

// Directories the OpenROAD flow writes into, mounted from the workspace.
const (
	ResultsDir = "orfs_results"
	LogsDir    = "orfs_logs"
	ReportsDir = "orfs_reports"

	orfsFlowDir     = "/OpenROAD-flow-scripts/flow"
	containerMount  = "/workspace"
	constraintsFile = "constraints.sdc"
	flowConfigFile  = "config.mk"
)

var moduleName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// SynthesisReport is the structured data attached to synthesize results.
type SynthesisReport struct {
	TopModule string   `json:"top_module"`
	Platform  string   `json:"platform"`
	Files     []string `json:"files"`
	ExitCode  int      `json:"exit_code"`
}

// SynthesizeTool runs the OpenROAD flow scripts in a container.
type SynthesizeTool struct {
	ws       *Workspace
	runner   CommandRunner
	settings Settings
}

func NewSynthesizeTool(ws *Workspace, runner CommandRunner, settings Settings) *SynthesizeTool {
	return &SynthesizeTool{ws: ws, runner: runner, settings: settings}
}

func (t *SynthesizeTool) Name() string { return NameSynthesize }

func (t *SynthesizeTool) Description() string {
	return "Run logic synthesis with the OpenROAD flow (Yosys) on the verified design."
}

func (t *SynthesizeTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"top_module": stringProp("Name of the top-level module"),
		"files":      fileListProp("Design files to synthesize (default [\"design.v\"]); do not include testbenches"),
	}, "top_module")
}

func (t *SynthesizeTool) Invoke(ctx context.Context, args map[string]any) (Output, error) {
	top := strings.TrimSpace(stringArg(args, "top_module"))
	if !moduleName.MatchString(top) {
		return Failedf("Error: invalid top module name %q", top), nil
	}
	names := stringSliceArg(args, "files")
	if len(names) == 0 {
		names = []string{"design.v"}
	}
	files, failure := resolveFiles(t.ws, names)
	if failure != nil {
		return *failure, nil
	}

	dirs := []string{ResultsDir, LogsDir, ReportsDir}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(t.ws.Root(), d), 0o755); err != nil {
			return Output{}, fmt.Errorf("creating %s: %w", d, err)
		}
	}

	if !t.ws.Exists(constraintsFile) {
		sdc := fmt.Sprintf("create_clock -period %s [get_ports clk]\n", formatPeriod(t.settings.ClockPeriod))
		if _, err := t.ws.WriteFile(constraintsFile, []byte(sdc)); err != nil {
			return Output{}, fmt.Errorf("writing %s: %w", constraintsFile, err)
		}
	}
	if _, err := t.ws.WriteFile(flowConfigFile, []byte(FlowConfig(top, t.settings.Platform, files))); err != nil {
		return Output{}, fmt.Errorf("writing %s: %w", flowConfigFile, err)
	}

	cmdArgs := []string{"run", "--rm",
		"-v", t.ws.Root() + ":" + containerMount,
		"-v", filepath.Join(t.ws.Root(), ResultsDir) + ":" + orfsFlowDir + "/results",
		"-v", filepath.Join(t.ws.Root(), LogsDir) + ":" + orfsFlowDir + "/logs",
		"-v", filepath.Join(t.ws.Root(), ReportsDir) + ":" + orfsFlowDir + "/reports",
		"-w", orfsFlowDir,
		t.settings.DockerImage,
		"make", "DESIGN_CONFIG=" + containerMount + "/" + flowConfigFile,
	}
	res, err := t.runner.Run(ctx, Command{
		Path:    t.settings.Docker,
		Args:    cmdArgs,
		WorkDir: t.ws.Root(),
		Timeout: t.settings.SynthesisTimeout,
	})
	if err != nil {
		return Output{}, err
	}

	report := SynthesisReport{TopModule: top, Platform: t.settings.Platform, Files: files, ExitCode: res.ExitCode}
	tail := lastLines(res.Combined(), 40)
	switch {
	case res.TimedOut:
		return Output{Status: core.StatusFailed, Payload: fmt.Sprintf("Synthesis timed out after %s:\n%s", t.settings.SynthesisTimeout, tail), Data: report}, nil
	case res.ExitCode != 0:
		return Output{Status: core.StatusFailed, Payload: fmt.Sprintf("Synthesis Failed (exit %d):\n%s", res.ExitCode, tail), Data: report}, nil
	}
	return Succeeded(fmt.Sprintf("Synthesis Successful for %s on %s.\n%s", top, t.settings.Platform, tail), report), nil
}

// FlowConfig renders the ORFS config.mk for a design. Files are workspace
// relative and mapped onto the container mount.
func FlowConfig(top, platform string, files []string) string {
	container := make([]string, len(files))
	for i, f := range files {
		container[i] = containerMount + "/" + filepath.ToSlash(f)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "export DESIGN_NAME = %s\n", top)
	fmt.Fprintf(&b, "export PLATFORM = %s\n", platform)
	fmt.Fprintf(&b, "export VERILOG_FILES = %s\n", strings.Join(container, " "))
	fmt.Fprintf(&b, "export SDC_FILE = %s/%s\n", containerMount, constraintsFile)
	b.WriteString("export CORE_UTILIZATION = 5\n")
	b.WriteString("export CORE_ASPECT_RATIO = 1\n")
	b.WriteString("export CORE_MARGIN = 2\n")
	return b.String()
}

func formatPeriod(p float64) string {
	if p <= 0 {
		p = 10
	}
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
