package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

func TestLint(t *testing.T) {
	tests := []struct {
		name       string
		result     *CommandResult
		wantStatus core.ResultStatus
		wantText   string
	}{
		{"clean", &CommandResult{}, core.StatusOK, "Syntax OK"},
		{"warnings", &CommandResult{Stderr: "design.v:3: warning: implicit net"}, core.StatusOK, "warnings"},
		{"errors", &CommandResult{ExitCode: 1, Stderr: "design.v:3: syntax error"}, core.StatusFailed, "syntax error"},
		{"timeout", &CommandResult{TimedOut: true, ExitCode: -1}, core.StatusFailed, "timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := newTestWorkspace(t)
			writeWorkspaceFile(t, ws, "design.v", "module top; endmodule")
			runner := &fakeRunner{results: map[string]*CommandResult{"iverilog": tt.result}}

			out, err := NewLintTool(ws, runner, testSettings()).Invoke(context.Background(), map[string]any{"files": []any{"design.v"}})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Contains(t, out.Payload, tt.wantText)

			require.Len(t, runner.calls, 1)
			assert.Equal(t, []string{"-g2012", "-t", "null", "-Wall", "design.v"}, runner.calls[0].Args)
			assert.Equal(t, ws.Root(), runner.calls[0].WorkDir)
		})
	}
}

func TestLint_MissingFile(t *testing.T) {
	runner := &fakeRunner{}
	out, err := NewLintTool(newTestWorkspace(t), runner, testSettings()).Invoke(context.Background(), map[string]any{"files": "design.v"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, out.Status)
	assert.Empty(t, runner.calls)
}

func TestSimulate(t *testing.T) {
	tests := []struct {
		name         string
		compile      *CommandResult
		run          *CommandResult
		wantStatus   core.ResultStatus
		wantCompiled bool
		wantCalls    int
	}{
		{
			name:         "pass",
			compile:      &CommandResult{},
			run:          &CommandResult{Stdout: "VCD info: dumpfile dump.vcd opened\nTEST PASSED"},
			wantStatus:   core.StatusOK,
			wantCompiled: true,
			wantCalls:    2,
		},
		{
			name:         "failure marker",
			compile:      &CommandResult{},
			run:          &CommandResult{Stdout: "count=3 expected 4\nTEST FAILED"},
			wantStatus:   core.StatusFailed,
			wantCompiled: true,
			wantCalls:    2,
		},
		{
			name:         "zero error summary",
			compile:      &CommandResult{},
			run:          &CommandResult{Stdout: "Error count: 0\nMismatches = 0\n0 failures\nTEST PASSED"},
			wantStatus:   core.StatusOK,
			wantCompiled: true,
			wantCalls:    2,
		},
		{
			name:         "non-zero error summary",
			compile:      &CommandResult{},
			run:          &CommandResult{Stdout: "Error count: 2\nTEST PASSED"},
			wantStatus:   core.StatusFailed,
			wantCompiled: true,
			wantCalls:    2,
		},
		{
			name:         "no marker",
			compile:      &CommandResult{},
			run:          &CommandResult{Stdout: "done"},
			wantStatus:   core.StatusFailed,
			wantCompiled: true,
			wantCalls:    2,
		},
		{
			name:         "runtime exit code",
			compile:      &CommandResult{},
			run:          &CommandResult{ExitCode: 1, Stdout: "PASSED"},
			wantStatus:   core.StatusFailed,
			wantCompiled: true,
			wantCalls:    2,
		},
		{
			name:         "compile error",
			compile:      &CommandResult{ExitCode: 2, Stderr: "tb.v:10: syntax error"},
			wantStatus:   core.StatusFailed,
			wantCompiled: false,
			wantCalls:    1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := newTestWorkspace(t)
			writeWorkspaceFile(t, ws, "design.v", "module top; endmodule")
			writeWorkspaceFile(t, ws, "tb.v", "module tb; endmodule")
			runner := &fakeRunner{results: map[string]*CommandResult{"iverilog": tt.compile, "vvp": tt.run}}

			out, err := NewSimulateTool(ws, runner, testSettings()).Invoke(context.Background(),
				map[string]any{"files": []any{"design.v", "tb.v"}, "top": "tb"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, out.Status, out.Payload)

			report, ok := out.Data.(SimulationReport)
			require.True(t, ok, "data should be a SimulationReport")
			assert.Equal(t, tt.wantCompiled, report.Compiled)
			assert.Equal(t, tt.wantStatus == core.StatusOK, report.Passed)
			assert.Len(t, runner.calls, tt.wantCalls)
			assert.Equal(t, []string{"-g2012", "-o", "sim.vvp", "-s", "tb", "design.v", "tb.v"}, runner.calls[0].Args)
		})
	}
}

func TestReportsFailure(t *testing.T) {
	cases := map[string]bool{
		"TEST PASSED":                         false,
		"Error count: 0\nTEST PASSED":         false,
		"errors=0 failures=0":                 false,
		"Errors: 10":                          true,
		"ERROR: q=3 expected 4":               true,
		"mismatch at t=20":                    true,
		"0 errors, then a FAILED check later": true,
	}
	for out, want := range cases {
		assert.Equal(t, want, reportsFailure(out), out)
	}
}

func TestSimulate_RunnerError(t *testing.T) {
	ws := newTestWorkspace(t)
	writeWorkspaceFile(t, ws, "design.v", "module top; endmodule")
	runner := &fakeRunner{err: errors.New("iverilog: executable file not found")}

	_, err := NewSimulateTool(ws, runner, testSettings()).Invoke(context.Background(), map[string]any{"files": "design.v"})
	assert.Error(t, err)
}

func TestSynthesize(t *testing.T) {
	ws := newTestWorkspace(t)
	writeWorkspaceFile(t, ws, "design.v", "module counter(input clk); endmodule")
	runner := &fakeRunner{results: map[string]*CommandResult{"docker": {Stdout: "Finished synthesis"}}}

	out, err := NewSynthesizeTool(ws, runner, testSettings()).Invoke(context.Background(), map[string]any{"top_module": "counter"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusOK, out.Status, out.Payload)
	assert.Contains(t, out.Payload, "Synthesis Successful")

	for _, d := range []string{ResultsDir, LogsDir, ReportsDir} {
		info, err := os.Stat(filepath.Join(ws.Root(), d))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	sdc, err := ws.ReadFile("constraints.sdc")
	require.NoError(t, err)
	assert.Equal(t, "create_clock -period 10 [get_ports clk]\n", string(sdc))

	cfg, err := ws.ReadFile("config.mk")
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "export DESIGN_NAME = counter\n")
	assert.Contains(t, string(cfg), "export PLATFORM = sky130hd\n")
	assert.Contains(t, string(cfg), "export VERILOG_FILES = /workspace/design.v\n")
	assert.Contains(t, string(cfg), "export SDC_FILE = /workspace/constraints.sdc\n")

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "docker", call.Path)
	joined := strings.Join(call.Args, " ")
	assert.Contains(t, joined, ws.Root()+":/workspace")
	assert.Contains(t, joined, "/OpenROAD-flow-scripts/flow/logs")
	assert.True(t, strings.HasSuffix(joined, "openroad/orfs:latest make DESIGN_CONFIG=/workspace/config.mk"), joined)
}

func TestSynthesize_KeepsExistingConstraints(t *testing.T) {
	ws := newTestWorkspace(t)
	writeWorkspaceFile(t, ws, "design.v", "module counter; endmodule")
	writeWorkspaceFile(t, ws, "constraints.sdc", "create_clock -period 4 [get_ports clk]\n")
	runner := &fakeRunner{results: map[string]*CommandResult{"docker": {ExitCode: 2, Stderr: "Error: yosys failed"}}}

	out, err := NewSynthesizeTool(ws, runner, testSettings()).Invoke(context.Background(), map[string]any{"top_module": "counter"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, out.Status)
	assert.Contains(t, out.Payload, "yosys failed")

	sdc, _ := ws.ReadFile("constraints.sdc")
	assert.Contains(t, string(sdc), "-period 4")
}

func TestSynthesize_RejectsBadTopModule(t *testing.T) {
	runner := &fakeRunner{}
	out, err := NewSynthesizeTool(newTestWorkspace(t), runner, testSettings()).Invoke(context.Background(),
		map[string]any{"top_module": "top; rm -rf /"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, out.Status)
	assert.Empty(t, runner.calls)
}

func TestToolbox_StageRegistries(t *testing.T) {
	box := NewToolbox(newTestWorkspace(t), &fakeRunner{}, testSettings(), nil)

	assert.Equal(t, []string{NameWriteFile, NameReadFile, NameEditFile, NameLint}, box.Coder().Names())
	assert.Equal(t, []string{NameWriteFile, NameSimulate, NameWaveform}, box.Verifier().Names())
	assert.Equal(t, []string{NameSynthesize}, box.Synthesizer().Names())
	assert.Equal(t, []string{NameGetMetrics, NameSearchLogs}, box.PPAAnalyst().Names())
	assert.Len(t, box.Architect().Names(), 9)
}
