package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/config"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/logging"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/service"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/service/workflow"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/session"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/testutil"
)

func plainOutput(t *testing.T) {
	t.Helper()
	prev := noColor
	noColor = true
	t.Cleanup(func() { noColor = prev })
}

func testApp(t *testing.T, client core.ReasoningClient) *app {
	t.Helper()
	cfg, err := config.NewLoader().Load()
	require.NoError(t, err)
	cfg.Workspace.BaseDir = filepath.Join(t.TempDir(), "workspace")

	store := testutil.NewMemoryStore()
	sessions, err := session.NewManager(cfg.Workspace.BaseDir, store, nil)
	require.NoError(t, err)
	return &app{
		cfg:      cfg,
		logger:   logging.NewNop(),
		store:    store,
		sessions: sessions,
		clientFn: func(*service.RateLimiter) (core.ReasoningClient, error) { return client, nil },
	}
}

func idleClient() *testutil.ScriptedClient {
	return testutil.NewScriptedClient().WithFallback(func(context.Context, []core.Message, []core.ToolSpec) (*core.Completion, error) {
		return &core.Completion{Message: core.AssistantMessage("Done."), Usage: core.Usage{InputTokens: 10, OutputTokens: 2, TotalTokens: 12}}, nil
	})
}

func TestReadSpec(t *testing.T) {
	got, err := readSpec([]string{"A", "counter "}, "")
	require.NoError(t, err)
	assert.Equal(t, "A counter", got)

	path := filepath.Join(t.TempDir(), "spec.md")
	require.NoError(t, os.WriteFile(path, []byte("\nAn 8-bit shift register.\n"), 0o600))
	got, err = readSpec([]string{"ignored"}, path)
	require.NoError(t, err)
	assert.Equal(t, "An 8-bit shift register.", got)

	_, err = readSpec(nil, "")
	assert.Equal(t, core.CodeEmptySpec, core.GetCode(err))

	_, err = readSpec(nil, filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}

func TestExitCodeAndFormatError(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(core.ErrIterationExhausted(3, 3)))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))

	assert.Equal(t, "Error: session not found: x (SESSION_NOT_FOUND)", FormatError(core.ErrSessionNotFound("x")))
	assert.Equal(t, "Error: boom", FormatError(errors.New("boom")))
}

func TestBanner(t *testing.T) {
	plainOutput(t)

	st := testutil.NewTestState(func(s *core.WorkflowState) {
		s.Outcome = core.OutcomeSuccess
		s.IterationCount = 1
	})
	assert.Equal(t, "SUCCESS  s1 verified after 2 iteration(s)", banner(st))

	st.Outcome = core.OutcomeFailure
	st.IterationCount = 3
	assert.Equal(t, "FAILURE  s1 still failing after 3 of 3 iterations", banner(st))

	st.Outcome = core.OutcomeNone
	st.CurrentStage = core.StageVerifier
	assert.Equal(t, "RUNNING  s1 at verifier", banner(st))
}

func TestStatusView_Structured(t *testing.T) {
	st := testutil.NewTestState(func(s *core.WorkflowState) {
		s.PPAMetrics = core.Metrics{core.MetricArea: core.Float(123.45)}
		s.ErrorLogs = []string{"first", "second\ndetail"}
		s.Usage = core.Usage{InputTokens: 5, TotalTokens: 7}
	})
	meta := &core.SessionMetadata{SessionID: "s1", ModelName: "gemini-2.5-flash", TotalCost: 0.25}

	var buf bytes.Buffer
	require.NoError(t, writeStructured(&buf, formatJSON, newStatusView(st, meta)))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "running", decoded["outcome"])
	assert.Equal(t, "none", decoded["current_stage"])
	assert.Equal(t, "second\ndetail", decoded["latest_error"])
	metrics := decoded["ppa_metrics"].(map[string]any)
	assert.Equal(t, 123.45, metrics["area"])
	assert.Contains(t, metrics, "power")
	assert.Nil(t, metrics["power"])

	buf.Reset()
	require.NoError(t, writeStructured(&buf, formatYAML, newStatusView(st, meta)))
	var y map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &y))
	assert.Equal(t, "gemini-2.5-flash", y["model"])
	assert.Equal(t, 0.25, y["total_cost"])
	assert.Equal(t, 5, y["usage"].(map[string]any)["input_tokens"])
}

func TestRenderStatus_Text(t *testing.T) {
	plainOutput(t)
	st := testutil.NewTestState(func(s *core.WorkflowState) {
		s.Outcome = core.OutcomeSuccess
		s.SyntaxValid = true
		s.FunctionalValid = true
		s.SynthesisStatus = core.StatusOK
		s.PPAMetrics = core.Metrics{core.MetricArea: core.Float(88.5), core.MetricCellCount: core.Float(12)}
	})

	var buf bytes.Buffer
	renderStatus(&buf, st, nil)
	out := buf.String()
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "Functional: pass")
	assert.Contains(t, out, "Synthesis:  ok")
	assert.Contains(t, out, "area=88.5  cell_count=12")
}

func TestValidFormat(t *testing.T) {
	for _, f := range []string{"text", "json", "yaml"} {
		assert.NoError(t, validFormat(f))
	}
	assert.Error(t, validFormat("xml"))
}

func TestConversationMarkdown(t *testing.T) {
	st := testutil.NewTestState(func(s *core.WorkflowState) {
		s.ConversationLog = []core.Message{
			{Role: core.RoleAssistant, Stage: core.StageCoder, ToolRequests: []core.ToolRequest{
				{ID: "c1", Name: "write_file", Args: map[string]any{"filename": "counter.v", "content": "module counter;\nendmodule"}},
			}},
			{Role: core.RoleTool, Stage: core.StageCoder, ToolCallID: "c1", ToolName: "write_file", Status: core.StatusOK, Content: "Wrote counter.v"},
			{Role: core.RoleAssistant, Stage: core.StageVerifier, ToolRequests: []core.ToolRequest{
				{ID: "v1", Name: "simulate", ArgsError: "arguments are not a JSON object"},
			}},
			{Role: core.RoleTool, Stage: core.StageVerifier, ToolCallID: "v1", ToolName: "simulate", Status: core.StatusFailed, Content: "```\nTEST FAILED\n```"},
			{Role: core.RoleAssistant, Content: "**Verifier**: tests fail"},
		}
		s.ErrorLogs = []string{"Simulation failed"}
	})

	md := conversationMarkdown(st, logOptions{})
	assert.Contains(t, md, "# Session s1")
	assert.Contains(t, md, "> A 4-bit counter with synchronous reset.")
	assert.Contains(t, md, "## coder")
	assert.Contains(t, md, "`content=<2 lines>`")
	assert.Contains(t, md, "`filename=counter.v`")
	assert.Contains(t, md, "**simulate** failed `v1`")
	assert.Contains(t, md, "(bad arguments: arguments are not a JSON object)")
	assert.Contains(t, md, "````\n```\nTEST FAILED\n```\n````")
	assert.Contains(t, md, "## Summary")
	assert.Contains(t, md, "1. Simulation failed")

	only := conversationMarkdown(st, logOptions{stage: core.StageVerifier})
	assert.NotContains(t, only, "## coder")
	assert.Contains(t, only, "## verifier")
}

func TestWatchTarget(t *testing.T) {
	dir, match := watchTarget("sqlite", filepath.Join("data", "state"), "s1")
	assert.Equal(t, "data", dir)
	assert.True(t, match("state.db"))
	assert.True(t, match("state.db-wal"))
	assert.False(t, match("other.db"))

	dir, match = watchTarget("json", "checkpoints", "s1")
	assert.Equal(t, "checkpoints", dir)
	assert.True(t, match("s1.json"))
	assert.False(t, match("s1.meta.json"))
}

func TestLoadBatchFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "specs"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "specs", "fifo.md"), []byte("A FIFO.\n"), 0o600))
	path := filepath.Join(dir, "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
defaults:
  max_iterations: 2
  mode: single
jobs:
  - session: counter
    spec: A counter.
  - session: fifo
    spec_file: specs/fifo.md
    max_iterations: 5
    mode: multi
`), 0o600))

	jobs, err := loadBatchFile(path)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, batchJob{Session: "counter", Spec: "A counter.", Mode: "single", MaxIterations: 2}, jobs[0])
	assert.Equal(t, "A FIFO.", jobs[1].Spec)
	assert.Equal(t, "multi", jobs[1].Mode)
	assert.Equal(t, 5, jobs[1].MaxIterations)
}

func TestLoadBatchFile_Errors(t *testing.T) {
	cases := map[string]string{
		"no jobs":   "jobs: []",
		"no spec":   "jobs:\n  - session: a\n",
		"duplicate": "jobs:\n  - {session: a, spec: x}\n  - {session: a, spec: y}\n",
		"bad yaml":  "jobs: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "b.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := loadBatchFile(path)
			assert.Error(t, err)
		})
	}
}

func TestRunJobs_FailuresAreReportedPerJob(t *testing.T) {
	plainOutput(t)
	a := testApp(t, idleClient())
	jobs := []batchJob{
		{Session: "alpha", Spec: "A counter.", MaxIterations: 1},
		{Session: "beta", Spec: "A mux.", MaxIterations: 1, Mode: "single"},
		{Session: "bad mode", Spec: "x", Mode: "swarm"},
	}

	results := runJobs(context.Background(), a, jobs, 2, workflow.NopObserver{})
	require.Len(t, results, 3)

	// Nothing was ever simulated, so both real jobs exhaust their budget.
	for _, r := range results[:2] {
		require.NotNil(t, r.State, r.Job.Session)
		assert.Equal(t, core.OutcomeFailure, r.State.Outcome)
		assert.True(t, workflow.IsIterationExhausted(r.Err))
	}
	assert.Equal(t, core.ModeSingle, results[1].State.Mode)
	assert.Equal(t, core.CodeInvalidMode, core.GetCode(results[2].Err))
	assert.True(t, a.sessions.Exists("alpha"))

	var buf bytes.Buffer
	err := reportBatch(&buf, results)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 of 3")
	assert.Contains(t, buf.String(), "alpha")
	assert.Equal(t, 4, strings.Count(buf.String(), "\n"))

	meta, err := a.store.GetMetadata(context.Background(), "alpha")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Positive(t, meta.TotalTokens)
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirm(strings.NewReader("y\n"), &out, "ok?"))
	assert.True(t, confirm(strings.NewReader("YES\n"), &out, "ok?"))
	assert.False(t, confirm(strings.NewReader("\n"), &out, "ok?"))
	assert.False(t, confirm(strings.NewReader(""), &out, "ok?"))
	assert.Contains(t, out.String(), "ok? [y/N]")
}

func TestWriteSessionTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSessionTable(&buf, nil))
	assert.Equal(t, "No sessions\n", buf.String())

	buf.Reset()
	list := []session.Info{
		{ID: "a", Checkpoint: &core.CheckpointSummary{SessionID: "a", CurrentStage: core.StageCoder, Outcome: core.OutcomeSuccess}},
		{ID: "b", Metadata: &core.SessionMetadata{SessionID: "b", TotalTokens: 42, TotalCost: 0.5}},
	}
	require.NoError(t, writeSessionTable(&buf, list))
	out := buf.String()
	assert.Contains(t, out, "success")
	assert.Contains(t, out, "$0.5000")
}
