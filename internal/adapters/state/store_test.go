package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/testutil"
)

type backend struct {
	name string
	open func(t *testing.T) core.Store
}

func backends() []backend {
	return []backend{
		{"sqlite", func(t *testing.T) core.Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"json", func(t *testing.T) core.Store {
			s, err := NewJSONStore(filepath.Join(t.TempDir(), "state"))
			require.NoError(t, err)
			return s
		}},
	}
}

func richState(id string) *core.WorkflowState {
	return testutil.NewTestState(func(s *core.WorkflowState) {
		s.SessionID = id
		s.SourceCode = "module counter(input clk); endmodule"
		s.IterationCount = 1
		s.SyntaxValid = true
		s.ErrorLogs = []string{"Simulation failed: mismatch at t=20"}
		s.PPAMetrics = core.Metrics{core.MetricArea: core.Float(123.45), core.MetricPower: nil}
		s.CurrentStage = core.StageVerifier
		s.ConversationLog = []core.Message{
			{Role: core.RoleAssistant, Stage: core.StageCoder, ToolRequests: []core.ToolRequest{{ID: "c1", Name: "write_file", Args: map[string]any{"filename": "counter.v"}}}},
			{Role: core.RoleTool, ToolCallID: "c1", ToolName: "write_file", Status: core.StatusOK, Content: "ok"},
		}
		s.Usage = core.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	})
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)
			want := richState("round")

			require.NoError(t, store.Save(ctx, want))
			got, err := store.Load(ctx, "round")
			require.NoError(t, err)
			require.NotNil(t, got)

			assert.Equal(t, want.SourceCode, got.SourceCode)
			assert.Equal(t, want.ErrorLogs, got.ErrorLogs)
			assert.Equal(t, want.ConversationLog, got.ConversationLog)
			assert.Equal(t, want.Usage, got.Usage)
			assert.Equal(t, want.CurrentStage, got.CurrentStage)
			assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
			require.NotNil(t, got.PPAMetrics[core.MetricArea])
			assert.InDelta(t, 123.45, *got.PPAMetrics[core.MetricArea], 1e-9)
			assert.Nil(t, got.PPAMetrics[core.MetricPower])
		})
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)
			s := richState("replace")
			require.NoError(t, store.Save(ctx, s))

			s.IterationCount = 2
			s.Outcome = core.OutcomeSuccess
			require.NoError(t, store.Save(ctx, s))

			got, err := store.Load(ctx, "replace")
			require.NoError(t, err)
			assert.Equal(t, 2, got.IterationCount)
			assert.Equal(t, core.OutcomeSuccess, got.Outcome)

			list, err := store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			got, err := b.open(t).Load(context.Background(), "nope")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStore_SaveRequiresSessionID(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			err := b.open(t).Save(context.Background(), testutil.NewTestState(func(s *core.WorkflowState) {
				s.SessionID = ""
			}))
			assert.Equal(t, core.CodeInvalidState, core.GetCode(err))
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)
			base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, id := range []string{"old", "new", "mid"} {
				s := richState(id)
				s.UpdatedAt = base.Add(time.Duration([]int{0, 2, 1}[i]) * time.Hour)
				require.NoError(t, store.Save(ctx, s))
			}

			list, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "new", list[0].SessionID)
			assert.Equal(t, "mid", list[1].SessionID)
			assert.Equal(t, "old", list[2].SessionID)
			assert.Equal(t, core.StageVerifier, list[0].CurrentStage)
			assert.True(t, list[0].UpdatedAt.Equal(base.Add(2*time.Hour)))
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)
			require.NoError(t, store.Save(ctx, richState("gone")))
			require.NoError(t, store.Delete(ctx, "gone"))

			got, err := store.Load(ctx, "gone")
			require.NoError(t, err)
			assert.Nil(t, got)
			// Deleting twice is fine.
			assert.NoError(t, store.Delete(ctx, "gone"))
		})
	}
}

func TestStore_Metadata(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t)
			created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

			inserted, err := store.EnsureMetadata(ctx, core.SessionMetadata{SessionID: "m1", ModelName: "gemini-2.5-flash", CreatedAt: created})
			require.NoError(t, err)
			assert.True(t, inserted)

			inserted, err = store.EnsureMetadata(ctx, core.SessionMetadata{SessionID: "m1", ModelName: "other"})
			require.NoError(t, err)
			assert.False(t, inserted, "existing rows are left alone")

			require.NoError(t, store.AddUsage(ctx, "m1", core.Usage{InputTokens: 100, OutputTokens: 20, CachedTokens: 10, TotalTokens: 120}, 0.5))
			require.NoError(t, store.AddUsage(ctx, "m1", core.Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}, 0.25))

			meta, err := store.GetMetadata(ctx, "m1")
			require.NoError(t, err)
			require.NotNil(t, meta)
			assert.Equal(t, "gemini-2.5-flash", meta.ModelName)
			assert.True(t, meta.CreatedAt.Equal(created))
			assert.Equal(t, int64(101), meta.InputTokens)
			assert.Equal(t, int64(22), meta.OutputTokens)
			assert.Equal(t, int64(10), meta.CachedTokens)
			assert.Equal(t, int64(123), meta.TotalTokens)
			assert.InDelta(t, 0.75, meta.TotalCost, 1e-9)

			missing, err := store.GetMetadata(ctx, "unknown")
			require.NoError(t, err)
			assert.Nil(t, missing)

			err = store.AddUsage(ctx, "unknown", core.Usage{TotalTokens: 1}, 0)
			assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

			_, err = store.EnsureMetadata(ctx, core.SessionMetadata{SessionID: "m2", CreatedAt: created.Add(time.Hour)})
			require.NoError(t, err)
			all, err := store.ListMetadata(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "m2", all[0].SessionID)

			require.NoError(t, store.DeleteMetadata(ctx, "m2"))
			all, err = store.ListMetadata(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestSQLiteStore_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(ctx, richState("bad")))
	_, err = store.db.Exec("UPDATE checkpoints SET checksum = 'deadbeef' WHERE session_id = 'bad'")
	require.NoError(t, err)

	_, err = store.Load(ctx, "bad")
	assert.Equal(t, core.CodeStateCorrupted, core.GetCode(err))
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, richState("keep")))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Load(ctx, "keep")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "keep", got.SessionID)
}

func TestJSONStore_FallsBackToBackup(t *testing.T) {
	ctx := context.Background()
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)

	s := richState("bak")
	require.NoError(t, store.Save(ctx, s))
	s.IterationCount = 2
	require.NoError(t, store.Save(ctx, s))

	// Tamper with the primary file; the backup holds iteration 1.
	path := filepath.Join(store.Path(), "bak.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	env["checksum"] = "0000"
	data, err = json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	got, err := store.Load(ctx, "bak")
	require.NoError(t, err)
	assert.Equal(t, 1, got.IterationCount)
}

func TestJSONStore_CorruptWithoutBackup(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Path(), "x.json"), []byte("{not json"), 0o600))

	_, err = store.Load(context.Background(), "x")
	var derr *core.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, core.CodeStateCorrupted, derr.Code)
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore("sqlite", filepath.Join(dir, "state"))
	require.NoError(t, err)
	sq, ok := s.(*SQLiteStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "state.db"), sq.Path())
	require.NoError(t, s.Close())

	s, err = NewStore("JSON", filepath.Join(dir, "json"))
	require.NoError(t, err)
	_, ok = s.(*JSONStore)
	assert.True(t, ok)

	_, err = NewStore("redis", dir)
	assert.Equal(t, core.CodeInvalidConfig, core.GetCode(err))
}

func TestDecodeState_RejectsNewerVersion(t *testing.T) {
	s := richState("future")
	s.Version = core.CurrentStateVersion + 1
	data, sum, err := encodeState(s)
	require.NoError(t, err)

	_, err = decodeState("future", data, sum)
	assert.Equal(t, core.CodeStateCorrupted, core.GetCode(err))
}

func TestDecodeState_IgnoresPayloadWhitespace(t *testing.T) {
	data, sum, err := encodeState(richState("indent"))
	require.NoError(t, err)

	var indented bytes.Buffer
	require.NoError(t, json.Indent(&indented, data, "    ", "\t"))
	got, err := decodeState("indent", indented.Bytes(), sum)
	require.NoError(t, err)
	assert.Equal(t, "indent", got.SessionID)
}

func TestDecodeState_DetectsEditedPayload(t *testing.T) {
	data, sum, err := encodeState(richState("edited"))
	require.NoError(t, err)

	edited := bytes.Replace(data, []byte(`"session_id":"edited"`), []byte(`"session_id":"other"`), 1)
	require.NotEqual(t, data, edited)
	_, err = decodeState("edited", edited, sum)
	assert.Equal(t, core.CodeStateCorrupted, core.GetCode(err))
}

func TestJSONStore_ReopenLoadsIndentedCheckpoint(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewJSONStore(dir)
	require.NoError(t, err)

	want := richState("reopen")
	require.NoError(t, store.Save(ctx, want))

	raw, err := os.ReadFile(filepath.Join(dir, "reopen.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  ", "checkpoint files stay human readable")

	reopened, err := NewJSONStore(dir)
	require.NoError(t, err)
	got, err := reopened.Load(ctx, "reopen")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.SourceCode, got.SourceCode)
	assert.Equal(t, want.ConversationLog, got.ConversationLog)
}
