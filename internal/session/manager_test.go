package session

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/testutil"
)

func newManager(t *testing.T) (*Manager, *testutil.MemoryStore) {
	t.Helper()
	store := testutil.NewMemoryStore()
	m, err := NewManager(filepath.Join(t.TempDir(), "workspace"), store, nil)
	require.NoError(t, err)
	return m, store
}

func TestSanitizeTag(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"counter_v2", "counter_v2", false},
		{"my counter!", "mycounter", false},
		{"../../etc", "etc", false},
		{"fifo-8", "fifo-8", false},
		{"", "", true},
		{"   ", "", true},
		{"!!!", "", true},
		{"ñandú", "and", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SanitizeTag(tt.in)
			if tt.wantErr {
				assert.Equal(t, core.CodeInvalidTag, core.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewID(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^session-[0-9a-f]{8}$`), NewID())
	assert.NotEqual(t, NewID(), NewID())
}

func TestManager_Create(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)

	id, err := m.Create(ctx, "alu 32", "gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, "alu32", id)
	assert.DirExists(t, filepath.Join(m.BaseDir(), "alu32"))

	meta, err := store.GetMetadata(ctx, "alu32")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "gemini-2.5-flash", meta.ModelName)

	_, err = m.Create(ctx, "alu32", "")
	assert.Equal(t, core.CodeSessionExists, core.GetCode(err))

	_, err = m.Create(ctx, "???", "")
	assert.Equal(t, core.CodeInvalidTag, core.GetCode(err))
}

func TestManager_CreateDefaultID(t *testing.T) {
	m, _ := newManager(t)
	id, err := m.Create(context.Background(), "", "m")
	require.NoError(t, err)
	assert.Regexp(t, `^session-[0-9a-f]{8}$`, id)
	assert.True(t, m.Exists(id))
}

func TestManager_PathRejectsUnsafeIDs(t *testing.T) {
	m, _ := newManager(t)

	p, err := m.Path("ok_id")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.BaseDir(), "ok_id"), p)

	_, err = m.Path("../escape")
	assert.Equal(t, core.CodeInvalidTag, core.GetCode(err))
	assert.False(t, m.Exists("../escape"))
}

func TestManager_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		path, err := m.Ensure(id)
		require.NoError(t, err)
		require.NoError(t, os.Chtimes(path, base, base.Add(time.Duration(i)*time.Hour)))
	}
	// A checkpoint makes "a" the most recently active session.
	st := testutil.NewTestState(func(s *core.WorkflowState) {
		s.SessionID = "a"
		s.UpdatedAt = base.Add(5 * time.Hour)
	})
	require.NoError(t, store.Save(ctx, st))

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	require.NotNil(t, list[0].Checkpoint)
	assert.Equal(t, "c", list[1].ID)
	assert.Equal(t, "b", list[2].ID)
	assert.Nil(t, list[1].Checkpoint)
}

func TestManager_Delete(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)

	id, err := m.Create(ctx, "gone", "m")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, testutil.NewTestState(func(s *core.WorkflowState) { s.SessionID = id })))

	require.NoError(t, m.Delete(ctx, id))
	assert.NoDirExists(t, filepath.Join(m.BaseDir(), id))
	st, _ := store.Load(ctx, id)
	assert.Nil(t, st)
	meta, _ := store.GetMetadata(ctx, id)
	assert.Nil(t, meta)

	err = m.Delete(ctx, id)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestManager_DeleteStoreOnlySession(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	require.NoError(t, store.Save(ctx, testutil.NewTestState(func(s *core.WorkflowState) { s.SessionID = "orphan" })))

	require.NoError(t, m.Delete(ctx, "orphan"))
	st, _ := store.Load(ctx, "orphan")
	assert.Nil(t, st)
}

func TestManager_Clear(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)

	for _, tag := range []string{"one", "two"} {
		_, err := m.Create(ctx, tag, "m")
		require.NoError(t, err)
	}
	require.NoError(t, store.Save(ctx, testutil.NewTestState(func(s *core.WorkflowState) { s.SessionID = "ghost" })))

	n, err := m.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	sums, _ := store.List(ctx)
	assert.Empty(t, sums)
	metas, _ := store.ListMetadata(ctx)
	assert.Empty(t, metas)
}

func TestManager_Recover(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)

	_, err := m.Create(ctx, "known", "gpt-4o")
	require.NoError(t, err)
	mtime := time.Date(2024, 12, 24, 10, 0, 0, 0, time.UTC)
	for _, id := range []string{"lost_b", "lost_a"} {
		path, err := m.Ensure(id)
		require.NoError(t, err)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	// Stray files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(m.BaseDir(), "notes.txt"), []byte("x"), 0o600))

	restored, err := m.Recover(ctx, "gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, []string{"lost_a", "lost_b"}, restored)

	meta, err := store.GetMetadata(ctx, "lost_a")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "gemini-2.5-flash", meta.ModelName)
	assert.True(t, meta.CreatedAt.Equal(mtime))

	known, _ := store.GetMetadata(ctx, "known")
	assert.Equal(t, "gpt-4o", known.ModelName)

	again, err := m.Recover(ctx, "gemini-2.5-flash")
	require.NoError(t, err)
	assert.Empty(t, again)
}
