package tools

import (
	"context"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/testutil"
)

// fakeRunner returns scripted results keyed by binary path.
type fakeRunner struct {
	results map[string]*CommandResult
	err     error
	calls   []Command
}

func (f *fakeRunner) Run(_ context.Context, c Command) (*CommandResult, error) {
	f.calls = append(f.calls, c)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[c.Path]; ok {
		return r, nil
	}
	return &CommandResult{}, nil
}

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	return ws
}

func writeWorkspaceFile(t *testing.T, ws *Workspace, name, content string) string {
	t.Helper()
	return testutil.WriteFile(t, ws.Root(), name, content)
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Timeout = time.Second
	return s
}
