// Package session manages per-session workspace directories and keeps them
// consistent with the checkpoint store.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/logging"
)

// Info describes one session workspace and what the store knows about it.
type Info struct {
	ID         string                  `json:"session_id" yaml:"session_id"`
	Path       string                  `json:"path" yaml:"path"`
	ModifiedAt time.Time               `json:"modified_at" yaml:"modified_at"`
	Checkpoint *core.CheckpointSummary `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
	Metadata   *core.SessionMetadata   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Manager owns the workspace base directory.
type Manager struct {
	baseDir string
	store   core.Store
	logger  *logging.Logger
}

// NewManager creates baseDir if needed.
func NewManager(baseDir string, store core.Store, logger *logging.Logger) (*Manager, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating workspace directory: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{baseDir: abs, store: store, logger: logger}, nil
}

// BaseDir returns the absolute workspace base directory.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// SanitizeTag keeps letters, digits, '-' and '_'. A tag with nothing left
// is rejected.
func SanitizeTag(tag string) (string, error) {
	if strings.TrimSpace(tag) == "" {
		return "", core.ErrValidation(core.CodeInvalidTag, "session tag is required")
	}
	var b strings.Builder
	for _, r := range tag {
		if r < 128 && (r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", core.ErrValidation(core.CodeInvalidTag,
			fmt.Sprintf("session tag %q has no usable characters", tag))
	}
	return b.String(), nil
}

// NewID returns a default session id of the form session-<8 hex>.
func NewID() string {
	return "session-" + uuid.NewString()[:8]
}

// Create makes a workspace for tag, or for a generated id when tag is
// empty, and records its metadata row.
func (m *Manager) Create(ctx context.Context, tag, model string) (string, error) {
	id := NewID()
	if tag != "" {
		var err error
		if id, err = SanitizeTag(tag); err != nil {
			return "", err
		}
	}

	path := filepath.Join(m.baseDir, id)
	if err := os.Mkdir(path, 0o750); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", core.ErrConflict(core.CodeSessionExists,
				fmt.Sprintf("session %q already exists", id))
		}
		return "", fmt.Errorf("creating session workspace: %w", err)
	}

	if m.store != nil {
		if _, err := m.store.EnsureMetadata(ctx, core.SessionMetadata{SessionID: id, ModelName: model}); err != nil {
			m.logger.Warn("recording session metadata failed", logging.KeySession, id, "error", err)
		}
	}
	m.logger.Info("session created", logging.KeySession, id, "path", path)
	return id, nil
}

// Path resolves the workspace directory of id without creating it.
func (m *Manager) Path(id string) (string, error) {
	clean, err := SanitizeTag(id)
	if err != nil {
		return "", err
	}
	if clean != id {
		return "", core.ErrValidation(core.CodeInvalidTag,
			fmt.Sprintf("session id %q contains invalid characters", id))
	}
	return filepath.Join(m.baseDir, id), nil
}

// Ensure returns the workspace of id, creating the directory if missing.
func (m *Manager) Ensure(id string) (string, error) {
	path, err := m.Path(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return "", fmt.Errorf("creating session workspace: %w", err)
	}
	return path, nil
}

// Exists reports whether id has a workspace directory.
func (m *Manager) Exists(id string) bool {
	path, err := m.Path(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// List returns every session workspace, newest first. Checkpoint and
// metadata are attached when the store has them.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("reading workspace directory: %w", err)
	}

	checkpoints := map[string]core.CheckpointSummary{}
	metadata := map[string]core.SessionMetadata{}
	if m.store != nil {
		sums, err := m.store.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range sums {
			checkpoints[s.SessionID] = s
		}
		metas, err := m.store.ListMetadata(ctx)
		if err != nil {
			return nil, err
		}
		for _, md := range metas {
			metadata[md.SessionID] = md
		}
	}

	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info := Info{
			ID:         e.Name(),
			Path:       filepath.Join(m.baseDir, e.Name()),
			ModifiedAt: fi.ModTime().UTC(),
		}
		if cp, ok := checkpoints[info.ID]; ok {
			info.Checkpoint = &cp
		}
		if md, ok := metadata[info.ID]; ok {
			info.Metadata = &md
		}
		out = append(out, info)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].sortTime(), out[j].sortTime()
		if ti.Equal(tj) {
			return out[i].ID > out[j].ID
		}
		return ti.After(tj)
	})
	return out, nil
}

// sortTime prefers the last checkpoint, then the directory mtime.
func (i Info) sortTime() time.Time {
	if i.Checkpoint != nil && !i.Checkpoint.UpdatedAt.IsZero() {
		return i.Checkpoint.UpdatedAt
	}
	return i.ModifiedAt
}

// Delete removes the workspace, checkpoint and metadata of id.
func (m *Manager) Delete(ctx context.Context, id string) error {
	path, err := m.Path(id)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(path)
	if errors.Is(statErr, os.ErrNotExist) && !m.known(ctx, id) {
		return core.ErrSessionNotFound(id)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing session workspace: %w", err)
	}
	if m.store != nil {
		if err := m.store.Delete(ctx, id); err != nil {
			return err
		}
		if err := m.store.DeleteMetadata(ctx, id); err != nil {
			return err
		}
	}
	m.logger.Info("session deleted", logging.KeySession, id)
	return nil
}

func (m *Manager) known(ctx context.Context, id string) bool {
	if m.store == nil {
		return false
	}
	if st, err := m.store.Load(ctx, id); err == nil && st != nil {
		return true
	}
	meta, err := m.store.GetMetadata(ctx, id)
	return err == nil && meta != nil
}

// Clear deletes every session: workspace directories, checkpoints and
// metadata rows, including rows whose workspace is already gone. Returns
// the number of sessions removed.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	ids := map[string]struct{}{}

	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return 0, fmt.Errorf("reading workspace directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			ids[e.Name()] = struct{}{}
		}
	}
	if m.store != nil {
		sums, err := m.store.List(ctx)
		if err != nil {
			return 0, err
		}
		for _, s := range sums {
			ids[s.SessionID] = struct{}{}
		}
		metas, err := m.store.ListMetadata(ctx)
		if err != nil {
			return 0, err
		}
		for _, md := range metas {
			ids[md.SessionID] = struct{}{}
		}
	}

	for id := range ids {
		if err := os.RemoveAll(filepath.Join(m.baseDir, id)); err != nil {
			return 0, fmt.Errorf("removing session workspace: %w", err)
		}
		if m.store == nil {
			continue
		}
		if err := m.store.Delete(ctx, id); err != nil {
			return 0, err
		}
		if err := m.store.DeleteMetadata(ctx, id); err != nil {
			return 0, err
		}
	}
	m.logger.Info("sessions cleared", "count", len(ids))
	return len(ids), nil
}

// Recover inserts metadata rows for workspace directories that have none,
// using model and the directory mtime. Returns the restored ids in name
// order.
func (m *Manager) Recover(ctx context.Context, model string) ([]string, error) {
	if m.store == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "recover needs a state store")
	}
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("reading workspace directory: %w", err)
	}

	var restored []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		created, err := m.store.EnsureMetadata(ctx, core.SessionMetadata{
			SessionID: e.Name(),
			ModelName: model,
			CreatedAt: fi.ModTime().UTC(),
		})
		if err != nil {
			return restored, err
		}
		if created {
			m.logger.Info("session metadata restored", logging.KeySession, e.Name())
			restored = append(restored, e.Name())
		} else {
			m.logger.Debug("session metadata already present", logging.KeySession, e.Name())
		}
	}
	return restored, nil
}
