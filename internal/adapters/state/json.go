package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/fsutil"
)

const (
	checkpointExt = ".json"
	metadataExt   = ".meta.json"
	backupExt     = ".bak"
)

// JSONStore keeps one checkpoint file and one metadata file per session in
// a directory. Every write goes through an atomic rename, and the previous
// checkpoint is kept as a .bak file that Load falls back to.
type JSONStore struct {
	dir string
	mu  sync.RWMutex
}

// stateEnvelope wraps a checkpoint with its integrity data.
type stateEnvelope struct {
	Checksum  string          `json:"checksum"`
	UpdatedAt time.Time       `json:"updated_at"`
	State     json.RawMessage `json:"state"`
}

// NewJSONStore creates the directory if needed.
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

// Path returns the state directory.
func (s *JSONStore) Path() string {
	return s.dir
}

// Close is a no-op; the store holds no open handles.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) checkpointPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+checkpointExt)
}

func (s *JSONStore) metadataPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+metadataExt)
}

// Save persists a checkpoint, keeping the previous one as a backup.
func (s *JSONStore) Save(_ context.Context, state *core.WorkflowState) error {
	if state == nil || state.SessionID == "" {
		return core.ErrValidation(core.CodeInvalidState, "cannot save a state without session_id")
	}
	payload, sum, err := encodeState(state)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stateEnvelope{
		Checksum:  sum,
		UpdatedAt: stateUpdatedAt(state),
		State:     payload,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.checkpointPath(state.SessionID)
	if prev, err := os.ReadFile(path); err == nil {
		if err := fsutil.WriteFileAtomic(path+backupExt, prev, 0o600); err != nil {
			return fmt.Errorf("creating backup: %w", err)
		}
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint of a session. A corrupted primary file falls
// back to the backup; when both fail the primary error is returned.
func (s *JSONStore) Load(_ context.Context, sessionID string) (*core.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.checkpointPath(sessionID)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	state, err := loadEnvelope(sessionID, path)
	if err != nil {
		if backup, backupErr := loadEnvelope(sessionID, path+backupExt); backupErr == nil {
			return backup, nil
		}
		return nil, err
	}
	return state, nil
}

func loadEnvelope(sessionID, path string) (*core.WorkflowState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var env stateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("checkpoint for session %s is not valid JSON: %v", sessionID, err))
	}
	return decodeState(sessionID, env.State, env.Checksum)
}

// List returns summaries of every readable checkpoint, newest first.
// Unreadable files are skipped.
func (s *JSONStore) List(ctx context.Context) ([]core.CheckpointSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading state directory: %w", err)
	}

	var out []core.CheckpointSummary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, checkpointExt) || strings.HasSuffix(name, metadataExt) {
			continue
		}
		state, err := s.Load(ctx, strings.TrimSuffix(name, checkpointExt))
		if err != nil || state == nil {
			continue
		}
		out = append(out, state.Summary())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Delete removes the checkpoint and its backup.
func (s *JSONStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.checkpointPath(sessionID)
	for _, p := range []string{path, path + backupExt} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting checkpoint: %w", err)
		}
	}
	return nil
}

// EnsureMetadata writes a metadata file unless one exists.
func (s *JSONStore) EnsureMetadata(_ context.Context, meta core.SessionMetadata) (bool, error) {
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.metadataPath(meta.SessionID)); err == nil {
		return false, nil
	}
	if err := s.writeMetadata(meta); err != nil {
		return false, err
	}
	return true, nil
}

// AddUsage increments the counters of an existing metadata file.
func (s *JSONStore) AddUsage(_ context.Context, sessionID string, usage core.Usage, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMetadata(sessionID)
	if err != nil {
		return err
	}
	if meta == nil {
		return core.ErrNotFound("session metadata", sessionID)
	}
	meta.InputTokens += usage.InputTokens
	meta.OutputTokens += usage.OutputTokens
	meta.CachedTokens += usage.CachedTokens
	meta.TotalTokens += usage.TotalTokens
	meta.TotalCost += cost
	return s.writeMetadata(*meta)
}

// GetMetadata returns the metadata of a session, or nil.
func (s *JSONStore) GetMetadata(_ context.Context, sessionID string) (*core.SessionMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMetadata(sessionID)
}

// ListMetadata returns every metadata record, newest first.
func (s *JSONStore) ListMetadata(_ context.Context) ([]core.SessionMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading state directory: %w", err)
	}
	var out []core.SessionMetadata
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), metadataExt) {
			continue
		}
		meta, err := s.readMetadata(strings.TrimSuffix(e.Name(), metadataExt))
		if err != nil || meta == nil {
			continue
		}
		out = append(out, *meta)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteMetadata removes the metadata file of a session.
func (s *JSONStore) DeleteMetadata(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.metadataPath(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting session metadata: %w", err)
	}
	return nil
}

func (s *JSONStore) readMetadata(sessionID string) (*core.SessionMetadata, error) {
	data, err := os.ReadFile(s.metadataPath(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session metadata: %w", err)
	}
	var meta core.SessionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("metadata for session %s is not valid JSON: %v", sessionID, err))
	}
	return &meta, nil
}

func (s *JSONStore) writeMetadata(meta core.SessionMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session metadata: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.metadataPath(meta.SessionID), data, 0o600); err != nil {
		return fmt.Errorf("writing session metadata: %w", err)
	}
	return nil
}
