package core

import (
	"context"
	"time"
)

// ReasoningClient is the contract to the reasoning engine. Given the
// conversation so far and the tools it may call, it returns either a final
// assistant message or an assistant message with a non-empty tool request
// batch.
type ReasoningClient interface {
	Complete(ctx context.Context, messages []Message, tools []ToolSpec) (*Completion, error)
}

// CheckpointStore persists WorkflowState keyed by session id.
type CheckpointStore interface {
	// Save persists the state atomically, replacing any previous checkpoint
	// for the same session.
	Save(ctx context.Context, state *WorkflowState) error

	// Load retrieves the checkpoint for a session.
	// Returns nil state and no error if the session has no checkpoint.
	Load(ctx context.Context, sessionID string) (*WorkflowState, error)

	// List returns summaries of all stored checkpoints, newest first.
	List(ctx context.Context) ([]CheckpointSummary, error)

	// Delete removes a session checkpoint. Deleting a missing session is not
	// an error.
	Delete(ctx context.Context, sessionID string) error

	// Close releases any resources held by the store.
	Close() error
}

// SessionMetadata is the accounting record kept for every session.
type SessionMetadata struct {
	SessionID    string    `json:"session_id"`
	ModelName    string    `json:"model_name"`
	CreatedAt    time.Time `json:"created_at"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CachedTokens int64     `json:"cached_tokens"`
	TotalTokens  int64     `json:"total_tokens"`
	TotalCost    float64   `json:"total_cost"`
}

// MetadataStore keeps per-session model and token accounting.
type MetadataStore interface {
	// EnsureMetadata inserts a row when none exists for the session.
	// Returns true when a row was created.
	EnsureMetadata(ctx context.Context, meta SessionMetadata) (bool, error)

	// AddUsage increments the token counters and cost of a session.
	AddUsage(ctx context.Context, sessionID string, usage Usage, cost float64) error

	// GetMetadata returns nil and no error when the session is unknown.
	GetMetadata(ctx context.Context, sessionID string) (*SessionMetadata, error)

	// ListMetadata returns every row, newest first.
	ListMetadata(ctx context.Context) ([]SessionMetadata, error)

	// DeleteMetadata removes a row.
	DeleteMetadata(ctx context.Context, sessionID string) error
}

// Store is a checkpoint store that also keeps session metadata. Both
// backends implement it.
type Store interface {
	CheckpointStore
	MetadataStore
}
