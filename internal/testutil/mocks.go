package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

// ErrScriptExhausted is returned when a ScriptedClient runs out of responses
// and has no fallback.
var ErrScriptExhausted = errors.New("scripted client: no responses left")

// ClientCall records one Complete invocation.
type ClientCall struct {
	Messages []core.Message
	Tools    []string
}

// ScriptedClient is a core.ReasoningClient that replays queued completions.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []*core.Completion
	errs      []error
	fallback  func(ctx context.Context, messages []core.Message, tools []core.ToolSpec) (*core.Completion, error)
	calls     []ClientCall
}

// NewScriptedClient creates a client replaying the given messages in order.
// Each completion reports ten input and five output tokens.
func NewScriptedClient(messages ...core.Message) *ScriptedClient {
	c := &ScriptedClient{}
	for _, m := range messages {
		c.Push(m)
	}
	return c
}

// Push queues another response.
func (c *ScriptedClient) Push(m core.Message) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	m.Role = core.RoleAssistant
	c.responses = append(c.responses, &core.Completion{
		Message: m,
		Usage:   core.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		Model:   "scripted",
	})
	c.errs = append(c.errs, nil)
	return c
}

// PushError queues a failing call.
func (c *ScriptedClient) PushError(err error) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, nil)
	c.errs = append(c.errs, err)
	return c
}

// WithFallback answers calls once the queue is empty.
func (c *ScriptedClient) WithFallback(fn func(ctx context.Context, messages []core.Message, tools []core.ToolSpec) (*core.Completion, error)) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = fn
	return c
}

// Complete implements core.ReasoningClient.
func (c *ScriptedClient) Complete(ctx context.Context, messages []core.Message, tools []core.ToolSpec) (*core.Completion, error) {
	c.mu.Lock()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	c.calls = append(c.calls, ClientCall{Messages: append([]core.Message(nil), messages...), Tools: names})

	if len(c.responses) == 0 {
		fallback := c.fallback
		c.mu.Unlock()
		if fallback != nil {
			return fallback(ctx, messages, tools)
		}
		return nil, ErrScriptExhausted
	}
	resp, err := c.responses[0], c.errs[0]
	c.responses, c.errs = c.responses[1:], c.errs[1:]
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	out := *resp
	out.Message.ToolRequests = append([]core.ToolRequest(nil), resp.Message.ToolRequests...)
	return &out, nil
}

// Calls returns the recorded invocations.
func (c *ScriptedClient) Calls() []ClientCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ClientCall(nil), c.calls...)
}

// CallCount returns the number of Complete invocations.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Remaining returns the number of queued responses.
func (c *ScriptedClient) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.responses)
}

// Text builds a final assistant message.
func Text(content string) core.Message {
	return core.AssistantMessage(content)
}

// CallTools builds an assistant message requesting tools.
func CallTools(reqs ...core.ToolRequest) core.Message {
	return core.Message{Role: core.RoleAssistant, ToolRequests: reqs}
}

// Call builds a tool request.
func Call(id, name string, args map[string]any) core.ToolRequest {
	return core.ToolRequest{ID: id, Name: name, Args: args}
}

// MemoryStore is an in-memory core.Store.
type MemoryStore struct {
	mu       sync.Mutex
	states   map[string]*core.WorkflowState
	metadata map[string]core.SessionMetadata
	saves    int
	saveErr  error
	closed   bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:   make(map[string]*core.WorkflowState),
		metadata: make(map[string]core.SessionMetadata),
	}
}

// FailSaves makes every subsequent Save return err.
func (m *MemoryStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// SaveCount returns the number of successful saves.
func (m *MemoryStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStore) Save(_ context.Context, state *core.WorkflowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.states[state.SessionID] = state.Clone()
	m.saves++
	return nil
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*core.WorkflowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[sessionID]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]core.CheckpointSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.CheckpointSummary, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) EnsureMetadata(_ context.Context, meta core.SessionMetadata) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.metadata[meta.SessionID]; ok {
		return false, nil
	}
	m.metadata[meta.SessionID] = meta
	return true, nil
}

func (m *MemoryStore) AddUsage(_ context.Context, sessionID string, usage core.Usage, cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.metadata[sessionID]
	if !ok {
		return core.ErrNotFound("session metadata", sessionID)
	}
	meta.InputTokens += usage.InputTokens
	meta.OutputTokens += usage.OutputTokens
	meta.CachedTokens += usage.CachedTokens
	meta.TotalTokens += usage.TotalTokens
	meta.TotalCost += cost
	m.metadata[sessionID] = meta
	return nil
}

func (m *MemoryStore) GetMetadata(_ context.Context, sessionID string) (*core.SessionMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.metadata[sessionID]
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

func (m *MemoryStore) ListMetadata(_ context.Context) ([]core.SessionMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.SessionMetadata, 0, len(m.metadata))
	for _, meta := range m.metadata {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteMetadata(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metadata, sessionID)
	return nil
}

var _ core.Store = (*MemoryStore)(nil)
var _ core.ReasoningClient = (*ScriptedClient)(nil)
