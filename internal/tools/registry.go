package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/sahilm/fuzzy"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/telemetry"
)

// DefaultOutputLimit caps payload characters returned to the reasoning engine.
const DefaultOutputLimit = 20000

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry maps tool names to handlers. The dispatch table is fixed once a
// stage has built it; Execute never fails, it turns every problem into a
// failed ToolResult.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]registeredTool
	order       []string
	outputLimit int
}

// NewRegistry creates an empty registry. A non-positive limit selects
// DefaultOutputLimit.
func NewRegistry(outputLimit int) *Registry {
	if outputLimit <= 0 {
		outputLimit = DefaultOutputLimit
	}
	return &Registry{
		tools:       make(map[string]registeredTool),
		outputLimit: outputLimit,
	}
}

// Register adds a tool after compiling its schema. Names must be unique.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if strings.TrimSpace(name) == "" {
		return core.ErrValidation(core.CodeInvalidToolArgs, "tool name is required")
	}
	schema, err := compileSchema(t.Schema())
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return core.ErrConflict("DUPLICATE_TOOL", fmt.Sprintf("tool %s already registered", name))
	}
	r.tools[name] = registeredTool{tool: t, schema: schema}
	r.order = append(r.order, name)
	return nil
}

// MustRegister registers tools and panics on error. Used when wiring the
// fixed per-stage tool sets.
func (r *Registry) MustRegister(ts ...Tool) *Registry {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Specs describes the registered tools to the reasoning engine.
func (r *Registry) Specs() []core.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]core.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		specs = append(specs, core.ToolSpec{
			Name:        name,
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return specs
}

// Execute runs one tool request and returns its structured result tagged
// with the request id.
func (r *Registry) Execute(ctx context.Context, req core.ToolRequest) core.ToolResult {
	if strings.TrimSpace(req.ID) == "" {
		req.ID = "call_" + ulid.Make().String()
	}

	ctx, span := telemetry.Start(ctx, "tool."+req.Name,
		attribute.String("tool.name", req.Name),
		attribute.String("tool.call_id", req.ID),
	)
	result := r.execute(ctx, req)
	span.SetAttributes(attribute.String("tool.status", string(result.Status)))
	if !result.OK() {
		if result.Code != "" {
			span.SetAttributes(attribute.String("tool.code", result.Code))
		}
		telemetry.Fail(span, result.Code)
	}
	telemetry.End(span, nil)
	return result
}

func (r *Registry) execute(ctx context.Context, req core.ToolRequest) core.ToolResult {
	r.mu.RLock()
	rt, ok := r.tools[req.Name]
	r.mu.RUnlock()
	if !ok {
		return core.FailedResult(req, core.CodeMalformedToolCall, r.unknownToolMessage(req.Name))
	}

	if req.ArgsError != "" {
		return core.FailedResult(req, core.CodeMalformedToolCall,
			fmt.Sprintf("Error: invalid arguments for %s: %s", req.Name, req.ArgsError))
	}

	args, err := normalizeArgs(req.Args)
	if err != nil {
		return core.FailedResult(req, core.CodeMalformedToolCall,
			fmt.Sprintf("Error: invalid arguments for %s: %v", req.Name, err))
	}
	if err := rt.schema.Validate(args); err != nil {
		return core.FailedResult(req, core.CodeInvalidToolArgs,
			fmt.Sprintf("Error: arguments for %s do not match its schema: %v", req.Name, err))
	}

	out, err := r.invoke(ctx, rt.tool, args.(map[string]any))
	if err != nil {
		msg := strings.TrimSpace(out.Payload)
		if msg == "" {
			msg = err.Error()
		}
		return core.FailedResult(req, core.CodeToolExecution, r.truncate("Error: "+msg))
	}

	result := core.ToolResult{
		ID:      req.ID,
		Name:    req.Name,
		Status:  out.Status,
		Payload: r.truncate(out.Payload),
		Data:    out.Data,
		Request: req,
	}
	if result.Status == "" {
		result.Status = core.StatusOK
	}
	if result.Status == core.StatusFailed {
		result.Code = core.CodeToolReportedFailure
	}
	return result
}

// invoke calls the tool and turns a panic into an execution error so a
// faulty handler fails one request instead of the whole session.
func (r *Registry) invoke(ctx context.Context, tool Tool, args map[string]any) (out Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = Output{}
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), p)
		}
	}()
	return tool.Invoke(ctx, args)
}

func (r *Registry) unknownToolMessage(name string) string {
	names := r.Names()
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	msg := fmt.Sprintf("Error: unknown tool %q.", name)
	if matches := fuzzy.Find(name, sorted); len(matches) > 0 {
		msg += fmt.Sprintf(" Did you mean %q?", matches[0].Str)
	}
	if len(sorted) > 0 {
		msg += " Available tools: " + strings.Join(sorted, ", ") + "."
	}
	return msg
}

// truncate keeps the head and tail of long payloads. Cut points are moved
// back to rune boundaries so the result stays valid UTF-8.
func (r *Registry) truncate(s string) string {
	limit := r.outputLimit
	if len(s) <= limit {
		return s
	}
	head := runeBoundary(s, limit/2)
	tailStart := runeBoundary(s, len(s)-(limit-limit/2))
	removed := tailStart - head
	marker := fmt.Sprintf("\n\n[WARNING: output truncated, %d characters removed from the middle. Re-run with narrower arguments to see more.]\n\n", removed)
	return s[:head] + marker + s[tailStart:]
}

// runeBoundary returns the largest index <= i that starts a rune.
func runeBoundary(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// normalizeArgs round-trips args through JSON so the validator sees only
// JSON-native types.
func normalizeArgs(args map[string]any) (any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = objectSchema(map[string]any{})
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(data))); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}
