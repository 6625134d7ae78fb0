// Package dispatch drives one stage conversation: it alternates reasoning
// calls with tool execution until the engine answers in text or the turn
// limit is reached.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/logging"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/telemetry"
)

// ToolExecutor runs tool requests and describes the available tools.
// *tools.Registry satisfies it.
type ToolExecutor interface {
	Specs() []core.ToolSpec
	Execute(ctx context.Context, req core.ToolRequest) core.ToolResult
}

// Result is the outcome of one loop run.
type Result struct {
	// Final is the last reasoning response. When TurnLimitReached is set it
	// may still carry the tool requests of the final turn.
	Final core.Message
	// ToolResults holds every executed result in execution order.
	ToolResults []core.ToolResult
	// Messages is the full history, initial messages included.
	Messages []core.Message
	// Seeded is the number of initial messages at the head of Messages.
	Seeded           int
	Turns            int
	TurnLimitReached bool
	Usage            core.Usage
}

// Transcript returns the messages produced by the run itself.
func (r *Result) Transcript() []core.Message {
	if r.Seeded >= len(r.Messages) {
		return nil
	}
	return r.Messages[r.Seeded:]
}

// Loop binds a reasoning client to a logger.
type Loop struct {
	client core.ReasoningClient
	logger *logging.Logger
}

// New creates a loop. A nil logger discards output.
func New(client core.ReasoningClient, logger *logging.Logger) *Loop {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loop{client: client, logger: logger}
}

// Run seeds the history with initial and makes at most turnLimit reasoning
// calls. Requested tools run one at a time in request order; a turn is never
// cut short, so the tools requested on the last turn still execute before
// the loop gives up. Tool side effects are never undone.
func (l *Loop) Run(ctx context.Context, initial []core.Message, tools ToolExecutor, turnLimit int) (*Result, error) {
	if turnLimit <= 0 {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("turn limit must be positive, got %d", turnLimit))
	}

	ctx, span := telemetry.Start(ctx, "dispatch.run", attribute.Int("dispatch.turn_limit", turnLimit))
	res, err := l.run(ctx, initial, tools, turnLimit)
	if res != nil {
		span.SetAttributes(
			attribute.Int("dispatch.turns", res.Turns),
			attribute.Bool("dispatch.turn_limit_reached", res.TurnLimitReached),
			attribute.Int("dispatch.tool_results", len(res.ToolResults)),
		)
	}
	telemetry.End(span, err)
	return res, err
}

func (l *Loop) run(ctx context.Context, initial []core.Message, tools ToolExecutor, turnLimit int) (*Result, error) {
	res := &Result{Messages: append([]core.Message(nil), initial...), Seeded: len(initial)}
	specs := tools.Specs()

	for turn := 1; turn <= turnLimit; turn++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		completion, err := l.complete(ctx, res.Messages, specs, turn)
		if err != nil {
			return res, fmt.Errorf("reasoning call %d: %w", turn, err)
		}
		res.Turns = turn
		res.Usage = res.Usage.Add(completion.Usage)

		msg := completion.Message
		msg.Role = core.RoleAssistant
		assignCallIDs(msg.ToolRequests)
		res.Messages = append(res.Messages, msg)
		res.Final = msg

		if !msg.HasToolRequests() {
			l.logger.Debug("dispatch: final response", logging.KeyTurn, turn, "content", logging.Preview(msg.Content, 200))
			return res, nil
		}

		l.logger.Debug("dispatch: tool requests", logging.KeyTurn, turn, "count", len(msg.ToolRequests))
		for _, req := range msg.ToolRequests {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			result := tools.Execute(ctx, req)
			res.ToolResults = append(res.ToolResults, result)
			res.Messages = append(res.Messages, result.Message())

			if result.OK() {
				l.logger.Debug("dispatch: tool ok", logging.KeyTool, result.Name, "id", result.ID)
			} else {
				l.logger.Info("dispatch: tool failed", logging.KeyTool, result.Name, "id", result.ID,
					"code", result.Code, "payload", logging.Preview(result.Payload, 300))
			}
		}
	}

	res.TurnLimitReached = true
	l.logger.Warn("dispatch: turn limit reached with tools still requested",
		"turn_limit", turnLimit, "pending_tools", toolNames(res.Final.ToolRequests))
	return res, nil
}

func (l *Loop) complete(ctx context.Context, history []core.Message, specs []core.ToolSpec, turn int) (*core.Completion, error) {
	ctx, span := telemetry.Start(ctx, "dispatch.turn", attribute.Int("dispatch.turn", turn))
	completion, err := l.client.Complete(ctx, history, specs)
	if err == nil && completion == nil {
		err = core.ErrExecution(core.CodeReasoningFailed, "reasoning client returned no completion")
	}
	if err == nil {
		span.SetAttributes(
			attribute.Int("dispatch.tool_requests", len(completion.Message.ToolRequests)),
			attribute.Int64("llm.tokens.total", completion.Usage.TotalTokens),
		)
	}
	telemetry.End(span, err)
	return completion, err
}

// assignCallIDs gives every request an id so tool messages can reference it.
func assignCallIDs(reqs []core.ToolRequest) {
	for i := range reqs {
		if strings.TrimSpace(reqs[i].ID) == "" {
			reqs[i].ID = "call_" + ulid.Make().String()
		}
	}
}

func toolNames(reqs []core.ToolRequest) []string {
	names := make([]string, len(reqs))
	for i, r := range reqs {
		names[i] = r.Name
	}
	return names
}
