// Package llm adapts OpenAI-compatible chat completion endpoints to the
// core.ReasoningClient contract.
package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/config"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/logging"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
)

// Options configures a Client.
type Options struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OptionsFromConfig resolves the API key from the configured environment
// variable.
func OptionsFromConfig(cfg config.LLMConfig) (Options, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return Options{}, core.ErrAuth(fmt.Sprintf("environment variable %s is not set", cfg.APIKeyEnv))
	}
	return Options{
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		APIKey:      key,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     config.Duration(cfg.Timeout, 5*time.Minute),
	}, nil
}

// Client calls a chat completion endpoint. Retries are left to the caller.
type Client struct {
	api    openai.Client
	opts   Options
	logger *logging.Logger
}

// NewClient builds a client for opts.
func NewClient(opts Options, logger *logging.Logger) (*Client, error) {
	if opts.Model == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "llm model is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}

	return &Client{
		api:    openai.NewClient(reqOpts...),
		opts:   opts,
		logger: logger,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.opts.Model
}

// Complete sends the conversation and returns the first choice.
func (c *Client) Complete(ctx context.Context, messages []core.Message, tools []core.ToolSpec) (*core.Completion, error) {
	ctx, span := telemetry.Start(ctx, "llm.complete",
		attribute.String("llm.model", c.opts.Model),
		attribute.Int("llm.messages", len(messages)),
		attribute.Int("llm.tools", len(tools)),
	)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.opts.Model),
		Messages: toParams(messages),
		Tools:    toToolParams(tools),
	}
	if c.opts.Temperature > 0 {
		params.Temperature = openai.Float(c.opts.Temperature)
	}
	if c.opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.opts.MaxTokens))
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		err = classify(err)
		telemetry.End(span, err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err := core.ErrExecution(core.CodeReasoningFailed, "reasoning engine returned no choices")
		telemetry.End(span, err)
		return nil, err
	}

	completion := &core.Completion{
		Message: fromResponse(resp.Choices[0].Message),
		Usage: core.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			CachedTokens: resp.Usage.PromptTokensDetails.CachedTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Model: resp.Model,
	}
	span.SetAttributes(
		attribute.Int64("llm.tokens.total", completion.Usage.TotalTokens),
		attribute.Int("llm.tool_requests", len(completion.Message.ToolRequests)),
	)
	telemetry.End(span, nil)

	c.logger.Debug("reasoning call completed",
		"model", resp.Model,
		"duration", time.Since(start),
		"tool_requests", len(completion.Message.ToolRequests),
		"total_tokens", completion.Usage.TotalTokens,
	)
	return completion, nil
}
