// Package tools implements the actions a stage may request: workspace file
// access, HDL lint and simulation, waveform inspection, synthesis through the
// OpenROAD flow container, metric extraction and report search.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

// Tool is one invocable action with a declared input schema.
type Tool interface {
	Name() string
	Description() string
	// Schema is a JSON schema object describing the arguments.
	Schema() map[string]any
	// Invoke runs the action. A returned error means the handler itself
	// broke; an Output with StatusFailed means the action ran and reported
	// failure.
	Invoke(ctx context.Context, args map[string]any) (Output, error)
}

// Output is the structured result of a tool invocation.
type Output struct {
	Status  core.ResultStatus
	Payload string
	Data    any
}

// Succeeded builds an ok output.
func Succeeded(payload string, data any) Output {
	return Output{Status: core.StatusOK, Payload: payload, Data: data}
}

// Failed builds a failed output.
func Failed(payload string) Output {
	return Output{Status: core.StatusFailed, Payload: payload}
}

// Failedf builds a failed output from a format string.
func Failedf(format string, a ...any) Output {
	return Failed(fmt.Sprintf(format, a...))
}

// Schema builders. Tool inputs are objects of primitive fields.

func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func intProp(desc string, minimum int) map[string]any {
	return map[string]any{"type": "integer", "description": desc, "minimum": minimum}
}

func stringListProp(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": desc,
		"items":       map[string]any{"type": "string"},
	}
}

// Argument accessors. Arguments arrive decoded from JSON, so numbers are
// float64 and lists are []any.

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}

// stringSliceArg accepts a JSON list or a single string of names separated
// by commas or whitespace.
func stringSliceArg(args map[string]any, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case []string:
		for _, s := range v {
			if strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		out = strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})
	}
	return out
}

// fileListProp is the schema for tools taking one or more workspace files.
func fileListProp(desc string) map[string]any {
	return map[string]any{
		"description": desc,
		"anyOf": []any{
			map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			map[string]any{"type": "string"},
		},
	}
}
