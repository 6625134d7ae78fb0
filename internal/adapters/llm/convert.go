package llm

import (
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

func toParams(messages []core.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case core.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case core.RoleAssistant:
			out = append(out, assistantParam(m))
		case core.RoleTool:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					ToolCallID: m.ToolCallID,
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(m.Content),
					},
				},
			})
		}
	}
	return out
}

func assistantParam(m core.Message) openai.ChatCompletionMessageParamUnion {
	msg := &openai.ChatCompletionAssistantMessageParam{}
	if m.Content != "" || !m.HasToolRequests() {
		msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(m.Content),
		}
	}
	for _, req := range m.ToolRequests {
		msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: req.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      req.Name,
				Arguments: core.ArgsJSON(req.Args),
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: msg}
}

func toToolParams(tools []core.ToolSpec) []openai.ChatCompletionToolParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			},
		})
	}
	return out
}

// fromResponse converts a response message. Arguments that are not a JSON
// object leave Args empty and set ArgsError so the dispatcher can answer
// with a failed result instead of aborting the stage.
func fromResponse(m openai.ChatCompletionMessage) core.Message {
	msg := core.Message{Role: core.RoleAssistant, Content: m.Content}
	for _, call := range m.ToolCalls {
		req := core.ToolRequest{ID: call.ID, Name: call.Function.Name}
		if call.Function.Arguments != "" {
			var args map[string]any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				req.ArgsError = fmt.Sprintf("arguments are not a JSON object: %v", err)
			} else {
				req.Args = args
			}
		}
		msg.ToolRequests = append(msg.ToolRequests, req)
	}
	return msg
}
