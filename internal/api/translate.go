package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/relaycore/dispatch-proxy/internal/dispatch"
	merrors "github.com/relaycore/dispatch-proxy/internal/errors"
	"github.com/relaycore/dispatch-proxy/pkg/types"
)

// writeAnthropicError writes an Anthropic-shaped error body regardless of
// which public wire shape the request came in on; the OpenAI surface is a
// thinner overlay on the same core and the teacher's error rendering is the
// one already grounded in the examples.
func writeAnthropicError(w http.ResponseWriter, status int, errType, message string) {
	ae := merrors.NewError(merrors.ErrorType(errType), message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(ae.ToJSON())
}

// writeCoreError renders a dispatch-core error (*RoutingError, *UpstreamError,
// *TransportError) through FromCoreError at the HTTP boundary.
func writeCoreError(w http.ResponseWriter, err error) {
	ae := merrors.FromCoreError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.StatusCode())
	w.Write(ae.ToJSON())
}

// anthropicMessagesToDispatch flattens an AnthropicRequest's messages and
// tools into the dispatch core's provider-agnostic request shape. Only text
// content survives the flattening; tool_use/tool_result/image blocks are
// rendered as their text-bearing parts, since the dispatch core's Message is
// a plain role/text pair shared by both public wire shapes.
func anthropicMessagesToDispatch(req *types.AnthropicRequest) dispatch.Request {
	out := dispatch.Request{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}

	for _, m := range req.Messages {
		out.Messages = append(out.Messages, dispatch.Message{
			Role:    m.Role,
			Content: flattenAnthropicContent(m.Content),
		})
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, dispatch.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	return out
}

func flattenAnthropicContent(raw json.RawMessage) string {
	blocks, err := types.ParseMessageContent(raw)
	if err != nil {
		return ""
	}
	text := ""
	for _, b := range blocks {
		switch b.Type {
		case "text", "":
			text += b.Text
		case "tool_result":
			if inner, err := types.ParseMessageContent(b.Content); err == nil {
				for _, ib := range inner {
					text += ib.Text
				}
			}
		}
	}
	return text
}

// dispatchToAnthropicResponse renders a dispatch.Response as the Anthropic
// non-streaming wire shape.
func dispatchToAnthropicResponse(resp *dispatch.Response, model string) *types.AnthropicResponse {
	out := &types.AnthropicResponse{
		ID:         "msg_" + model,
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		StopReason: string(resp.StopReason),
		Usage: types.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, b := range resp.ContentBlocks {
		switch b.Type {
		case dispatch.BlockText:
			out.Content = append(out.Content, types.ContentBlock{Type: "text", Text: b.Text})
		case dispatch.BlockToolUse:
			input, _ := b.ToolInput.(map[string]interface{})
			out.Content = append(out.Content, types.ContentBlock{
				Type: "tool_use", ID: b.ToolUseID, Name: b.ToolName, Input: input,
			})
		}
	}
	return out
}

// openAIToDispatch flattens an OpenAI-shaped chat-completion request into
// the dispatch core's request shape.
func openAIToDispatch(req *types.ChatCompletionRequest) dispatch.Request {
	out := dispatch.Request{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}

	for _, m := range req.Messages {
		out.Messages = append(out.Messages, dispatch.Message{
			Role:    m.Role,
			Content: types.ParseChatMessageContent(m.Content),
		})
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, dispatch.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	return out
}

// dispatchToChatCompletion renders a dispatch.Response as the OpenAI
// non-streaming wire shape.
func dispatchToChatCompletion(resp *dispatch.Response, model string) *types.ChatCompletionResponse {
	msg := types.ChatMessage{Role: "assistant"}
	text := ""
	finish := "stop"

	for _, b := range resp.ContentBlocks {
		switch b.Type {
		case dispatch.BlockText:
			text += b.Text
		case dispatch.BlockToolUse:
			args, _ := json.Marshal(b.ToolInput)
			call := types.ChatToolCall{ID: b.ToolUseID, Type: "function"}
			call.Function.Name = b.ToolName
			call.Function.Arguments = string(args)
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
	}
	msg.Content, _ = json.Marshal(text)

	switch resp.StopReason {
	case dispatch.StopToolUse:
		finish = "tool_calls"
	case dispatch.StopMaxTokens:
		finish = "length"
	}

	return &types.ChatCompletionResponse{
		ID:      "chatcmpl-" + model,
		Object:  "chat.completion",
		Model:   model,
		Choices: []types.ChatChoice{{Index: 0, Message: msg, FinishReason: finish}},
		Usage: types.ChatCompletionUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func errInvalidJSON(err error) error {
	return fmt.Errorf("invalid JSON body: %w", err)
}
