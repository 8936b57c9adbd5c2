package codex

import (
	"context"
	"encoding/json"

	"github.com/relaycore/dispatch-proxy/internal/accountstore"
	"github.com/relaycore/dispatch-proxy/internal/dispatch"
	derrors "github.com/relaycore/dispatch-proxy/internal/errors"
)

// Adapter implements dispatch.Adapter for the ChatGPT-Codex backend. It owns
// no account selection or retry logic: the dispatch engine picks the
// account and decides whether to fail over. Non-streaming requests go to
// the plain chat-completions surface; streaming requests go to the
// responses surface and are only structurally interpreted at their
// terminal response.completed frame.
type Adapter struct {
	client *Client
}

// NewAdapter builds a Codex adapter.
func NewAdapter() *Adapter {
	return &Adapter{client: NewClient()}
}

func toChatCompletionsPayload(req dispatch.Request) *ChatCompletionsPayload {
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, Message{Role: m.Role, Content: m.Content})
	}
	return &ChatCompletionsPayload{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Tools:     toTools(req.Tools),
	}
}

func toResponsesPayload(req dispatch.Request) *ResponsesPayload {
	input := make([]ResponseInputItem, 0, len(req.Messages))
	for _, m := range req.Messages {
		input = append(input, ResponseInputItem{Type: "message", Role: m.Role, Content: m.Content})
	}
	return &ResponsesPayload{
		Model: req.Model,
		Input: input,
		Tools: toTools(req.Tools),
	}
}

func toTools(tools []dispatch.Tool) []Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func fromChatCompletionResponse(resp *ChatCompletionResponse) *dispatch.Response {
	if len(resp.Choices) == 0 {
		return &dispatch.Response{StopReason: dispatch.StopEndTurn}
	}
	choice := resp.Choices[0]

	var blocks []dispatch.ContentBlock
	if choice.Message.Content != "" {
		blocks = append(blocks, dispatch.ContentBlock{Type: dispatch.BlockText, Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		input := make(map[string]interface{})
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
			input = map[string]interface{}{"raw": tc.Function.Arguments}
		}
		blocks = append(blocks, dispatch.ContentBlock{
			Type:      dispatch.BlockToolUse,
			ToolUseID: tc.ID,
			ToolName:  tc.Function.Name,
			ToolInput: input,
		})
	}

	stopReason := dispatch.MapFinishReason(choice.FinishReason)
	if len(choice.Message.ToolCalls) > 0 {
		stopReason = dispatch.StopToolUse
	}

	return &dispatch.Response{
		ContentBlocks: blocks,
		StopReason:    stopReason,
		Usage: dispatch.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
}

// Complete implements dispatch.Adapter against the plain chat-completions
// surface.
func (a *Adapter) Complete(ctx context.Context, account *accountstore.Account, req dispatch.Request) (*dispatch.Response, error) {
	payload := toChatCompletionsPayload(req)
	resp, err := a.client.SendChatCompletion(ctx, RequestOptions{Token: account.AccessToken, ChatGPTAccountID: account.Login}, payload)
	if err != nil {
		return nil, classifyClientError(err)
	}
	return fromChatCompletionResponse(resp), nil
}

// Stream implements dispatch.Adapter against the responses surface,
// translating Codex's event stream into already-framed Anthropic SSE wire
// frames.
func (a *Adapter) Stream(ctx context.Context, account *accountstore.Account, req dispatch.Request) (<-chan dispatch.StreamFrame, error) {
	payload := toResponsesPayload(req)
	body, err := a.client.SendResponsesStream(ctx, RequestOptions{Token: account.AccessToken, ChatGPTAccountID: account.Login}, payload)
	if err != nil {
		return nil, classifyClientError(err)
	}
	return ParseResponsesStream(ctx, body, req.Model), nil
}

// Refresh is a no-op at the adapter layer: Codex's ChatGPT OAuth refresh
// flow lives outside the dispatch core, the same boundary the Antigravity
// adapter draws.
func (a *Adapter) Refresh(ctx context.Context, account *accountstore.Account) error {
	return nil
}

func classifyClientError(err error) error {
	if se, ok := err.(*StatusError); ok {
		return &derrors.UpstreamError{Provider: "codex", Status: se.StatusCode, Body: se.Body}
	}
	return &derrors.TransportError{Provider: "codex", Err: err}
}
