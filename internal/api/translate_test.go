package api

import (
	"encoding/json"
	"testing"

	"github.com/relaycore/dispatch-proxy/internal/dispatch"
	"github.com/relaycore/dispatch-proxy/pkg/types"
)

func TestAnthropicMessagesToDispatchFlattensTextBlocks(t *testing.T) {
	content, _ := json.Marshal([]types.ContentBlock{{Type: "text", Text: "hello"}})
	req := &types.AnthropicRequest{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 100,
		Messages:  []types.Message{{Role: "user", Content: content}},
		Tools:     []types.Tool{{Name: "search", InputSchema: map[string]interface{}{"type": "object"}}},
	}

	out := anthropicMessagesToDispatch(req)
	if out.Model != "claude-sonnet-4-5" || out.MaxTokens != 100 {
		t.Fatalf("unexpected request: %+v", out)
	}
	if len(out.Messages) != 1 || out.Messages[0].Content != "hello" {
		t.Fatalf("unexpected messages: %+v", out.Messages)
	}
	if len(out.Tools) != 1 || out.Tools[0].Name != "search" {
		t.Fatalf("unexpected tools: %+v", out.Tools)
	}
}

func TestAnthropicMessagesToDispatchPlainStringContent(t *testing.T) {
	content, _ := json.Marshal("plain string")
	req := &types.AnthropicRequest{Messages: []types.Message{{Role: "user", Content: content}}}
	out := anthropicMessagesToDispatch(req)
	if out.Messages[0].Content != "plain string" {
		t.Fatalf("expected flattened plain string, got %q", out.Messages[0].Content)
	}
}

func TestDispatchToAnthropicResponseRepacksToolUse(t *testing.T) {
	resp := &dispatch.Response{
		ContentBlocks: []dispatch.ContentBlock{
			{Type: dispatch.BlockToolUse, ToolUseID: "t1", ToolName: "search", ToolInput: map[string]interface{}{"q": "x"}},
		},
		StopReason: dispatch.StopToolUse,
		Usage:      dispatch.Usage{InputTokens: 5, OutputTokens: 2},
	}

	out := dispatchToAnthropicResponse(resp, "claude-sonnet-4-5")
	if out.StopReason != "tool_use" {
		t.Fatalf("unexpected stop reason: %s", out.StopReason)
	}
	if len(out.Content) != 1 || out.Content[0].Type != "tool_use" || out.Content[0].Name != "search" {
		t.Fatalf("unexpected content: %+v", out.Content)
	}
	if out.Usage.InputTokens != 5 || out.Usage.OutputTokens != 2 {
		t.Fatalf("unexpected usage: %+v", out.Usage)
	}
}

func TestOpenAIToDispatchFlattensStringAndPartsContent(t *testing.T) {
	str, _ := json.Marshal("hi there")
	req := &types.ChatCompletionRequest{
		Model:    "gpt-5",
		Messages: []types.ChatMessage{{Role: "user", Content: str}},
	}
	out := openAIToDispatch(req)
	if out.Messages[0].Content != "hi there" {
		t.Fatalf("unexpected content: %q", out.Messages[0].Content)
	}
}

func TestDispatchToChatCompletionMapsToolUseFinishReason(t *testing.T) {
	resp := &dispatch.Response{
		ContentBlocks: []dispatch.ContentBlock{
			{Type: dispatch.BlockToolUse, ToolUseID: "t1", ToolName: "search", ToolInput: map[string]interface{}{"q": "x"}},
		},
		StopReason: dispatch.StopToolUse,
	}
	out := dispatchToChatCompletion(resp, "gpt-5")
	if len(out.Choices) != 1 || out.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("unexpected choices: %+v", out.Choices)
	}
	if len(out.Choices[0].Message.ToolCalls) != 1 || out.Choices[0].Message.ToolCalls[0].Function.Name != "search" {
		t.Fatalf("unexpected tool calls: %+v", out.Choices[0].Message.ToolCalls)
	}
}

func TestDispatchToChatCompletionTextFinishStop(t *testing.T) {
	resp := &dispatch.Response{
		ContentBlocks: []dispatch.ContentBlock{{Type: dispatch.BlockText, Text: "hi"}},
		StopReason:    dispatch.StopEndTurn,
	}
	out := dispatchToChatCompletion(resp, "gpt-5")
	if out.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected stop finish reason, got %s", out.Choices[0].FinishReason)
	}
	var text string
	json.Unmarshal(out.Choices[0].Message.Content, &text)
	if text != "hi" {
		t.Fatalf("unexpected message content: %q", text)
	}
}
