package api

import (
	"testing"

	"github.com/relaycore/dispatch-proxy/internal/dispatch"
)

func TestTranslateFrameAnnouncesRoleOnce(t *testing.T) {
	state := newOpenAIStreamState()
	frame := dispatch.FormatSSEFrame("message_start", map[string]any{"type": "message_start"})

	chunks := translateFrame(frame, "gpt-5", state)
	if len(chunks) != 1 || chunks[0].Choices[0].Delta.Role != "assistant" {
		t.Fatalf("expected one role-announcing chunk, got %+v", chunks)
	}

	chunks = translateFrame(frame, "gpt-5", state)
	if len(chunks) != 0 {
		t.Fatalf("expected the role to be announced only once, got %+v", chunks)
	}
}

func TestTranslateFrameForwardsTextDelta(t *testing.T) {
	state := newOpenAIStreamState()
	frame := dispatch.FormatSSEFrame("content_block_delta", map[string]any{
		"type": "content_block_delta", "index": 0,
		"delta": map[string]any{"type": "text_delta", "text": "hi"},
	})

	chunks := translateFrame(frame, "gpt-5", state)
	if len(chunks) != 1 || chunks[0].Choices[0].Delta.Content != "hi" {
		t.Fatalf("expected a forwarded text delta, got %+v", chunks)
	}
}

func TestTranslateFrameRepacksToolUse(t *testing.T) {
	state := newOpenAIStreamState()
	start := dispatch.FormatSSEFrame("content_block_start", map[string]any{
		"type": "content_block_start", "index": 1,
		"content_block": map[string]any{"type": "tool_use", "id": "call_1", "name": "lookup"},
	})
	delta := dispatch.FormatSSEFrame("content_block_delta", map[string]any{
		"type": "content_block_delta", "index": 1,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": `{"city":"nyc"}`},
	})

	startChunks := translateFrame(start, "gpt-5", state)
	if len(startChunks) != 1 || startChunks[0].Choices[0].Delta.ToolCalls[0].Function.Name != "lookup" {
		t.Fatalf("expected a tool_use start chunk, got %+v", startChunks)
	}

	deltaChunks := translateFrame(delta, "gpt-5", state)
	if len(deltaChunks) != 1 || deltaChunks[0].Choices[0].Delta.ToolCalls[0].Function.Arguments != `{"city":"nyc"}` {
		t.Fatalf("expected a tool_use arguments chunk, got %+v", deltaChunks)
	}
}

func TestTranslateFrameMapsStopReasonToFinishReason(t *testing.T) {
	state := newOpenAIStreamState()
	frame := dispatch.FormatSSEFrame("message_delta", map[string]any{
		"type": "message_delta", "delta": map[string]any{"stop_reason": "tool_use"},
	})
	chunks := translateFrame(frame, "gpt-5", state)
	if len(chunks) != 1 || chunks[0].Choices[0].FinishReason == nil || *chunks[0].Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("expected a tool_calls finish reason chunk, got %+v", chunks)
	}
}
