package codex

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/relaycore/dispatch-proxy/internal/dispatch"
)

// streamState tracks the one open Anthropic text block the adapter streams
// deltas into, plus the index the next content block (typically a repacked
// tool_use call) lands on.
type streamState struct {
	textBlockOpen bool
	nextIndex     int
}

// ParseResponsesStream scans a Codex /responses server-sent-events body,
// forwarding text deltas live and repacking the terminal response.completed
// frame's function_call items into tool_use blocks — the one frame the
// adapter actually interprets structurally, per the upstream's own
// response-lifecycle contract.
func ParseResponsesStream(ctx context.Context, body io.ReadCloser, model string) <-chan dispatch.StreamFrame {
	out := make(chan dispatch.StreamFrame)

	go func() {
		defer close(out)
		defer body.Close()

		state := &streamState{}
		emit(out, "message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": "codex-" + model, "type": "message", "role": "assistant",
				"model": model, "content": []any{}, "stop_reason": nil,
			},
		})

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := line[len("data: "):]
			if data == "[DONE]" {
				continue
			}

			var frame struct {
				Type string `json:"type"`
			}
			if json.Unmarshal([]byte(data), &frame) != nil {
				continue
			}

			switch frame.Type {
			case "response.output_text.delta":
				handleTextDelta(out, state, data)
			case "response.completed":
				handleCompleted(out, state, data)
				return
			}
		}
	}()

	return out
}

func handleTextDelta(out chan<- dispatch.StreamFrame, state *streamState, data string) {
	var delta responseTextDeltaEvent
	if json.Unmarshal([]byte(data), &delta) != nil {
		return
	}
	if !state.textBlockOpen {
		state.textBlockOpen = true
		emit(out, "content_block_start", map[string]any{
			"type": "content_block_start", "index": state.nextIndex,
			"content_block": map[string]any{"type": "text", "text": ""},
		})
	}
	emit(out, "content_block_delta", map[string]any{
		"type": "content_block_delta", "index": state.nextIndex,
		"delta": map[string]any{"type": "text_delta", "text": delta.Delta},
	})
}

func handleCompleted(out chan<- dispatch.StreamFrame, state *streamState, data string) {
	var completed responseCompletedEvent
	if json.Unmarshal([]byte(data), &completed) != nil {
		emit(out, "message_stop", map[string]any{"type": "message_stop"})
		return
	}

	if state.textBlockOpen {
		emit(out, "content_block_stop", map[string]any{"type": "content_block_stop", "index": state.nextIndex})
		state.nextIndex++
		state.textBlockOpen = false
	}

	sawToolUse := false
	for _, item := range completed.Response.Output {
		if item.Type != "function_call" {
			continue
		}
		sawToolUse = true
		idx := state.nextIndex
		state.nextIndex++

		input := make(map[string]any)
		if err := json.Unmarshal([]byte(item.Arguments), &input); err != nil {
			input = map[string]any{"raw": item.Arguments}
		}

		emit(out, "content_block_start", map[string]any{
			"type": "content_block_start", "index": idx,
			"content_block": map[string]any{"type": "tool_use", "id": item.ID, "name": item.Name, "input": input},
		})
		emit(out, "content_block_delta", map[string]any{
			"type": "content_block_delta", "index": idx,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": item.Arguments},
		})
		emit(out, "content_block_stop", map[string]any{"type": "content_block_stop", "index": idx})
	}

	stopReason := "end_turn"
	if sawToolUse {
		stopReason = "tool_use"
	}
	emit(out, "message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason},
		"usage": usageFrom(completed.Response.Usage),
	})
	emit(out, "message_stop", map[string]any{"type": "message_stop"})
}

func emit(out chan<- dispatch.StreamFrame, eventType string, data any) {
	out <- dispatch.StreamFrame{Data: dispatch.FormatSSEFrame(eventType, data)}
}

func usageFrom(u *ResponsesUsage) map[string]any {
	if u == nil {
		return map[string]any{"output_tokens": 0}
	}
	return map[string]any{"input_tokens": u.InputTokens, "output_tokens": u.OutputTokens}
}
