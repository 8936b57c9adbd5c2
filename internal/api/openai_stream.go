package api

import (
	"bufio"
	"encoding/json"
	"strings"

	"github.com/relaycore/dispatch-proxy/pkg/types"
)

// openAIStreamState accumulates the bits of an Anthropic-shaped SSE frame
// needed to emit the equivalent OpenAI-shaped chunk: whether the role has
// already been announced, and which content-block index is a tool call.
type openAIStreamState struct {
	roleSent  bool
	toolIndex map[int]bool
}

func newOpenAIStreamState() *openAIStreamState {
	return &openAIStreamState{toolIndex: make(map[int]bool)}
}

// translateFrame turns one already-framed Anthropic SSE event (as emitted by
// dispatch.FormatSSEFrame) into zero or more OpenAI-shaped chat-completion
// chunks, mirroring the same content-block event vocabulary the Codex and
// Copilot adapters already parse coming the other direction.
func translateFrame(frame []byte, model string, state *openAIStreamState) []types.ChatCompletionChunk {
	eventType, data := splitSSEFrame(frame)
	if eventType == "" {
		return nil
	}

	var chunks []types.ChatCompletionChunk

	emit := func(delta types.ChatChunkDelta, finish *string) {
		chunks = append(chunks, types.ChatCompletionChunk{
			ID:      "chatcmpl-" + model,
			Object:  "chat.completion.chunk",
			Model:   model,
			Choices: []types.ChatChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		})
	}

	switch eventType {
	case "message_start":
		if !state.roleSent {
			state.roleSent = true
			emit(types.ChatChunkDelta{Role: "assistant"}, nil)
		}
	case "content_block_start":
		var ev struct {
			Index        int `json:"index"`
			ContentBlock struct {
				Type string `json:"type"`
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"content_block"`
		}
		if json.Unmarshal(data, &ev) == nil && ev.ContentBlock.Type == "tool_use" {
			state.toolIndex[ev.Index] = true
			call := types.ChatToolCall{ID: ev.ContentBlock.ID, Type: "function"}
			call.Function.Name = ev.ContentBlock.Name
			emit(types.ChatChunkDelta{ToolCalls: []types.ChatToolCall{call}}, nil)
		}
	case "content_block_delta":
		var ev struct {
			Index int `json:"index"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
			} `json:"delta"`
		}
		if json.Unmarshal(data, &ev) != nil {
			return chunks
		}
		if ev.Delta.Type == "text_delta" {
			emit(types.ChatChunkDelta{Content: ev.Delta.Text}, nil)
		} else if ev.Delta.Type == "input_json_delta" && state.toolIndex[ev.Index] {
			call := types.ChatToolCall{Type: "function"}
			call.Function.Arguments = ev.Delta.PartialJSON
			emit(types.ChatChunkDelta{ToolCalls: []types.ChatToolCall{call}}, nil)
		}
	case "message_delta":
		var ev struct {
			Delta struct {
				StopReason string `json:"stop_reason"`
			} `json:"delta"`
		}
		if json.Unmarshal(data, &ev) == nil && ev.Delta.StopReason != "" {
			finish := mapFinishReason(ev.Delta.StopReason)
			emit(types.ChatChunkDelta{}, &finish)
		}
	}

	return chunks
}

func mapFinishReason(stopReason string) string {
	switch stopReason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return "stop"
	}
}

// splitSSEFrame extracts the event type and JSON payload out of one
// "event: X\ndata: Y\n\n" frame.
func splitSSEFrame(frame []byte) (eventType string, data []byte) {
	scanner := bufio.NewScanner(strings.NewReader(string(frame)))
	var dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimPrefix(line, "data: ")
		}
	}
	return eventType, []byte(dataLine)
}
