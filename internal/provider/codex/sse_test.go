package codex

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/relaycore/dispatch-proxy/internal/dispatch"
)

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

func TestParseResponsesStreamTextOnly(t *testing.T) {
	sseData := `data: {"type":"response.output_text.delta","delta":"Hello"}

data: {"type":"response.output_text.delta","delta":" world"}

data: {"type":"response.completed","response":{"id":"r1","status":"completed","output":[],"usage":{"input_tokens":3,"output_tokens":2}}}

`
	ctx := context.Background()
	frames := ParseResponsesStream(ctx, nopCloser{strings.NewReader(sseData)}, "gpt-5")

	var types []string
	for f := range frames {
		if f.Err != nil {
			t.Fatalf("unexpected frame error: %v", f.Err)
		}
		data := string(f.Data)
		if strings.Contains(data, "event: content_block_delta") {
			types = append(types, "delta")
		} else if strings.Contains(data, "event: message_stop") {
			types = append(types, "stop")
		}
	}
	if len(types) < 3 {
		t.Fatalf("expected at least two deltas and a stop, got %v", types)
	}
	if types[len(types)-1] != "stop" {
		t.Fatalf("expected the stream to end on message_stop, got %v", types)
	}
}

func TestParseResponsesStreamRepacksFunctionCall(t *testing.T) {
	sseData := `data: {"type":"response.completed","response":{"id":"r1","status":"completed","output":[{"type":"function_call","id":"call_1","name":"lookup","arguments":"{\"city\":\"nyc\"}"}],"usage":{"input_tokens":5,"output_tokens":1}}}

`
	ctx := context.Background()
	frames := ParseResponsesStream(ctx, nopCloser{strings.NewReader(sseData)}, "gpt-5")

	var sawToolUse, sawToolUseStopReason bool
	for f := range frames {
		data := string(f.Data)
		if strings.Contains(data, `"type":"tool_use"`) {
			sawToolUse = true
		}
		if strings.Contains(data, `"stop_reason":"tool_use"`) {
			sawToolUseStopReason = true
		}
	}
	if !sawToolUse {
		t.Fatal("expected a repacked tool_use content block")
	}
	if !sawToolUseStopReason {
		t.Fatal("expected the terminal message_delta to report stop_reason tool_use")
	}
}

func TestHandleTextDeltaOpensBlockOnce(t *testing.T) {
	out := make(chan dispatch.StreamFrame, 8)
	state := &streamState{}

	handleTextDelta(out, state, `{"type":"response.output_text.delta","delta":"a"}`)
	handleTextDelta(out, state, `{"type":"response.output_text.delta","delta":"b"}`)
	close(out)

	var opens int
	for f := range out {
		if strings.Contains(string(f.Data), "content_block_start") {
			opens++
		}
	}
	if opens != 1 {
		t.Fatalf("expected the text block to open exactly once across two deltas, got %d", opens)
	}
}
