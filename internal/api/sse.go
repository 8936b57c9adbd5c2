// Package api provides HTTP server components for the proxy.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseHeaders are set once, before the first byte goes out, so intermediary
// proxies (nginx in particular, via X-Accel-Buffering) don't buffer a stream
// meant to arrive incrementally.
var sseHeaders = map[string]string{
	"Content-Type":      "text/event-stream",
	"Cache-Control":     "no-cache",
	"Connection":        "keep-alive",
	"X-Accel-Buffering": "no",
}

// SSEWriter streams Server-Sent Events over an http.ResponseWriter, flushing
// after every write so chunks reach the client as they're produced.
type SSEWriter struct {
	out     http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter commits the response to SSE framing: it sets the streaming
// headers, writes the 200 status, and flushes before returning, so the
// caller's first WriteEvent/WriteFrame call only ever appends a frame.
// Returns an error if the underlying ResponseWriter can't flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	headers := w.Header()
	for name, value := range sseHeaders {
		headers.Set(name, value)
	}

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{out: w, flusher: flusher}, nil
}

// writeFrame writes a pre-formatted SSE frame and flushes it, wrapping any
// write error with the given context.
func (s *SSEWriter) writeFrame(context string, frame string) error {
	if _, err := fmt.Fprint(s.out, frame); err != nil {
		return fmt.Errorf("%s: %w", context, err)
	}
	s.flusher.Flush()
	return nil
}

// WriteEvent writes a typed SSE event: "event: <type>\ndata: <json>\n\n".
func (s *SSEWriter) WriteEvent(eventType string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	return s.writeFrame("failed to write event", fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, jsonData))
}

// WriteData writes an SSE data-only frame (no event type).
func (s *SSEWriter) WriteData(data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return s.writeFrame("failed to write data", fmt.Sprintf("data: %s\n\n", jsonData))
}

// WriteRaw writes an SSE event whose data is already JSON-encoded.
func (s *SSEWriter) WriteRaw(eventType string, rawJSON []byte) error {
	return s.writeFrame("failed to write raw event", fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, rawJSON))
}

// WriteFrame writes an already-framed SSE event verbatim (event + data +
// blank line all included), for forwarding dispatch.StreamFrame.Data without
// re-wrapping it in another envelope.
func (s *SSEWriter) WriteFrame(frame []byte) error {
	return s.writeFrame("failed to write frame", string(frame))
}

// Flush manually flushes the response, for callers that write to s.out
// directly rather than through one of the Write* helpers.
func (s *SSEWriter) Flush() {
	s.flusher.Flush()
}

// WriteError writes an error as a normal SSE "error" event, for failures
// that occur mid-stream after headers have already gone out and a non-2xx
// status is no longer an option.
func (s *SSEWriter) WriteError(errorType, message string) error {
	return s.WriteEvent("error", map[string]interface{}{
		"type": "error",
		"error": map[string]string{
			"type":    errorType,
			"message": message,
		},
	})
}
