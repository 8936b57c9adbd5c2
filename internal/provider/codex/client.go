package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is the ChatGPT-Codex backend the relay example talks to.
const DefaultBaseURL = "https://chatgpt.com/backend-api/codex"

// DefaultTimeout bounds one upstream call. It is shorter than the
// 10-minute client timeout the Antigravity and Copilot adapters use.
const DefaultTimeout = 5 * time.Minute

// Client handles HTTP communication with the Codex backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a Codex client against the default backend.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: DefaultTimeout}, baseURL: DefaultBaseURL}
}

// RequestOptions carries the per-call identity the relay example forwards
// as headers: the bearer token and, when known, the account's ChatGPT
// workspace id.
type RequestOptions struct {
	Token            string
	ChatGPTAccountID string
}

func (c *Client) setHeaders(req *http.Request, opts RequestOptions) {
	req.Header.Set("Authorization", "Bearer "+opts.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Host", "chatgpt.com")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if opts.ChatGPTAccountID != "" {
		req.Header.Set("Chatgpt-Account-Id", opts.ChatGPTAccountID)
	}
}

// SendChatCompletion performs a non-streaming request against the plain
// chat-completions surface.
func (c *Client) SendChatCompletion(ctx context.Context, opts RequestOptions, payload *ChatCompletionsPayload) (*ChatCompletionResponse, error) {
	payload.Stream = false
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completions payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, opts)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode chat completions response: %w", err)
	}
	return &result, nil
}

// SendResponsesStream performs a streaming request against the responses
// surface, returning the raw server-sent-events body for the caller to
// scan. Codex always streams on this surface.
func (c *Client) SendResponsesStream(ctx context.Context, opts RequestOptions, payload *ResponsesPayload) (io.ReadCloser, error) {
	payload.Stream = true
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal responses payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, opts)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}

// StatusError carries a non-2xx Codex response for classification at the
// adapter boundary.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("codex upstream status %d: %s", e.StatusCode, e.Body)
}
