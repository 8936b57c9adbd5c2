package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/relaycore/dispatch-proxy/internal/accountstore"
	"github.com/relaycore/dispatch-proxy/internal/dispatch"
	derrors "github.com/relaycore/dispatch-proxy/internal/errors"
	"github.com/relaycore/dispatch-proxy/pkg/types"
)

// Adapter implements dispatch.Adapter for GitHub Copilot. It owns no account
// selection or retry logic of its own: the dispatch engine picks the
// account and decides whether to fail over. Unlike Antigravity, each call
// first exchanges the account's stored GitHub token for a short-lived
// Copilot token, cached separately from the long-lived credential.
type Adapter struct {
	tokens *accountstore.TokenCache

	endpointsMu sync.RWMutex
	endpoints   map[string]string // model ID -> preferred endpoint, lazily populated

	modelsOnce sync.Once
}

// NewAdapter builds a Copilot adapter.
func NewAdapter() *Adapter {
	return &Adapter{
		tokens:    accountstore.NewTokenCache(),
		endpoints: make(map[string]string),
	}
}

func accountType(acc *accountstore.Account) AccountType {
	switch acc.AccountType {
	case "business":
		return AccountTypeBusiness
	case "enterprise":
		return AccountTypeEnterprise
	default:
		return AccountTypeIndividual
	}
}

// copilotToken returns a live Copilot token for account, exchanging its
// stored GitHub token when the cached one has lapsed.
func (a *Adapter) copilotToken(ctx context.Context, acc *accountstore.Account) (string, error) {
	if tok, ok := a.tokens.Get(acc.Provider, acc.ID); ok {
		return tok, nil
	}

	githubToken := acc.RefreshToken
	if githubToken == "" {
		return "", fmt.Errorf("no GitHub token for account %s", acc.ID)
	}

	resp, err := GetCopilotToken(ctx, githubToken, accountType(acc))
	if err != nil {
		return "", err
	}

	a.tokens.Set(acc.Provider, acc.ID, resp.Token, time.Unix(resp.ExpiresAt, 0))
	return resp.Token, nil
}

// endpointForModel returns the model's preferred endpoint, fetching the
// account's model catalog once, on first use, to populate the cache. A
// fetch failure just leaves every model on DefaultEndpoint.
func (a *Adapter) endpointForModel(ctx context.Context, client *Client, token, model string) string {
	a.modelsOnce.Do(func() {
		resp, err := client.GetModels(ctx, token)
		if err != nil {
			return
		}
		a.endpointsMu.Lock()
		for _, m := range resp.Data {
			a.endpoints[m.ID] = m.PreferredEndpoint()
		}
		a.endpointsMu.Unlock()
	})

	a.endpointsMu.RLock()
	defer a.endpointsMu.RUnlock()
	if ep, ok := a.endpoints[model]; ok {
		return ep
	}
	return DefaultEndpoint
}

func toAnthropicRequest(req dispatch.Request) *types.AnthropicRequest {
	messages := make([]types.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		content, _ := json.Marshal(m.Content)
		messages = append(messages, types.Message{Role: m.Role, Content: content})
	}

	tools := make([]types.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		schema, _ := t.InputSchema.(map[string]interface{})
		tools = append(tools, types.Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	return &types.AnthropicRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
		Tools:     tools,
	}
}

func fromAnthropicResponse(resp *types.AnthropicResponse) *dispatch.Response {
	blocks := make([]dispatch.ContentBlock, 0, len(resp.Content))
	for _, b := range resp.Content {
		switch b.Type {
		case "tool_use":
			blocks = append(blocks, dispatch.ContentBlock{
				Type:      dispatch.BlockToolUse,
				ToolUseID: b.ID,
				ToolName:  b.Name,
				ToolInput: b.Input,
			})
		default:
			blocks = append(blocks, dispatch.ContentBlock{Type: dispatch.BlockText, Text: b.Text})
		}
	}

	return &dispatch.Response{
		ContentBlocks: blocks,
		StopReason:    mapStopReason(resp.StopReason),
		Usage: dispatch.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
}

func mapStopReason(reason string) dispatch.StopReason {
	switch reason {
	case "end_turn", "tool_use", "max_tokens", "stop_sequence":
		return dispatch.StopReason(reason)
	default:
		return dispatch.MapFinishReason(reason)
	}
}

// Complete implements dispatch.Adapter.
func (a *Adapter) Complete(ctx context.Context, account *accountstore.Account, req dispatch.Request) (*dispatch.Response, error) {
	token, err := a.copilotToken(ctx, account)
	if err != nil {
		return nil, classifyAuthError(err)
	}

	client := NewClient(accountType(account))
	anthropicReq := toAnthropicRequest(req)
	endpoint := a.endpointForModel(ctx, client, token, req.Model)

	var payload interface{}
	if endpoint == "/responses" {
		payload, err = TranslateToOpenAIResponses(anthropicReq)
	} else {
		payload, err = TranslateToOpenAI(anthropicReq)
	}
	if err != nil {
		return nil, &derrors.TransportError{Provider: "copilot", Err: err}
	}

	openAIResp, err := client.SendMessage(ctx, token, payload, endpoint)
	if err != nil {
		return nil, classifyClientError(err)
	}

	switch r := openAIResp.(type) {
	case *ChatCompletionResponse:
		return fromAnthropicResponse(TranslateToAnthropic(r, req.Model)), nil
	case *ResponsesAPIResponse:
		return fromAnthropicResponse(TranslateResponsesAPIToAnthropic(r, req.Model)), nil
	default:
		return nil, &derrors.TransportError{Provider: "copilot", Err: fmt.Errorf("unexpected response type %T", openAIResp)}
	}
}

// Stream implements dispatch.Adapter, translating the shared SSE event
// stream into already-framed Anthropic SSE wire frames.
func (a *Adapter) Stream(ctx context.Context, account *accountstore.Account, req dispatch.Request) (<-chan dispatch.StreamFrame, error) {
	token, err := a.copilotToken(ctx, account)
	if err != nil {
		return nil, classifyAuthError(err)
	}

	client := NewClient(accountType(account))
	anthropicReq := toAnthropicRequest(req)
	endpoint := a.endpointForModel(ctx, client, token, req.Model)

	var payload interface{}
	if endpoint == "/responses" {
		payload, err = TranslateToOpenAIResponses(anthropicReq)
	} else {
		payload, err = TranslateToOpenAI(anthropicReq)
	}
	if err != nil {
		return nil, &derrors.TransportError{Provider: "copilot", Err: err}
	}

	body, err := client.SendMessageStream(ctx, token, payload, endpoint)
	if err != nil {
		return nil, classifyClientError(err)
	}

	var events <-chan types.StreamEvent
	if endpoint == "/responses" {
		events = ParseSSEStreamResponses(ctx, body, req.Model)
	} else {
		events = ParseSSEStream(ctx, body, req.Model)
	}

	out := make(chan dispatch.StreamFrame)
	go func() {
		defer close(out)
		defer body.Close()
		for ev := range events {
			out <- dispatch.StreamFrame{Data: dispatch.FormatSSEFrame(ev.Type, ev.Raw)}
		}
	}()
	return out, nil
}

// Refresh exchanges a fresh Copilot token, dropping whatever the cache
// currently holds for this account. Called after a 401/403, mirroring the
// legacy provider's invalidateToken-then-retry path.
func (a *Adapter) Refresh(ctx context.Context, account *accountstore.Account) error {
	a.tokens.Invalidate(account.Provider, account.ID)
	_, err := a.copilotToken(ctx, account)
	return err
}

func classifyAuthError(err error) error {
	return &derrors.UpstreamError{Provider: "copilot", Status: 401, Body: err.Error()}
}

func classifyClientError(err error) error {
	if rl, ok := err.(*RateLimitError); ok {
		return &derrors.UpstreamError{
			Provider:         "copilot",
			Status:           rl.StatusCode,
			Body:             rl.Message,
			RetryAfterHeader: strconv.FormatFloat(rl.RetryAfter.Seconds(), 'f', -1, 64),
		}
	}
	if ae, ok := err.(*AuthError); ok {
		return &derrors.UpstreamError{Provider: "copilot", Status: ae.StatusCode, Body: ae.Message}
	}
	if he, ok := err.(*HTTPError); ok {
		return &derrors.UpstreamError{Provider: "copilot", Status: he.StatusCode, Body: he.Message}
	}
	return &derrors.TransportError{Provider: "copilot", Err: err}
}
