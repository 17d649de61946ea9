package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// TokenFunc returns the bearer credential for one request, or false when
// none is available. It is consulted on every round so refreshed tokens
// are picked up without rebuilding the adapter.
type TokenFunc func(ctx context.Context) (string, bool)

// ChatCompletionsAdapter talks to an OpenAI-compatible Chat Completions
// endpoint. Kimi and Moonshot return the model's reasoning as a
// reasoning_content extra field; the adapter surfaces it as a thinking part
// and sends it back on assistant messages that carry tool calls.
type ChatCompletionsAdapter struct {
	provider string
	client   openai.Client
	token    TokenFunc
}

type chatCompletionsConfig struct {
	baseURL    string
	token      TokenFunc
	headers    map[string]string
	httpClient *http.Client
}

// ChatCompletionsOption configures a ChatCompletionsAdapter.
type ChatCompletionsOption func(*chatCompletionsConfig)

// WithBaseURL points the adapter at an API base such as https://api.moonshot.cn/v1.
func WithBaseURL(url string) ChatCompletionsOption {
	return func(c *chatCompletionsConfig) {
		c.baseURL = strings.TrimSpace(url)
	}
}

// WithTokenFunc sets the credential source.
func WithTokenFunc(fn TokenFunc) ChatCompletionsOption {
	return func(c *chatCompletionsConfig) {
		c.token = fn
	}
}

// WithStaticKey uses a fixed API key.
func WithStaticKey(key string) ChatCompletionsOption {
	key = strings.TrimSpace(key)
	return WithTokenFunc(func(context.Context) (string, bool) {
		return key, key != ""
	})
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) ChatCompletionsOption {
	return func(c *chatCompletionsConfig) {
		c.headers[key] = value
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ChatCompletionsOption {
	return func(c *chatCompletionsConfig) {
		c.httpClient = hc
	}
}

// NewChatCompletionsAdapter builds an adapter registered under provider.
func NewChatCompletionsAdapter(provider string, opts ...ChatCompletionsOption) *ChatCompletionsAdapter {
	cfg := &chatCompletionsConfig{headers: map[string]string{}}
	for _, opt := range opts {
		opt(cfg)
	}

	// The real key is attached per request; the placeholder keeps the SDK
	// from reading OPENAI_API_KEY from the environment.
	reqOpts := []option.RequestOption{option.WithAPIKey("unset"), option.WithMaxRetries(0)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	for k, v := range cfg.headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	token := cfg.token
	if token == nil {
		token = func(context.Context) (string, bool) { return "", false }
	}

	return &ChatCompletionsAdapter{
		provider: provider,
		client:   openai.NewClient(reqOpts...),
		token:    token,
	}
}

// Name returns the provider identifier.
func (a *ChatCompletionsAdapter) Name() string {
	return a.provider
}

// Complete performs one non-streaming Chat Completions call.
func (a *ChatCompletionsAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	key, ok := a.token(ctx)
	if !ok || key == "" {
		return nil, NewAuthenticationError(a.provider, "not logged in: no valid credential available")
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(ResolveModel(req.Model)),
		Messages: buildChatMessages(req.Messages),
	}
	if len(req.ToolDefs) > 0 {
		params.Tools = buildChatTools(req.ToolDefs)
		params.ParallelToolCalls = openai.Bool(false)
		if req.ToolChoice == nil || req.ToolChoice.Mode == "auto" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
		}
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}

	resp, err := a.client.Chat.Completions.New(ctx, params, option.WithAPIKey(key))
	if err != nil {
		return nil, a.translateError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ResponseParseError{SDKError: SDKError{Message: "response contained no choices"}}
	}
	return a.buildResponse(resp), nil
}

// ListModels enumerates the endpoint's models.
func (a *ChatCompletionsAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	key, ok := a.token(ctx)
	if !ok || key == "" {
		return nil, NewAuthenticationError(a.provider, "not logged in: no valid credential available")
	}
	page, err := a.client.Models.List(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, a.translateError(err)
	}
	models := make([]ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		info := ModelInfo{ID: m.ID, Provider: a.provider, DisplayName: m.ID}
		if known := GetModelInfo(m.ID); known != nil {
			info = *known
			info.Provider = a.provider
		}
		models = append(models, info)
	}
	return models, nil
}

func (a *ChatCompletionsAdapter) buildResponse(resp *openai.ChatCompletion) *Response {
	choice := resp.Choices[0]
	msg := Message{Role: RoleAssistant}

	if reasoning := extractReasoning(choice.Message); reasoning != "" {
		msg.Content = append(msg.Content, ThinkingPart(reasoning))
	}
	if choice.Message.Content != "" {
		msg.Content = append(msg.Content, TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(strings.TrimSpace(tc.Function.Arguments))
		msg.Content = append(msg.Content, ToolCallPart(strings.TrimSpace(tc.ID), tc.Function.Name, args))
	}

	finish := FinishReason{Reason: "other", Raw: choice.FinishReason}
	switch choice.FinishReason {
	case "stop", "length", "tool_calls", "content_filter":
		finish.Reason = choice.FinishReason
	}
	if len(choice.Message.ToolCalls) > 0 {
		finish.Reason = "tool_calls"
	}

	return &Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Provider:     a.provider,
		Message:      msg,
		FinishReason: finish,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
}

func (a *ChatCompletionsAdapter) translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &AbortError{SDKError: SDKError{Message: "request aborted", Cause: err}}
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Error(), a.provider, apiErr.Code, nil)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &ResponseParseError{SDKError: SDKError{Message: "malformed response body", Cause: err}}
	}
	return &NetworkError{SDKError: SDKError{Message: fmt.Sprintf("%s request failed", a.provider), Cause: err}}
}

func buildChatTools(defs []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		fn := shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
		}
		if len(def.Parameters) > 0 {
			fn.Parameters = shared.FunctionParameters(def.Parameters)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}

func buildChatMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.TextContent()))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.TextContent()))
		case RoleTool:
			if tr := msg.ToolResult(); tr != nil {
				out = append(out, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
		case RoleAssistant:
			calls := msg.ToolCalls()
			if len(calls) == 0 {
				out = append(out, openai.AssistantMessage(msg.TextContent()))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
			for _, c := range calls {
				args := strings.TrimSpace(string(c.Arguments))
				if args == "" || !json.Valid([]byte(args)) {
					args = "{}"
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: c.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.Name,
						Arguments: args,
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if text := msg.TextContent(); text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
			}
			if reasoning := msg.Reasoning(); reasoning != "" {
				assistant.SetExtraFields(map[string]any{"reasoning_content": reasoning})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return out
}

func extractReasoning(msg openai.ChatCompletionMessage) string {
	if msg.JSON.ExtraFields == nil {
		return ""
	}
	field, ok := msg.JSON.ExtraFields["reasoning_content"]
	if !ok {
		return ""
	}
	raw := strings.TrimSpace(field.Raw())
	if raw == "" || raw == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal([]byte(raw), &text); err != nil {
		return raw
	}
	return text
}
