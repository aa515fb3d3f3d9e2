package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"subflow/internal/services"
)

const (
	routeChat     = "chat"
	routeMessages = "messages"

	anthropicVersion   = "2023-06-01"
	messagesMaxTokens  = 8192
	outputToolName     = "output_json"
	defaultHTTPTimeout = 300 * time.Second
)

// Completer sends one prompt and returns the model's text. JSON-mode
// requests still return the JSON document as text.
type Completer interface {
	Complete(ctx context.Context, settings Settings, prompt string) (string, error)
}

// HTTPCompleter speaks both supported wire shapes.
type HTTPCompleter struct {
	httpClient *http.Client
}

// NewHTTPCompleter wraps httpClient; nil uses a client without a global
// timeout (per-call timeouts come from Settings).
func NewHTTPCompleter(httpClient *http.Client) *HTTPCompleter {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPCompleter{httpClient: httpClient}
}

// Complete routes on the model name: Claude models use the messages API with
// a forced output_json tool, everything else uses chat completions.
func (h *HTTPCompleter) Complete(ctx context.Context, settings Settings, prompt string) (string, error) {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if usesToolCall(settings.Model) {
		return h.completeMessages(ctx, settings, prompt)
	}
	return h.completeChat(ctx, settings, prompt)
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some providers return the streaming schema even when stream=false.
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content      string        `json:"content"`
	ToolCalls    []toolCall    `json:"tool_calls"`
	FunctionCall *functionCall `json:"function_call"`
	Refusal      string        `json:"refusal"`
}

type toolCall struct {
	Type     string       `json:"type"`
	ID       string       `json:"id"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (h *HTTPCompleter) completeChat(ctx context.Context, settings Settings, prompt string) (string, error) {
	payload := chatCompletionRequest{
		Model:    settings.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}
	if settings.JSONMode {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}
	headers := map[string]string{"Authorization": "Bearer " + settings.APIKey}
	if settings.Referer != "" {
		headers["HTTP-Referer"] = settings.Referer
	}
	if settings.Title != "" {
		headers["X-Title"] = settings.Title
	}

	body, err := h.post(ctx, chatEndpoint(settings.BaseURL), headers, payload)
	if err != nil {
		return "", err
	}
	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("llm request: decode response: %w", err)
	}
	if completion.Error != nil {
		return "", fmt.Errorf("llm request: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	content, finishReason := extractCompletionPayload(completion)
	if content == "" {
		return "", &emptyContentError{
			Op:           "chat completion",
			FinishReason: finishReason,
			Refusal:      extractCompletionRefusal(completion),
			Snippet:      summarizePayloadSnippet(string(body)),
		}
	}
	return content, nil
}

type messagesRequest struct {
	Model      string         `json:"model"`
	MaxTokens  int            `json:"max_tokens"`
	Messages   []chatMessage  `json:"messages"`
	Tools      []messagesTool `json:"tools,omitempty"`
	ToolChoice map[string]any `json:"tool_choice,omitempty"`
}

type messagesTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type messagesResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (h *HTTPCompleter) completeMessages(ctx context.Context, settings Settings, prompt string) (string, error) {
	payload := messagesRequest{
		Model:     settings.Model,
		MaxTokens: messagesMaxTokens,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	}
	if settings.JSONMode {
		payload.Tools = []messagesTool{{
			Name:        outputToolName,
			Description: "Return final answer as a JSON object only.",
			InputSchema: map[string]any{"type": "object", "additionalProperties": true},
		}}
		payload.ToolChoice = map[string]any{"type": "tool", "name": outputToolName}
	}
	headers := map[string]string{
		"x-api-key":         settings.APIKey,
		"anthropic-version": anthropicVersion,
	}

	body, err := h.post(ctx, messagesEndpoint(settings.BaseURL), headers, payload)
	if err != nil {
		return "", err
	}
	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("llm request: decode response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("llm request: api error: %s", strings.TrimSpace(resp.Error.Message))
	}

	var toolInput string
	var text []string
	for _, block := range resp.Content {
		switch block.Type {
		case "tool_use":
			if toolInput == "" && len(block.Input) > 0 {
				toolInput = strings.TrimSpace(string(block.Input))
			}
		case "text":
			if t := strings.TrimSpace(block.Text); t != "" {
				text = append(text, t)
			}
		}
	}
	if settings.JSONMode && toolInput != "" {
		return toolInput, nil
	}
	if joined := strings.Join(text, "\n"); joined != "" {
		return joined, nil
	}
	if toolInput != "" {
		return toolInput, nil
	}
	return "", &emptyContentError{
		Op:           "messages",
		FinishReason: resp.StopReason,
		Snippet:      summarizePayloadSnippet(string(body)),
	}
}

func (h *HTTPCompleter) post(ctx context.Context, endpoint string, headers map[string]string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "llm", "build request", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return body, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       summarizePayloadSnippet(string(body)),
			RetryAfter: retryAfter,
		}
	}
	return body, nil
}

// chatEndpoint appends /v1 when the base URL carries no version segment.
func chatEndpoint(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	if !strings.Contains(base, "/v1") && !strings.Contains(base, "/v3") {
		base += "/v1"
	}
	return base + "/chat/completions"
}

func messagesEndpoint(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasSuffix(base, "/v1/messages"):
		return base
	case strings.HasSuffix(base, "/v1"):
		return base + "/messages"
	default:
		return base + "/v1/messages"
	}
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether the status may succeed on a later attempt.
func (e *httpStatusError) retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusConflict,
		e.StatusCode == http.StatusTooManyRequests,
		e.StatusCode >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

type emptyContentError struct {
	Op           string
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf(
		"%s: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.Op,
		e.FinishReason,
		e.Refusal,
		e.Snippet,
	)
}

func extractCompletionPayload(completion chatCompletionResponse) (string, string) {
	var finishReason string
	for _, choice := range completion.Choices {
		if finishReason == "" {
			finishReason = strings.TrimSpace(choice.FinishReason)
		}
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content, finishReason
		}
		if args := firstNonEmpty(
			functionCallArguments(choice.Message.FunctionCall),
			functionCallArguments(choice.Delta.FunctionCall),
			toolCallArguments(choice.Message.ToolCalls),
			toolCallArguments(choice.Delta.ToolCalls),
		); args != "" {
			return args, finishReason
		}
	}
	return "", finishReason
}

func extractCompletionRefusal(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if refusal := firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal); refusal != "" {
			return refusal
		}
	}
	return ""
}

func functionCallArguments(fc *functionCall) string {
	if fc == nil {
		return ""
	}
	return strings.TrimSpace(fc.Arguments)
}

func toolCallArguments(calls []toolCall) string {
	for _, call := range calls {
		if args := strings.TrimSpace(call.Function.Arguments); args != "" {
			return args
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

// NewModelsRequest builds an authenticated GET for the provider's model
// list. It costs no tokens and is used to probe reachability and keys.
func NewModelsRequest(ctx context.Context, settings Settings) (*http.Request, error) {
	var endpoint string
	headers := map[string]string{}
	if settings.Route() == routeMessages {
		endpoint = strings.TrimSuffix(messagesEndpoint(settings.BaseURL), "/messages") + "/models"
		headers["x-api-key"] = settings.APIKey
		headers["anthropic-version"] = anthropicVersion
	} else {
		endpoint = strings.TrimSuffix(chatEndpoint(settings.BaseURL), "/chat/completions") + "/models"
		headers["Authorization"] = "Bearer " + settings.APIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}
