package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"subflow/internal/services"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
}

func (s *scriptedCompleter) Complete(_ context.Context, _ Settings, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	reply := ""
	if len(s.replies) > 0 {
		reply = s.replies[min(idx, len(s.replies)-1)]
	}
	return reply, err
}

func (s *scriptedCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func noSleep(context.Context, time.Duration) error { return nil }

func testSettings() Settings {
	return Settings{APIKey: "key", Model: "demo-model", JSONMode: true, Retries: 2, RetryDelay: time.Second}
}

func TestCallAlwaysFailingValidatorMakesRetriesPlusOneAttempts(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{`{"1": {"direct": "x"}}`}}
	store := NewMemoryStore()
	client := NewClient(testSettings(), completer, WithStore(store), WithSleeper(noSleep))

	_, err := client.Call(context.Background(), Request{
		Prompt:       "translate",
		ResponseType: ResponseJSON,
		LogTitle:     "translate_faithfulness",
		Validator:    func(any) error { return errors.New("missing key 2") },
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Message != "missing key 2" {
		t.Fatalf("expected original validation error, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation marker, got %v", err)
	}
	if completer.calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", completer.calls())
	}
	for i, prompt := range completer.prompts {
		if prompt != "translate"+strings.Repeat(" ", i) {
			t.Fatalf("attempt %d prompt not perturbed: %q", i+1, prompt)
		}
	}
	records := store.Records()
	if len(records) != 3 {
		t.Fatalf("expected every attempt recorded, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Bucket != BucketError || rec.Message == "" {
			t.Fatalf("unexpected record %+v", rec)
		}
	}
}

func TestCallAcceptsThirdAttempt(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{`{"1": {}}`, `{"1": {}}`, `{"1": {}, "2": {}}`}}
	client := NewClient(testSettings(), completer, WithSleeper(noSleep))

	result, err := client.Call(context.Background(), Request{
		Prompt: "p",
		Validator: func(parsed any) error {
			if len(parsed.(map[string]any)) != 2 {
				return errors.New("wrong count")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Attempts != 3 {
		t.Fatalf("expected success on attempt 3, got %d", result.Attempts)
	}
}

func TestCallServesCacheHits(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{"```json\n{\"theme\": \"cats\"}\n```"}}
	store := NewMemoryStore()
	client := NewClient(testSettings(), completer, WithStore(store), WithSleeper(noSleep))

	req := Request{Prompt: "summarize", LogTitle: "summary"}
	first, err := client.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.Cached {
		t.Fatal("first call should not be cached")
	}
	second, err := client.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.Cached {
		t.Fatal("expected cache hit")
	}
	if completer.calls() != 1 {
		t.Fatalf("expected one backend call, got %d", completer.calls())
	}
	var decoded struct {
		Theme string `json:"theme"`
	}
	if err := second.Decode(&decoded); err != nil || decoded.Theme != "cats" {
		t.Fatalf("unexpected decoded cache payload %+v (%v)", decoded, err)
	}

	// A different model is a different key.
	other := "other-model"
	if _, err := client.Call(context.Background(), Request{Prompt: "summarize", Overrides: &Overrides{Model: other}}); err != nil {
		t.Fatalf("override call: %v", err)
	}
	if completer.calls() != 2 {
		t.Fatalf("expected model override to miss the cache")
	}
}

func TestCallMissingAPIKeyFailsWithoutAttempts(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{"{}"}}
	settings := testSettings()
	settings.APIKey = ""
	client := NewClient(settings, completer, WithSleeper(noSleep))

	_, err := client.Call(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if completer.calls() != 0 {
		t.Fatalf("expected no attempts, got %d", completer.calls())
	}
}

func TestCallTextResponse(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{"plain answer"}}
	client := NewClient(testSettings(), completer)
	result, err := client.Call(context.Background(), Request{Prompt: "p", ResponseType: ResponseText})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var text string
	if err := result.Decode(&text); err != nil || text != "plain answer" {
		t.Fatalf("unexpected text %q (%v)", text, err)
	}
}

func TestCallStopsOnClientError(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer server.Close()

	settings := testSettings()
	settings.BaseURL = server.URL
	client := NewClient(settings, NewHTTPCompleter(server.Client()), WithSleeper(noSleep))
	if _, err := client.Call(context.Background(), Request{Prompt: "p"}); err == nil {
		t.Fatal("expected error")
	}
	if hits != 1 {
		t.Fatalf("expected a single attempt for 401, got %d", hits)
	}
}

func TestCallHonorsRetryAfter(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeChatReply(t, w, `{"ok": true}`)
	}))
	defer server.Close()

	var delays []time.Duration
	settings := testSettings()
	settings.BaseURL = server.URL
	client := NewClient(settings, NewHTTPCompleter(server.Client()), WithSleeper(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))
	if _, err := client.Call(context.Background(), Request{Prompt: "p"}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(delays) != 1 || delays[0] != 3*time.Second {
		t.Fatalf("expected Retry-After delay of 3s, got %v", delays)
	}
}

func TestHTTPCompleterChatShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var payload chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.ResponseFormat["type"] != "json_object" {
			t.Errorf("expected json_object response format, got %v", payload.ResponseFormat)
		}
		if len(payload.Messages) != 1 || payload.Messages[0].Content != "hello" {
			t.Errorf("unexpected messages %+v", payload.Messages)
		}
		writeChatReply(t, w, `{"a":1}`)
	}))
	defer server.Close()

	settings := testSettings()
	settings.BaseURL = server.URL
	out, err := NewHTTPCompleter(server.Client()).Complete(context.Background(), settings, "hello")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"a":1}` {
		t.Fatalf("unexpected content %q", out)
	}
}

func TestHTTPCompleterMessagesShapeForClaude(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("missing anthropic headers: %v", r.Header)
		}
		var payload messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.MaxTokens != messagesMaxTokens || payload.ToolChoice["name"] != outputToolName {
			t.Errorf("unexpected payload %+v", payload)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": "thinking"},
				map[string]any{"type": "tool_use", "name": outputToolName, "input": map[string]any{"1": map[string]any{"direct": "x"}}},
			},
		})
	}))
	defer server.Close()

	settings := testSettings()
	settings.BaseURL = server.URL
	settings.Model = "anthropic/claude-sonnet"
	client := NewClient(settings, NewHTTPCompleter(server.Client()))
	result, err := client.Call(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	parsed := result.Parsed.(map[string]any)
	if parsed["1"].(map[string]any)["direct"] != "x" {
		t.Fatalf("unexpected parsed tool input %#v", parsed)
	}
}

func TestEndpointNormalization(t *testing.T) {
	cases := map[string]string{
		"https://api.example.com":                     "https://api.example.com/v1/chat/completions",
		"https://api.example.com/v1/":                 "https://api.example.com/v1/chat/completions",
		"https://openrouter.ai/api/v1":                "https://openrouter.ai/api/v1/chat/completions",
		"https://api.example.com/v1/chat/completions": "https://api.example.com/v1/chat/completions",
	}
	for in, want := range cases {
		if got := chatEndpoint(in); got != want {
			t.Fatalf("chatEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
	if got := messagesEndpoint("https://api.anthropic.com/v1"); got != "https://api.anthropic.com/v1/messages" {
		t.Fatalf("unexpected messages endpoint %q", got)
	}
}

func TestSettingsResolveOverridesWin(t *testing.T) {
	base := testSettings()
	retries := 0
	jsonMode := false
	delay := 5 * time.Second
	got := base.Resolve(&Overrides{Model: "trim-model", Retries: &retries, JSONMode: &jsonMode, RetryDelay: &delay})
	if got.Model != "trim-model" || got.Retries != 0 || got.JSONMode || got.RetryDelay != delay {
		t.Fatalf("unexpected resolved settings %+v", got)
	}
	if got.APIKey != base.APIKey {
		t.Fatalf("expected api key to inherit")
	}
	if base.Resolve(nil) != base {
		t.Fatal("nil overrides must not change settings")
	}
}

func writeChatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	payload := map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode response: %v", err)
	}
}
