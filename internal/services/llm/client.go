package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"subflow/internal/logging"
	"subflow/internal/services"
)

const maxRetryAfter = time.Minute

// Validator inspects a parsed response. A non-nil error rejects the attempt
// and its message is recorded alongside the response.
type Validator func(parsed any) error

// Request is one logical call.
type Request struct {
	Prompt       string
	ResponseType string
	Validator    Validator
	LogTitle     string
	Overrides    *Overrides
}

// Result is a validated response.
type Result struct {
	Raw      string
	Parsed   any
	Cached   bool
	Attempts int
}

// Decode converts Parsed into target (typically a struct or map).
func (r Result) Decode(target any) error {
	if s, ok := target.(*string); ok {
		if text, ok := r.Parsed.(string); ok {
			*s = text
			return nil
		}
		*s = r.Raw
		return nil
	}
	encoded, err := json.Marshal(r.Parsed)
	if err != nil {
		return fmt.Errorf("encode parsed response: %w", err)
	}
	return json.Unmarshal(encoded, target)
}

// ValidationError wraps a validator rejection.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "response validation failed: " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return services.ErrValidation
}

// Client runs Requests against a Completer.
type Client struct {
	settings  Settings
	completer Completer
	store     Store
	limiter   *rate.Limiter
	group     singleflight.Group
	logger    *slog.Logger
	sleeper   func(context.Context, time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithStore records attempts in store and serves cache hits from it.
func WithStore(store Store) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithRateLimit paces attempts to at most rps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleeper != nil {
			c.sleeper = sleeper
		}
	}
}

// NewClient constructs a Client. A nil completer uses NewHTTPCompleter(nil).
func NewClient(settings Settings, completer Completer, opts ...Option) *Client {
	if completer == nil {
		completer = NewHTTPCompleter(nil)
	}
	c := &Client{
		settings:  settings,
		completer: completer,
		logger:    logging.NewNop(),
		sleeper:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "llm")
	return c
}

// Settings returns the client's default settings.
func (c *Client) Settings() Settings {
	return c.settings
}

// Call resolves settings, consults the cache, then makes up to Retries+1
// attempts. The last failure is returned when every attempt fails.
func (c *Client) Call(ctx context.Context, req Request) (Result, error) {
	settings := c.settings.Resolve(req.Overrides)
	if strings.TrimSpace(settings.APIKey) == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "llm", "resolve settings", "api key is not set", nil)
	}
	if req.ResponseType == "" {
		req.ResponseType = ResponseJSON
	}
	if req.LogTitle == "" {
		req.LogTitle = "default"
	}
	key := NewCacheKey(settings.Model, req.Prompt, req.ResponseType)

	value, err, _ := c.group.Do(key.String(), func() (any, error) {
		return c.call(ctx, settings, key, req)
	})
	if err != nil {
		return Result{}, err
	}
	return value.(Result), nil
}

func (c *Client) call(ctx context.Context, settings Settings, key CacheKey, req Request) (Result, error) {
	logger := logging.WithContext(ctx, c.logger).With(
		logging.String("model", settings.Model),
		logging.String("log_title", req.LogTitle),
	)

	if result, ok := c.lookup(ctx, key, req, logger); ok {
		return result, nil
	}

	attempts := settings.Retries + 1
	route := settings.Route()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Result{}, err
			}
		}

		prompt := req.Prompt + strings.Repeat(" ", attempt-1)
		started := time.Now()
		logger.Info("llm request start",
			logging.String("route", route),
			logging.Int("attempt", attempt),
			logging.Int("attempts", attempts),
		)
		raw, err := c.completer.Complete(ctx, settings, prompt)
		var parsed any
		if err == nil {
			parsed, err = parseResponse(raw, req.ResponseType)
		}
		if err == nil && req.Validator != nil {
			if verr := req.Validator(parsed); verr != nil {
				err = &ValidationError{Message: verr.Error()}
			}
		}

		if err == nil {
			c.save(ctx, logger, CallRecord{
				Bucket: BucketSuccess, LogTitle: req.LogTitle, Model: settings.Model,
				PromptHash: key.PromptHash, Prompt: req.Prompt, ResponseType: req.ResponseType,
				Attempt: attempt, Raw: raw, Parsed: encodeParsed(parsed),
			})
			logger.Info("llm request done",
				logging.String("route", route),
				logging.Int("attempt", attempt),
				logging.Duration("elapsed", time.Since(started)),
			)
			return Result{Raw: raw, Parsed: parsed, Attempts: attempt}, nil
		}

		lastErr = err
		c.save(ctx, logger, CallRecord{
			Bucket: BucketError, LogTitle: req.LogTitle, Model: settings.Model,
			PromptHash: key.PromptHash, Prompt: req.Prompt, ResponseType: req.ResponseType,
			Attempt: attempt, Raw: raw, Parsed: encodeParsed(parsed), Message: err.Error(),
		})
		logger.Warn("llm request failed",
			logging.String("route", route),
			logging.Int("attempt", attempt),
			logging.Int("attempts", attempts),
			logging.Duration("elapsed", time.Since(started)),
			logging.Error(err),
		)

		if attempt == attempts || !retryable(ctx, err) {
			break
		}
		if err := c.sleeper(ctx, retryDelay(settings, err)); err != nil {
			return Result{}, err
		}
	}
	return Result{}, lastErr
}

func (c *Client) lookup(ctx context.Context, key CacheKey, req Request, logger *slog.Logger) (Result, bool) {
	if c.store == nil {
		return Result{}, false
	}
	rec, ok, err := c.store.Lookup(ctx, key)
	if err != nil {
		logging.WarnWithContext(logger, "llm cache lookup failed", "llm_cache_lookup",
			logging.Error(err),
			logging.String(logging.FieldImpact, "request will be sent to the backend"),
		)
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	parsed, err := decodeParsed(rec, req.ResponseType)
	if err != nil {
		return Result{}, false
	}
	logger.Info("used cache")
	return Result{Raw: rec.Raw, Parsed: parsed, Cached: true}, true
}

func (c *Client) save(ctx context.Context, logger *slog.Logger, rec CallRecord) {
	if c.store == nil {
		return
	}
	// Recording must not depend on the caller still waiting.
	if err := c.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		logging.WarnWithContext(logger, "llm call record not saved", "llm_cache_save",
			logging.Error(err),
			logging.String(logging.FieldImpact, "attempt missing from postmortem log"),
		)
	}
}

func parseResponse(raw, responseType string) (any, error) {
	if responseType != ResponseJSON {
		return raw, nil
	}
	var parsed any
	if err := DecodeLLMJSON(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse json response: %w", err)
	}
	return parsed, nil
}

func encodeParsed(parsed any) string {
	if parsed == nil {
		return ""
	}
	if s, ok := parsed.(string); ok {
		return s
	}
	encoded, err := json.Marshal(parsed)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func decodeParsed(rec CallRecord, responseType string) (any, error) {
	if responseType != ResponseJSON {
		if rec.Parsed != "" {
			return rec.Parsed, nil
		}
		return rec.Raw, nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(rec.Parsed), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// retryable treats per-request timeouts as transient; only the caller's own
// cancellation stops the loop.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, services.ErrConfiguration) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.retryable()
	}
	return true
}

func retryDelay(settings Settings, err error) time.Duration {
	delay := settings.RetryDelay
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > delay {
		delay = min(statusErr.RetryAfter, maxRetryAfter)
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
