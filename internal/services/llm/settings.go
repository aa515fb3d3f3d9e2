package llm

import (
	"strings"
	"time"

	"subflow/internal/config"
)

// Response types accepted by Call.
const (
	ResponseJSON = "json"
	ResponseText = "text"
)

// Settings are the effective parameters for one call.
type Settings struct {
	APIKey     string
	BaseURL    string
	Model      string
	JSONMode   bool
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	Referer    string
	Title      string
}

// Overrides replace individual Settings fields for one feature. Empty
// strings, zero durations and nil pointers inherit.
type Overrides struct {
	APIKey     string
	BaseURL    string
	Model      string
	JSONMode   *bool
	Timeout    time.Duration
	Retries    *int
	RetryDelay *time.Duration
}

// Resolve overlays o onto s. Override values always win when set.
func (s Settings) Resolve(o *Overrides) Settings {
	if o == nil {
		return s
	}
	if v := strings.TrimSpace(o.APIKey); v != "" {
		s.APIKey = v
	}
	if v := strings.TrimSpace(o.BaseURL); v != "" {
		s.BaseURL = v
	}
	if v := strings.TrimSpace(o.Model); v != "" {
		s.Model = v
	}
	if o.JSONMode != nil {
		s.JSONMode = *o.JSONMode
	}
	if o.Timeout > 0 {
		s.Timeout = o.Timeout
	}
	if o.Retries != nil {
		s.Retries = max(*o.Retries, 0)
	}
	if o.RetryDelay != nil {
		s.RetryDelay = max(*o.RetryDelay, 0)
	}
	return s
}

// Route names the request shape used for the model.
func (s Settings) Route() string {
	if usesToolCall(s.Model) {
		return routeMessages
	}
	return routeChat
}

// SettingsFromConfig converts the [llm] section.
func SettingsFromConfig(cfg config.LLM) Settings {
	return Settings{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		JSONMode:   cfg.JSONMode,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		Retries:    cfg.Retries,
		RetryDelay: secondsToDuration(cfg.RetryDelaySeconds),
		Referer:    cfg.Referer,
		Title:      cfg.Title,
	}
}

// OverridesFromConfig converts a per-feature override section. It returns
// nil when nothing is overridden.
func OverridesFromConfig(cfg config.LLMOverride) *Overrides {
	o := &Overrides{
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
		JSONMode: cfg.JSONMode,
		Retries:  cfg.Retries,
		Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if cfg.RetryDelaySeconds != nil {
		d := secondsToDuration(*cfg.RetryDelaySeconds)
		o.RetryDelay = &d
	}
	if *o == (Overrides{}) {
		return nil
	}
	return o
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func usesToolCall(model string) bool {
	return strings.Contains(strings.ToLower(model), "claude")
}
