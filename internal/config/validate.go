package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateTranslation(); err != nil {
		return err
	}
	if err := c.validateWhisper(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind %q must be host:port: %w", c.Paths.APIBind, err)
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.Retries < 0 {
		return errors.New("llm.retries must be zero or positive")
	}
	for name, override := range map[string]LLMOverride{
		"llm.polish":        c.LLM.Polish,
		"llm.trim":          c.LLM.Trim,
		"llm.correction":    c.LLM.Correction,
		"llm.entity_repair": c.LLM.EntityRepair,
	} {
		if override.Retries != nil && *override.Retries < 0 {
			return fmt.Errorf("%s.retries must be zero or positive", name)
		}
		if override.RetryDelaySeconds != nil && *override.RetryDelaySeconds < 0 {
			return fmt.Errorf("%s.retry_delay_seconds must be zero or positive", name)
		}
		if override.TimeoutSeconds < 0 {
			return fmt.Errorf("%s.timeout_seconds must be zero or positive", name)
		}
	}
	return nil
}

func (c *Config) validateTranslation() error {
	t := c.Translation
	if _, err := language.Parse(t.TargetLanguage); err != nil {
		return fmt.Errorf("translation.target_language %q is not a valid BCP 47 tag: %w", t.TargetLanguage, err)
	}
	switch t.Mode {
	case ModeSinglePass, ModeTwoPass:
	default:
		return fmt.Errorf("translation.mode must be %q or %q (got %q)", ModeSinglePass, ModeTwoPass, t.Mode)
	}
	if t.SimilarityThreshold > 1 {
		return errors.New("translation.similarity_threshold must be between 0 and 1")
	}
	if t.SpeedFactorMax < 1 {
		return errors.New("translation.speed_factor_max must be at least 1")
	}
	if t.MinTrimDuration < 0 {
		return errors.New("translation.min_trim_duration must be zero or positive")
	}
	return nil
}

func (c *Config) validateWhisper() error {
	if c.Whisper.Language != "" {
		if _, err := language.Parse(c.Whisper.Language); err != nil {
			return fmt.Errorf("whisper.language %q is not a valid language tag: %w", c.Whisper.Language, err)
		}
	}
	switch c.Whisper.VADMethod {
	case "pyannote", "silero":
	default:
		return fmt.Errorf("whisper.vad_method must be \"pyannote\" or \"silero\" (got %q)", c.Whisper.VADMethod)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeoutSeconds < 0 {
		return errors.New("notifications.request_timeout_seconds must be zero or positive")
	}
	topic := strings.TrimSpace(c.Notifications.NtfyTopic)
	if topic == "" {
		return nil
	}
	parsed, err := url.Parse(topic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic %q must be an http(s) URL", topic)
	}
	return nil
}

func (c *Config) validateArchive() error {
	if c.Archive.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.Archive.PruneSchedule); err != nil {
			return fmt.Errorf("archive.prune_schedule %q: %w", c.Archive.PruneSchedule, err)
		}
	}
	if c.Archive.S3.Enabled {
		if c.Archive.S3.Bucket == "" {
			return errors.New("archive.s3.bucket must be set when archive.s3.enabled is true")
		}
		if (c.Archive.S3.AccessKeyID == "") != (c.Archive.S3.SecretAccessKey == "") {
			return errors.New("archive.s3.access_key_id and archive.s3.secret_access_key must be set together")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", strings.TrimSpace(c.Logging.Level))
	}
	return nil
}
