package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLLM()
	if err := c.normalizeTranslation(); err != nil {
		return err
	}
	c.normalizeWhisper()
	c.normalizeMFA()
	c.normalizeEntityRepair()
	if err := c.normalizeDownload(); err != nil {
		return err
	}
	c.normalizeBurn()
	c.normalizeArchive()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name     string
		value    *string
		fallback string
	}{
		{"paths.work_dir", &c.Paths.WorkDir, defaultWorkDir},
		{"paths.upload_dir", &c.Paths.UploadDir, defaultUploadDir},
		{"paths.archive_dir", &c.Paths.ArchiveDir, defaultArchiveDir},
		{"paths.cache_dir", &c.Paths.CacheDir, defaultCacheDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.BaseURL), "/")
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.RetryDelaySeconds < 0 {
		c.LLM.RetryDelaySeconds = 0
	}
	if c.LLM.RequestsPerSecond < 0 {
		c.LLM.RequestsPerSecond = 0
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	for _, override := range []*LLMOverride{&c.LLM.Polish, &c.LLM.Trim, &c.LLM.Correction, &c.LLM.EntityRepair} {
		override.APIKey = strings.TrimSpace(override.APIKey)
		override.BaseURL = strings.TrimRight(strings.TrimSpace(override.BaseURL), "/")
		override.Model = strings.TrimSpace(override.Model)
	}
}

func (c *Config) normalizeTranslation() error {
	t := &c.Translation
	t.TargetLanguage = strings.TrimSpace(t.TargetLanguage)
	if t.TargetLanguage == "" {
		t.TargetLanguage = defaultTargetLanguage
	}
	t.Mode = strings.ToLower(strings.TrimSpace(t.Mode))
	switch t.Mode {
	case "":
		t.Mode = defaultTranslationMode
	case "single", "single-pass", "faithful":
		t.Mode = ModeSinglePass
	case "two", "two-pass", "reflect":
		t.Mode = ModeTwoPass
	}
	if t.ChunkSize <= 0 {
		t.ChunkSize = defaultChunkSize
	}
	if t.MaxChunkLines <= 0 {
		t.MaxChunkLines = defaultMaxChunkLines
	}
	if t.ContextLines < 0 {
		t.ContextLines = 0
	}
	if t.Workers <= 0 {
		t.Workers = defaultTranslationWorkers
	}
	if t.SpeedFactorMax <= 0 {
		t.SpeedFactorMax = defaultSpeedFactorMax
	}
	if t.SimilarityThreshold <= 0 {
		t.SimilarityThreshold = defaultSimilarityThreshold
	}
	t.GlossaryPath = strings.TrimSpace(t.GlossaryPath)
	if t.GlossaryPath != "" {
		expanded, err := expandPath(t.GlossaryPath)
		if err != nil {
			return fmt.Errorf("translation.glossary_path: %w", err)
		}
		t.GlossaryPath = expanded
	}
	return nil
}

func (c *Config) normalizeWhisper() {
	w := &c.Whisper
	w.Runtime = strings.ToLower(strings.TrimSpace(w.Runtime))
	if w.Runtime == "" {
		w.Runtime = defaultWhisperRuntime
	}
	if strings.TrimSpace(w.Model) == "" {
		w.Model = defaultWhisperModel
	}
	w.Language = strings.ToLower(strings.TrimSpace(w.Language))
	w.VADMethod = strings.ToLower(strings.TrimSpace(w.VADMethod))
	if w.VADMethod == "" {
		w.VADMethod = defaultWhisperVADMethod
	}
	w.HFToken = strings.TrimSpace(w.HFToken)
	if strings.TrimSpace(w.Binary) == "" {
		w.Binary = defaultUVXBinary
	}
	if strings.TrimSpace(w.FFmpegBinary) == "" {
		w.FFmpegBinary = defaultFFmpegBinary
	}
}

func (c *Config) normalizeDownload() error {
	d := &c.Download
	if strings.TrimSpace(d.Binary) == "" {
		d.Binary = defaultYtDlpBinary
	}
	d.Proxy = strings.TrimSpace(d.Proxy)
	d.CookiesPath = strings.TrimSpace(d.CookiesPath)
	if d.CookiesPath != "" {
		expanded, err := expandPath(d.CookiesPath)
		if err != nil {
			return fmt.Errorf("download.cookies_path: %w", err)
		}
		d.CookiesPath = expanded
	}
	if d.Retries < 0 {
		d.Retries = 0
	}
	if d.RetryDelaySeconds < 0 {
		d.RetryDelaySeconds = 0
	}
	if strings.TrimSpace(d.LowFormat) == "" {
		d.LowFormat = defaultLowFormat
	}
	if strings.TrimSpace(d.HighFormat) == "" {
		d.HighFormat = defaultHighFormat
	}
	formats := make([]string, 0, len(d.AllowedFormats))
	seen := make(map[string]struct{}, len(d.AllowedFormats))
	for _, format := range d.AllowedFormats {
		format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
		if format == "" {
			continue
		}
		if _, ok := seen[format]; ok {
			continue
		}
		seen[format] = struct{}{}
		formats = append(formats, format)
	}
	if len(formats) == 0 {
		formats = append(formats, defaultAllowedFormats...)
	}
	d.AllowedFormats = formats
	if c.Splitter.TimeoutSeconds <= 0 {
		c.Splitter.TimeoutSeconds = defaultSplitterTimeout
	}
	return nil
}

func (c *Config) normalizeBurn() {
	b := &c.Burn
	if strings.TrimSpace(b.FFmpegBinary) == "" {
		b.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(b.VideoCodec) == "" {
		b.VideoCodec = defaultVideoCodec
	}
	if strings.TrimSpace(b.AudioCodec) == "" {
		b.AudioCodec = defaultAudioCodec
	}
	if strings.TrimSpace(b.AudioBitrate) == "" {
		b.AudioBitrate = defaultAudioBitrate
	}
	if c.Alignment.GapMergeSeconds < 0 {
		c.Alignment.GapMergeSeconds = 0
	}
	if c.Workflow.StopGraceSeconds <= 0 {
		c.Workflow.StopGraceSeconds = defaultStopGraceSeconds
	}
}

func (c *Config) normalizeArchive() {
	a := &c.Archive
	a.PruneSchedule = strings.TrimSpace(a.PruneSchedule)
	if a.RetentionDays < 0 {
		a.RetentionDays = 0
	}
	a.S3.Bucket = strings.TrimSpace(a.S3.Bucket)
	a.S3.Prefix = strings.Trim(strings.TrimSpace(a.S3.Prefix), "/")
	a.S3.Region = strings.TrimSpace(a.S3.Region)
	a.S3.Endpoint = strings.TrimSpace(a.S3.Endpoint)
	a.S3.Profile = strings.TrimSpace(a.S3.Profile)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.BufferCapacity <= 0 {
		c.Logging.BufferCapacity = defaultLogBufferCapacity
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeMFA() {
	m := &c.MFA
	m.Binary = strings.TrimSpace(m.Binary)
	if m.Binary == "" {
		m.Binary = defaultMFABinary
	}
	m.AcousticModel = strings.TrimSpace(m.AcousticModel)
	if m.AcousticModel == "" {
		m.AcousticModel = defaultMFAModel
	}
	m.Dictionary = strings.TrimSpace(m.Dictionary)
	if m.Dictionary == "" {
		m.Dictionary = defaultMFAModel
	}
	if m.TimeoutSeconds <= 0 {
		m.TimeoutSeconds = defaultMFATimeout
	}
}

// normalizeEntityRepair clamps the repair windows to the ranges the
// boundary prompt is written for.
func (c *Config) normalizeEntityRepair() {
	r := &c.EntityRepair
	if r.BoundaryWindowWords <= 0 {
		r.BoundaryWindowWords = defaultRepairWindowWords
	}
	r.BoundaryWindowWords = min(max(r.BoundaryWindowWords, 2), 20)
	if r.MaxPairsPerRequest <= 0 {
		r.MaxPairsPerRequest = defaultRepairPairsPerCall
	}
	r.MaxPairsPerRequest = max(r.MaxPairsPerRequest, 10)
	if r.MaxFragmentWords <= 0 {
		r.MaxFragmentWords = defaultRepairFragmentWords
	}
	r.MaxFragmentWords = min(r.MaxFragmentWords, 8)
	if r.MaxLineWords <= 0 {
		r.MaxLineWords = defaultRepairLineWords
	}
	r.MaxLineWords = max(r.MaxLineWords, 5)
}
