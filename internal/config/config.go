package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir    string `toml:"work_dir"`
	UploadDir  string `toml:"upload_dir"`
	ArchiveDir string `toml:"archive_dir"`
	CacheDir   string `toml:"cache_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// LLM contains the process-wide text-generation settings. Polish, Trim,
// Correction and EntityRepair carry per-feature overrides that are layered
// on top at call time.
type LLM struct {
	APIKey            string      `toml:"api_key"`
	BaseURL           string      `toml:"base_url"`
	Model             string      `toml:"model"`
	JSONMode          bool        `toml:"json_mode"`
	TimeoutSeconds    int         `toml:"timeout_seconds"`
	Retries           int         `toml:"retries"`
	RetryDelaySeconds float64     `toml:"retry_delay_seconds"`
	RequestsPerSecond float64     `toml:"requests_per_second"`
	Referer           string      `toml:"referer"`
	Title             string      `toml:"title"`
	Polish            LLMOverride `toml:"polish"`
	Trim              LLMOverride `toml:"trim"`
	Correction        LLMOverride `toml:"correction"`
	EntityRepair      LLMOverride `toml:"entity_repair"`
}

// LLMOverride holds optional per-feature replacements for LLM settings.
// Zero strings and nil pointers inherit the [llm] value.
type LLMOverride struct {
	APIKey            string   `toml:"api_key"`
	BaseURL           string   `toml:"base_url"`
	Model             string   `toml:"model"`
	JSONMode          *bool    `toml:"json_mode"`
	TimeoutSeconds    int      `toml:"timeout_seconds"`
	Retries           *int     `toml:"retries"`
	RetryDelaySeconds *float64 `toml:"retry_delay_seconds"`
}

// Translation contains chunking, mode, and post-processing settings.
type Translation struct {
	TargetLanguage      string  `toml:"target_language"`
	Mode                string  `toml:"mode"`
	ChunkSize           int     `toml:"chunk_size"`
	MaxChunkLines       int     `toml:"max_chunk_lines"`
	ContextLines        int     `toml:"context_lines"`
	Workers             int     `toml:"workers"`
	Polish              bool    `toml:"polish"`
	Trim                bool    `toml:"trim"`
	MinTrimDuration     float64 `toml:"min_trim_duration"`
	SpeedFactorMax      float64 `toml:"speed_factor_max"`
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	GlossaryPath        string  `toml:"glossary_path"`
}

// Whisper contains speech recognition settings.
type Whisper struct {
	Runtime      string `toml:"runtime"`
	Model        string `toml:"model"`
	Language     string `toml:"language"`
	CUDAEnabled  bool   `toml:"cuda_enabled"`
	VADMethod    string `toml:"vad_method"`
	HFToken      string `toml:"hf_token"`
	Binary       string `toml:"binary"`
	FFmpegBinary string `toml:"ffmpeg_binary"`
}

// Download contains yt-dlp settings.
type Download struct {
	Binary            string   `toml:"binary"`
	Proxy             string   `toml:"proxy"`
	CookiesPath       string   `toml:"cookies_path"`
	Retries           int      `toml:"retries"`
	RetryDelaySeconds int      `toml:"retry_delay_seconds"`
	LowFormat         string   `toml:"low_format"`
	HighFormat        string   `toml:"high_format"`
	AllowedFormats    []string `toml:"allowed_formats"`
}

// Splitter configures the external sentence splitter. An empty command
// selects the built-in punctuation splitter.
type Splitter struct {
	Command        []string `toml:"command"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Correction configures LLM correction of misrecognized English tokens.
type Correction struct {
	Enabled         bool `toml:"enabled"`
	OnlyWhenEnglish bool `toml:"only_when_english"`
}

// EntityRepair configures moving named entities that the sentence
// splitter cut in two back onto one line.
type EntityRepair struct {
	Enabled             bool `toml:"enabled"`
	OnlySpaceJoined     bool `toml:"only_space_joined"`
	BoundaryWindowWords int  `toml:"boundary_window_words"`
	MaxPairsPerRequest  int  `toml:"max_pairs_per_request"`
	MaxFragmentWords    int  `toml:"max_fragment_words"`
	MaxLineWords        int  `toml:"max_line_words"`
}

// MFA configures optional Montreal Forced Aligner refinement of word
// timings. Failures keep the recognizer's timings.
type MFA struct {
	Enabled        bool   `toml:"enabled"`
	Binary         string `toml:"binary"`
	AcousticModel  string `toml:"acoustic_model"`
	Dictionary     string `toml:"dictionary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Burn contains ffmpeg subtitle burn-in settings.
type Burn struct {
	FFmpegBinary   string   `toml:"ffmpeg_binary"`
	FFprobeBinary  string   `toml:"ffprobe_binary"`
	VideoCodec     string   `toml:"video_codec"`
	VideoArgs      []string `toml:"video_args"`
	AudioCodec     string   `toml:"audio_codec"`
	AudioBitrate   string   `toml:"audio_bitrate"`
	ValidateOutput bool     `toml:"validate_output"`
}

// Alignment contains timestamp alignment settings.
type Alignment struct {
	GapMergeSeconds float64 `toml:"gap_merge_seconds"`
}

// Workflow contains orchestrator timing.
type Workflow struct {
	StopGraceSeconds int `toml:"stop_grace_seconds"`
}

// ArchiveS3 configures the optional S3 sink for archived runs.
type ArchiveS3 struct {
	Enabled         bool   `toml:"enabled"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	Profile         string `toml:"profile"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	ForcePathStyle  bool   `toml:"force_path_style"`
}

// Archive contains the policy for artifacts of previous runs.
type Archive struct {
	KeepIntermediates bool      `toml:"keep_intermediates"`
	RetentionDays     int       `toml:"retention_days"`
	PruneSchedule     string    `toml:"prune_schedule"`
	S3                ArchiveS3 `toml:"s3"`
}

// Notifications configures ntfy alerts for finished runs and burns.
// An empty topic disables them.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string `toml:"format"`
	Level          string `toml:"level"`
	BufferCapacity int    `toml:"buffer_capacity"`
	MaxSizeMB      int    `toml:"max_size_mb"`
	MaxBackups     int    `toml:"max_backups"`
	RetentionDays  int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for subflow.
//
// Configuration sections by subsystem:
//   - Paths: workspace, uploads, archives, caches, and API bind address
//   - LLM: text-generation backend plus per-feature overrides
//   - Translation: chunking, mode, polish and trim passes
//   - Whisper: speech recognition runtime
//   - MFA: optional forced-alignment refinement
//   - Correction: English token correction
//   - Download: yt-dlp invocation
//   - Splitter: sentence splitting command
//   - EntityRepair: entity repair across sentence boundaries
//   - Burn: ffmpeg burn-in
//   - Alignment: subtitle gap merging
//   - Workflow: orchestrator timing
//   - Archive: previous-run retention and optional S3 sink
//   - Notifications: ntfy alerts
//   - Logging: log format, level, rotation, and in-memory buffer size
type Config struct {
	Paths         Paths         `toml:"paths"`
	LLM           LLM           `toml:"llm"`
	Translation   Translation   `toml:"translation"`
	Whisper       Whisper       `toml:"whisper"`
	MFA           MFA           `toml:"mfa"`
	Correction    Correction    `toml:"correction"`
	Download      Download      `toml:"download"`
	Splitter      Splitter      `toml:"splitter"`
	EntityRepair  EntityRepair  `toml:"entity_repair"`
	Burn          Burn          `toml:"burn"`
	Alignment     Alignment     `toml:"alignment"`
	Workflow      Workflow      `toml:"workflow"`
	Archive       Archive       `toml:"archive"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	loadDotEnv(resolvedPath)
	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("subflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// loadDotEnv reads .env files next to the config file and in the current
// directory. Existing environment variables always win.
func loadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			_ = godotenv.Load(candidate)
		}
	}
}

func (c *Config) applyEnv() {
	if value, ok := lookupEnv("SUBFLOW_LLM_API_KEY"); ok && strings.TrimSpace(c.LLM.APIKey) == "" {
		c.LLM.APIKey = value
	}
	if value, ok := lookupEnv("SUBFLOW_LLM_BASE_URL"); ok && strings.TrimSpace(c.LLM.BaseURL) == "" {
		c.LLM.BaseURL = value
	}
	if value, ok := lookupEnv("SUBFLOW_API_TOKEN"); ok && strings.TrimSpace(c.Paths.APIToken) == "" {
		c.Paths.APIToken = value
	}
	if value, ok := lookupEnv("SUBFLOW_HF_TOKEN"); ok && strings.TrimSpace(c.Whisper.HFToken) == "" {
		c.Whisper.HFToken = value
	}
}

func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.UploadDir, c.Paths.ArchiveDir, c.Paths.CacheDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CallCachePath returns the SQLite database used to cache LLM calls.
func (c *Config) CallCachePath() string {
	return filepath.Join(c.Paths.CacheDir, "llm_calls.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "subflowd.lock")
}

// PIDPath returns the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.LogDir, "subflowd.pid")
}

// LogFilePath returns the rotating daemon log file.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "subflow.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
