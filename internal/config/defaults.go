package config

const (
	defaultConfigPath          = "~/.config/subflow/config.toml"
	defaultWorkDir             = "~/.local/share/subflow/output"
	defaultUploadDir           = "~/.local/share/subflow/uploads"
	defaultArchiveDir          = "~/.local/share/subflow/archives"
	defaultCacheDir            = "~/.local/share/subflow/cache"
	defaultLogDir              = "~/.local/share/subflow/logs"
	defaultAPIBind             = "127.0.0.1:7487"
	defaultLLMBaseURL          = "https://openrouter.ai/api/v1"
	defaultLLMModel            = "deepseek/deepseek-chat"
	defaultLLMReferer          = "https://github.com/subflow/subflow"
	defaultLLMTitle            = "Subflow"
	defaultLLMTimeoutSeconds   = 300
	defaultLLMRetries          = 3
	defaultLLMRetryDelay       = 1.0
	defaultLLMRequestsPerSec   = 2.0
	defaultTargetLanguage      = "zh-Hans"
	defaultTranslationMode     = ModeTwoPass
	defaultChunkSize           = 600
	defaultMaxChunkLines       = 10
	defaultContextLines        = 8
	defaultTranslationWorkers  = 4
	defaultMinTrimDuration     = 2.5
	defaultSpeedFactorMax      = 1.4
	defaultSimilarityThreshold = 0.9
	defaultWhisperRuntime      = "whisperx"
	defaultWhisperModel        = "large-v3"
	defaultWhisperVADMethod    = "pyannote"
	defaultUVXBinary           = "uvx"
	defaultFFmpegBinary        = "ffmpeg"
	defaultFFprobeBinary       = "ffprobe"
	defaultYtDlpBinary         = "yt-dlp"
	defaultDownloadRetries     = 2
	defaultDownloadRetryDelay  = 2
	defaultLowFormat           = "worstvideo+worstaudio/worst"
	defaultHighFormat          = "bestvideo+bestaudio/best"
	defaultSplitterTimeout     = 600
	defaultRepairWindowWords   = 8
	defaultRepairPairsPerCall  = 120
	defaultRepairFragmentWords = 4
	defaultRepairLineWords     = 20
	defaultMFABinary           = "mfa"
	defaultMFAModel            = "english_mfa"
	defaultMFATimeout          = 1800
	defaultVideoCodec          = "libx264"
	defaultAudioCodec          = "aac"
	defaultAudioBitrate        = "320k"
	defaultGapMergeSeconds     = 1.0
	defaultStopGraceSeconds    = 5
	defaultPruneSchedule       = "@daily"
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogBufferCapacity   = 2000
	defaultLogMaxSizeMB        = 20
	defaultLogMaxBackups       = 5
	defaultLogRetentionDays    = 30
)

// Translation modes.
const (
	ModeSinglePass = "single_pass"
	ModeTwoPass    = "two_pass"
)

var defaultAllowedFormats = []string{"mp4", "mkv", "webm", "mov", "avi", "flv", "wmv"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:    defaultWorkDir,
			UploadDir:  defaultUploadDir,
			ArchiveDir: defaultArchiveDir,
			CacheDir:   defaultCacheDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		LLM: LLM{
			BaseURL:           defaultLLMBaseURL,
			Model:             defaultLLMModel,
			JSONMode:          true,
			TimeoutSeconds:    defaultLLMTimeoutSeconds,
			Retries:           defaultLLMRetries,
			RetryDelaySeconds: defaultLLMRetryDelay,
			RequestsPerSecond: defaultLLMRequestsPerSec,
			Referer:           defaultLLMReferer,
			Title:             defaultLLMTitle,
		},
		Translation: Translation{
			TargetLanguage:      defaultTargetLanguage,
			Mode:                defaultTranslationMode,
			ChunkSize:           defaultChunkSize,
			MaxChunkLines:       defaultMaxChunkLines,
			ContextLines:        defaultContextLines,
			Workers:             defaultTranslationWorkers,
			Polish:              true,
			Trim:                true,
			MinTrimDuration:     defaultMinTrimDuration,
			SpeedFactorMax:      defaultSpeedFactorMax,
			SimilarityThreshold: defaultSimilarityThreshold,
		},
		Whisper: Whisper{
			Runtime:      defaultWhisperRuntime,
			Model:        defaultWhisperModel,
			VADMethod:    defaultWhisperVADMethod,
			Binary:       defaultUVXBinary,
			FFmpegBinary: defaultFFmpegBinary,
		},
		MFA: MFA{
			Binary:         defaultMFABinary,
			AcousticModel:  defaultMFAModel,
			Dictionary:     defaultMFAModel,
			TimeoutSeconds: defaultMFATimeout,
		},
		Correction: Correction{
			OnlyWhenEnglish: true,
		},
		Download: Download{
			Binary:            defaultYtDlpBinary,
			Retries:           defaultDownloadRetries,
			RetryDelaySeconds: defaultDownloadRetryDelay,
			LowFormat:         defaultLowFormat,
			HighFormat:        defaultHighFormat,
			AllowedFormats:    append([]string(nil), defaultAllowedFormats...),
		},
		Splitter: Splitter{
			TimeoutSeconds: defaultSplitterTimeout,
		},
		EntityRepair: EntityRepair{
			OnlySpaceJoined:     true,
			BoundaryWindowWords: defaultRepairWindowWords,
			MaxPairsPerRequest:  defaultRepairPairsPerCall,
			MaxFragmentWords:    defaultRepairFragmentWords,
			MaxLineWords:        defaultRepairLineWords,
		},
		Burn: Burn{
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			VideoCodec:     defaultVideoCodec,
			AudioCodec:     defaultAudioCodec,
			AudioBitrate:   defaultAudioBitrate,
			ValidateOutput: true,
		},
		Alignment: Alignment{
			GapMergeSeconds: defaultGapMergeSeconds,
		},
		Workflow: Workflow{
			StopGraceSeconds: defaultStopGraceSeconds,
		},
		Archive: Archive{
			PruneSchedule: defaultPruneSchedule,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format:         defaultLogFormat,
			Level:          defaultLogLevel,
			BufferCapacity: defaultLogBufferCapacity,
			MaxSizeMB:      defaultLogMaxSizeMB,
			MaxBackups:     defaultLogMaxBackups,
			RetentionDays:  defaultLogRetentionDays,
		},
	}
}
