// Package daemonrun assembles the subflowd process: logging, run state,
// the LLM call cache, service adapters, the workflow manager and the
// daemon itself.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"subflow/internal/archive"
	"subflow/internal/config"
	"subflow/internal/daemon"
	"subflow/internal/deps"
	"subflow/internal/logging"
	"subflow/internal/notifications"
	"subflow/internal/preflight"
	"subflow/internal/repair"
	"subflow/internal/runstate"
	"subflow/internal/services/ffmpeg"
	"subflow/internal/services/llm"
	"subflow/internal/services/mfa"
	"subflow/internal/services/nlpsplit"
	"subflow/internal/services/whisper"
	"subflow/internal/services/ytdlp"
	"subflow/internal/textutil"
	"subflow/internal/translate"
	"subflow/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the subflow daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	state := runstate.New(cfg.Logging.BufferCapacity)
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		FilePath:    cfg.LogFilePath(),
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.RetentionDays,
		Development: opts.Development,
		Sinks:       []slog.Handler{runstate.NewLogHandler(state, slog.LevelInfo)},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logDependencySnapshot(logger, cfg)
	logPreflight(signalCtx, logger, cfg)

	built, err := Build(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("build collaborators", logging.Error(err))
		return err
	}
	defer built.Close()

	manager := workflow.NewManager(cfg, state, built.Deps, logger)
	d, err := daemon.New(cfg, manager, built.Archive, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return err
	}
	defer d.Stop()

	<-signalCtx.Done()
	logger.Info("subflow daemon shutting down")
	return nil
}

// Collaborators is the wired set of workflow dependencies plus the
// resources that need closing.
type Collaborators struct {
	Deps    workflow.Deps
	Archive *archive.Service
	Store   *llm.SQLiteStore
}

// Close releases the call cache.
func (c *Collaborators) Close() {
	if c != nil && c.Store != nil {
		_ = c.Store.Close()
	}
}

// Build constructs every workflow collaborator from configuration. A
// failing S3 sink downgrades to local-only archiving.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Collaborators, error) {
	store, err := llm.OpenStore(cfg.CallCachePath())
	if err != nil {
		return nil, fmt.Errorf("open call cache: %w", err)
	}
	client := llm.NewClient(llm.SettingsFromConfig(cfg.LLM), nil,
		llm.WithStore(store),
		llm.WithRateLimit(cfg.LLM.RequestsPerSecond),
		llm.WithLogger(logger),
	)
	pipeline := translate.NewPipeline(client, translate.OptionsFromConfig(cfg), logger)

	var archiveOpts []archive.Option
	if cfg.Archive.S3.Enabled {
		sink, sinkErr := archive.NewS3Sink(ctx, cfg.Archive.S3)
		if sinkErr != nil {
			logging.WarnWithContext(logger, "s3 archive sink unavailable", "archive_sink_unavailable",
				logging.Error(sinkErr),
				logging.String(logging.FieldErrorHint, "check archive.s3 settings and AWS credentials"),
				logging.String(logging.FieldImpact, "archives are kept locally only"),
			)
		} else {
			archiveOpts = append(archiveOpts, archive.WithSink(sink))
		}
	}
	archiver := archive.New(cfg, logger, archiveOpts...)

	wired := workflow.Deps{
		Downloader:  ytdlp.New(cfg.Download, logger),
		Transcriber: whisper.New(cfg.Whisper, logger),
		Splitter:    nlpsplit.New(cfg.Splitter, logger),
		Translator:  pipeline,
		Burner:      ffmpeg.New(cfg.Burn, logger),
		Archiver:    archiver,
		Notifier:    notifications.NewService(cfg.Notifications),
	}
	// Disabled passes stay nil so the workflow copies their input forward.
	if cfg.MFA.Enabled {
		wired.Refiner = mfa.New(cfg.MFA, logger)
	}
	if cfg.Correction.Enabled {
		wired.Corrector = repair.NewCorrector(client, repair.CorrectorOptionsFromConfig(cfg), logger)
	}
	if cfg.EntityRepair.Enabled {
		wired.Repairer = repair.NewRepairer(client, repair.RepairerOptionsFromConfig(cfg), logger)
	}

	return &Collaborators{
		Deps:    wired,
		Archive: archiver,
		Store:   store,
	}, nil
}

func writePIDFile(path string) error {
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.String("llm_model", cfg.LLM.Model),
		logging.String("target_language", cfg.Translation.TargetLanguage),
		logging.Bool("whisper_cuda", cfg.Whisper.CUDAEnabled),
		logging.Bool("mfa_enabled", cfg.MFA.Enabled),
		logging.Bool("correction_enabled", cfg.Correction.Enabled),
		logging.Bool("entity_repair_enabled", cfg.EntityRepair.Enabled),
		logging.Bool("archive_s3", cfg.Archive.S3.Enabled),
	}
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	for _, status := range statuses {
		attrs = append(attrs, logging.Bool(textutil.SanitizeToken(status.Name)+"_available", status.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	if missing := deps.Missing(statuses); len(missing) > 0 {
		logging.WarnWithContext(logger, "required binaries missing", "dependency_missing",
			logging.Int("missing", len(missing)),
			logging.String(logging.FieldErrorHint, "run `subflow deps` for details"),
			logging.String(logging.FieldImpact, "runs fail at the stage that needs the binary"),
		)
	}
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, r := range preflight.Failed(preflight.RunAll(ctx, cfg, nil)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run `subflow preflight` for details"),
		)
	}
}
