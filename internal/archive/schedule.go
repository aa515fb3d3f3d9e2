package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"subflow/internal/logging"
)

// StartPruning runs Prune on the configured schedule until ctx ends. It
// returns a nil stop func when pruning is disabled.
func (s *Service) StartPruning(ctx context.Context) (func(), error) {
	expr := strings.TrimSpace(s.cfg.PruneSchedule)
	if expr == "" || s.cfg.RetentionDays <= 0 {
		return nil, nil
	}
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(expr, func() {
		if _, err := s.Prune(ctx); err != nil {
			logging.WarnWithContext(s.logger, "archive prune failed", "archive_prune_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "old archives remain on disk"),
			)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule archive pruning: %w", err)
	}
	scheduler.Start()
	s.logger.Info("archive pruning scheduled",
		logging.String("schedule", expr),
		logging.Int("retention_days", s.cfg.RetentionDays),
	)
	stop := func() { <-scheduler.Stop().Done() }
	go func() {
		<-ctx.Done()
		scheduler.Stop()
	}()
	return stop, nil
}
