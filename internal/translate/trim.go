package translate

import (
	"context"

	"golang.org/x/sync/errgroup"

	"subflow/internal/logging"
	"subflow/internal/services/llm"
	"subflow/internal/textutil"
)

// TrimLines shortens each line whose on-screen duration exceeds the
// minimum trim duration and is too short to read it. Trimming never fails:
// a rejected or failed request falls back to stripping punctuation.
func (p *Pipeline) TrimLines(ctx context.Context, lines []string, durations []float64) []string {
	out := append([]string(nil), lines...)
	if !p.opts.Trim {
		return out
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(p.opts.Workers)
	for i, line := range lines {
		duration := 0.0
		if i < len(durations) {
			duration = durations[i]
		}
		if duration <= p.opts.MinTrimDuration {
			continue
		}
		group.Go(func() error {
			out[i] = p.Trim(gctx, line, duration)
			return nil
		})
	}
	_ = group.Wait()
	return out
}

// Trim shortens text when its estimated reading time, allowing for the
// maximum speed-up factor, exceeds duration seconds.
func (p *Pipeline) Trim(ctx context.Context, text string, duration float64) string {
	estimated := EstimateReadingSeconds(text) / p.opts.SpeedFactorMax
	if estimated <= duration {
		return text
	}
	logger := logging.WithContext(ctx, p.logger).With(
		logging.Float64("estimated_seconds", estimated),
		logging.Float64("duration_seconds", duration),
	)
	logger.Debug("subtitle exceeds reading time; shortening")

	res, err := p.caller.Call(ctx, llm.Request{
		Prompt:       trimPrompt(text, duration),
		ResponseType: llm.ResponseJSON,
		Validator:    requireKey("result"),
		LogTitle:     "sub_trim",
		Overrides:    p.opts.TrimOverrides,
	})
	var shortened string
	if err == nil {
		obj, _ := res.Parsed.(map[string]any)
		shortened = singleLine(obj["result"])
	}
	if shortened == "" {
		shortened = textutil.StripPunctuation(text)
		logging.WarnWithContext(logger, "subtitle trim unavailable; stripped punctuation instead", "trim_fallback",
			logging.String(logging.FieldImpact, "subtitle kept at full length"),
			logging.Error(err),
		)
		return shortened
	}
	logger.Debug("subtitle shortened", logging.String("before", text), logging.String("after", shortened))
	return shortened
}
