package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"subflow/internal/align"
	"subflow/internal/config"
	"subflow/internal/language"
	"subflow/internal/logging"
	"subflow/internal/services"
	"subflow/internal/services/llm"
)

// Spoken forms the corrector must leave alone.
var colloquialForms = map[string]bool{
	"gonna": true, "wanna": true, "gotta": true, "kinda": true,
	"sorta": true, "ain't": true, "y'all": true,
}

// CorrectorOptions tunes the token corrector.
type CorrectorOptions struct {
	Enabled         bool
	OnlyWhenEnglish bool
	Overrides       *llm.Overrides
}

// CorrectorOptionsFromConfig maps [correction] and [llm.correction].
func CorrectorOptionsFromConfig(cfg *config.Config) CorrectorOptions {
	return CorrectorOptions{
		Enabled:         cfg.Correction.Enabled,
		OnlyWhenEnglish: cfg.Correction.OnlyWhenEnglish,
		Overrides:       llm.OverridesFromConfig(cfg.LLM.Correction),
	}
}

// TokenChange is one changelog row for a suggested token replacement.
type TokenChange struct {
	RunID      string    `json:"run_id,omitempty"`
	LoggedAt   time.Time `json:"logged_at"`
	Status     string    `json:"status"`
	SkipReason string    `json:"skip_reason,omitempty"`
	StartKey   string    `json:"start_key"`
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Confidence string    `json:"confidence,omitempty"`
	Type       string    `json:"type,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Before     string    `json:"before,omitempty"`
	After      string    `json:"after,omitempty"`
}

// Corrector asks the LLM for token-level fixes of recognition errors.
type Corrector struct {
	caller Caller
	opts   CorrectorOptions
	logger *slog.Logger
	now    func() time.Time
}

// NewCorrector constructs a Corrector.
func NewCorrector(caller Caller, opts CorrectorOptions, logger *slog.Logger) *Corrector {
	return &Corrector{
		caller: caller,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "correction"),
		now:    time.Now,
	}
}

type token struct {
	StartKey string  `json:"start_key"`
	Start    float64 `json:"start"`
	Word     string  `json:"word"`
}

type wordRef struct{ seg, word int }

// Correct returns transcript with the accepted replacements applied and a
// row per suggestion. A disabled corrector, or a non-English transcript
// when OnlyWhenEnglish is set, returns the input unchanged. The input is
// never modified.
func (c *Corrector) Correct(ctx context.Context, transcript align.Transcript) (align.Transcript, []TokenChange, error) {
	if !c.opts.Enabled {
		return transcript, nil, nil
	}
	logger := logging.WithContext(ctx, c.logger)
	if c.opts.OnlyWhenEnglish && language.ISO2(transcript.Language) != "en" {
		logger.Info("english correction skipped", logging.String("language", transcript.Language))
		return transcript, nil, nil
	}

	var tokens []token
	for _, seg := range transcript.Segments {
		for _, w := range seg.Words {
			if word := cleanWord(w.Word); word != "" {
				tokens = append(tokens, token{StartKey: startKey(w.Start), Start: w.Start, Word: word})
			}
		}
	}
	if len(tokens) == 0 {
		return transcript, nil, nil
	}
	payload, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return align.Transcript{}, nil, fmt.Errorf("encode tokens: %w", err)
	}
	logger.Info("english correction started", logging.Int("tokens", len(tokens)))
	res, err := c.caller.Call(ctx, llm.Request{
		Prompt:       correctionPrompt(string(payload)),
		ResponseType: llm.ResponseJSON,
		Validator:    correctionsValidator("start_key", "source", "target"),
		LogTitle:     "english_correction",
		Overrides:    c.opts.Overrides,
	})
	if err != nil {
		return align.Transcript{}, nil, err
	}
	suggestions := suggestionsFrom(res.Parsed)
	if len(suggestions) == 0 {
		logger.Info("no english corrections suggested")
		return transcript, nil, nil
	}

	out := cloneTranscript(transcript)
	runID, _ := services.RunIDFromContext(ctx)
	changes, touched := c.apply(out, suggestions, runID)
	joiner := language.Joiner(out.Language)
	for seg := range touched {
		words := make([]string, 0, len(out.Segments[seg].Words))
		for _, w := range out.Segments[seg].Words {
			words = append(words, w.Word)
		}
		out.Segments[seg].Text = strings.Join(words, joiner)
	}
	applied := len(changes) - countSkipped(changes)
	logger.Info("english correction completed",
		logging.Int("suggested", len(suggestions)),
		logging.Int("applied", applied),
	)
	return out, changes, nil
}

func (c *Corrector) apply(out align.Transcript, suggestions []map[string]any, runID string) ([]TokenChange, map[int]bool) {
	byStart := map[string][]wordRef{}
	for si, seg := range out.Segments {
		for wi, w := range seg.Words {
			key := startKey(w.Start)
			byStart[key] = append(byStart[key], wordRef{si, wi})
		}
	}
	used := map[wordRef]bool{}
	touched := map[int]bool{}
	logged := c.now().UTC()

	changes := make([]TokenChange, 0, len(suggestions))
	for _, item := range suggestions {
		change := TokenChange{
			RunID:      runID,
			LoggedAt:   logged,
			Status:     StatusSkipped,
			StartKey:   suggestionStartKey(item["start_key"]),
			Source:     cleanWord(asString(item["source"])),
			Target:     cleanWord(asString(item["target"])),
			Confidence: strings.ToLower(asString(item["confidence"])),
			Type:       asString(item["type"]),
			Reason:     asString(item["reason"]),
		}
		ref, reason := c.locate(change, byStart, used)
		if reason == "" {
			current := cleanWord(out.Segments[ref.seg].Words[ref.word].Word)
			change.Before = current
			if current != change.Source {
				reason = "source_mismatch_with_current_token"
			}
		}
		if reason != "" {
			change.SkipReason = reason
			changes = append(changes, change)
			continue
		}
		out.Segments[ref.seg].Words[ref.word].Word = change.Target
		used[ref] = true
		touched[ref.seg] = true
		change.Status = StatusApplied
		change.After = change.Target
		changes = append(changes, change)
	}
	return changes, touched
}

// locate runs the safety checks and finds the first unused word at the
// suggested start. It returns a skip reason when the suggestion is unsafe.
func (c *Corrector) locate(change TokenChange, byStart map[string][]wordRef, used map[wordRef]bool) (wordRef, string) {
	switch {
	case change.StartKey == "" || change.Source == "" || change.Target == "":
		return wordRef{}, "missing_required_fields"
	case change.Source == change.Target:
		return wordRef{}, "source_equals_target"
	case strings.ContainsAny(change.Source, " \t") || strings.ContainsAny(change.Target, " \t"):
		return wordRef{}, "non_token_replacement"
	case colloquialForms[strings.ToLower(change.Source)]:
		return wordRef{}, "colloquial_form_guard"
	case change.Confidence != "" && confidenceRank(change.Confidence) < confidenceRank("high"):
		return wordRef{}, "low_confidence"
	}
	for _, ref := range byStart[change.StartKey] {
		if !used[ref] {
			return ref, ""
		}
	}
	return wordRef{}, "start_key_not_found_or_already_used"
}

func startKey(start float64) string {
	return fmt.Sprintf("%.6f", start)
}

// suggestionStartKey accepts the key echoed as a string or as a number.
func suggestionStartKey(v any) string {
	if n, ok := v.(float64); ok {
		return startKey(n)
	}
	return asString(v)
}

func cleanWord(text string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `"`))
}

func cloneTranscript(t align.Transcript) align.Transcript {
	out := align.Transcript{Language: t.Language, Segments: make([]align.Segment, len(t.Segments))}
	for i, seg := range t.Segments {
		seg.Words = append([]align.Word(nil), seg.Words...)
		out.Segments[i] = seg
	}
	return out
}

func countSkipped(changes []TokenChange) int {
	n := 0
	for _, c := range changes {
		if c.Status == StatusSkipped {
			n++
		}
	}
	return n
}
