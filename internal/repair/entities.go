package repair

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode"

	"subflow/internal/config"
	"subflow/internal/language"
	"subflow/internal/logging"
	"subflow/internal/services"
	"subflow/internal/services/llm"
)

// Directions a repaired fragment can move.
const (
	AppendRightToLeft  = "append_right_to_left"
	PrependLeftToRight = "prepend_left_to_right"
)

// RepairerOptions tunes the boundary repairer. Zero sizes fall back to
// the [entity_repair] defaults.
type RepairerOptions struct {
	Enabled            bool
	OnlySpaceJoined    bool
	WindowWords        int
	MaxPairsPerRequest int
	MaxFragmentWords   int
	MaxLineWords       int
	Overrides          *llm.Overrides
}

// RepairerOptionsFromConfig maps [entity_repair] and [llm.entity_repair].
func RepairerOptionsFromConfig(cfg *config.Config) RepairerOptions {
	r := cfg.EntityRepair
	return RepairerOptions{
		Enabled:            r.Enabled,
		OnlySpaceJoined:    r.OnlySpaceJoined,
		WindowWords:        r.BoundaryWindowWords,
		MaxPairsPerRequest: r.MaxPairsPerRequest,
		MaxFragmentWords:   r.MaxFragmentWords,
		MaxLineWords:       r.MaxLineWords,
		Overrides:          llm.OverridesFromConfig(cfg.LLM.EntityRepair),
	}
}

func (o RepairerOptions) withDefaults() RepairerOptions {
	defaults := config.Default().EntityRepair
	if o.WindowWords <= 0 {
		o.WindowWords = defaults.BoundaryWindowWords
	}
	if o.MaxPairsPerRequest <= 0 {
		o.MaxPairsPerRequest = defaults.MaxPairsPerRequest
	}
	if o.MaxFragmentWords <= 0 {
		o.MaxFragmentWords = defaults.MaxFragmentWords
	}
	if o.MaxLineWords <= 0 {
		o.MaxLineWords = defaults.MaxLineWords
	}
	return o
}

// BoundaryChange is one changelog row for a suggested boundary repair.
type BoundaryChange struct {
	RunID       string    `json:"run_id,omitempty"`
	LoggedAt    time.Time `json:"logged_at"`
	Status      string    `json:"status"`
	SkipReason  string    `json:"skip_reason,omitempty"`
	PairID      int       `json:"pair_id"`
	LeftWords   int       `json:"left_words"`
	RightWords  int       `json:"right_words"`
	Entity      string    `json:"entity"`
	Type        string    `json:"type,omitempty"`
	Confidence  string    `json:"confidence,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Direction   string    `json:"direction,omitempty"`
	BeforeLeft  string    `json:"before_left,omitempty"`
	BeforeRight string    `json:"before_right,omitempty"`
	AfterLeft   string    `json:"after_left,omitempty"`
	AfterRight  string    `json:"after_right,omitempty"`
}

// boundaryPair is what the prompt sees for one line boundary.
type boundaryPair struct {
	PairID    int    `json:"pair_id"`
	LeftLine  string `json:"left_line"`
	RightLine string `json:"right_line"`
	LeftTail  string `json:"left_tail"`
	RightHead string `json:"right_head"`
	LeftLen   int    `json:"left_len"`
	RightLen  int    `json:"right_len"`
}

// Repairer finds entities split across adjacent sentences.
type Repairer struct {
	caller Caller
	opts   RepairerOptions
	logger *slog.Logger
	now    func() time.Time
}

// NewRepairer constructs a Repairer.
func NewRepairer(caller Caller, opts RepairerOptions, logger *slog.Logger) *Repairer {
	return &Repairer{
		caller: caller,
		opts:   opts.withDefaults(),
		logger: logging.NewComponentLogger(logger, "entity_repair"),
		now:    time.Now,
	}
}

// Repair returns lines with accepted repairs applied plus a row per
// suggestion. A failed request only drops the suggestions of its chunk.
// The input slice is never modified.
func (r *Repairer) Repair(ctx context.Context, lines []string, lang string) ([]string, []BoundaryChange, error) {
	if !r.opts.Enabled {
		return lines, nil, nil
	}
	logger := logging.WithContext(ctx, r.logger)
	if r.opts.OnlySpaceJoined && !language.SpaceJoined(lang) {
		logger.Info("entity repair skipped", logging.String("language", lang))
		return lines, nil, nil
	}
	pairs := buildPairs(lines, r.opts.WindowWords)
	if len(pairs) == 0 {
		return lines, nil, nil
	}

	logger.Info("entity repair started", logging.Int("boundaries", len(pairs)))
	var suggestions []map[string]any
	for chunk := range slices.Chunk(pairs, r.opts.MaxPairsPerRequest) {
		payload, err := json.MarshalIndent(chunk, "", "  ")
		if err != nil {
			return nil, nil, fmt.Errorf("encode boundaries: %w", err)
		}
		res, err := r.caller.Call(ctx, llm.Request{
			Prompt:       entityRepairPrompt(string(payload)),
			ResponseType: llm.ResponseJSON,
			Validator:    correctionsValidator("pair_id", "left_words", "right_words", "entity"),
			LogTitle:     "entity_repair",
			Overrides:    r.opts.Overrides,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			logging.WarnWithContext(logger, "entity repair chunk skipped", "entity_repair_chunk_failed",
				logging.Int("first_pair", chunk[0].PairID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "boundaries in this chunk are left as split"),
			)
			continue
		}
		suggestions = append(suggestions, suggestionsFrom(res.Parsed)...)
	}
	if len(suggestions) == 0 {
		logger.Info("no entity repairs suggested")
		return lines, nil, nil
	}

	out := slices.Clone(lines)
	runID, _ := services.RunIDFromContext(ctx)
	changes := r.apply(out, dedupeByPair(suggestions), runID)
	applied := 0
	for _, change := range changes {
		if change.Status == StatusApplied {
			applied++
		}
	}
	logger.Info("entity repair completed",
		logging.Int("suggested", len(suggestions)),
		logging.Int("applied", applied),
	)
	return out, changes, nil
}

func buildPairs(lines []string, window int) []boundaryPair {
	var pairs []boundaryPair
	for i := 0; i+1 < len(lines); i++ {
		left := strings.Fields(lines[i])
		right := strings.Fields(lines[i+1])
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		pairs = append(pairs, boundaryPair{
			PairID:    i,
			LeftLine:  strings.Join(left, " "),
			RightLine: strings.Join(right, " "),
			LeftTail:  strings.Join(left[max(0, len(left)-window):], " "),
			RightHead: strings.Join(right[:min(window, len(right))], " "),
			LeftLen:   len(left),
			RightLen:  len(right),
		})
	}
	return pairs
}

// dedupeByPair keeps the most confident suggestion per boundary, ordered
// by boundary. Suggestions without a numeric pair id are dropped.
func dedupeByPair(suggestions []map[string]any) []map[string]any {
	best := map[int]map[string]any{}
	for _, item := range suggestions {
		id, ok := asInt(item["pair_id"])
		if !ok {
			continue
		}
		prev, seen := best[id]
		if !seen || confidenceRank(asString(item["confidence"])) > confidenceRank(asString(prev["confidence"])) {
			best[id] = item
		}
	}
	ids := make([]int, 0, len(best))
	for id := range best {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, best[id])
	}
	return out
}

func (r *Repairer) apply(lines []string, suggestions []map[string]any, runID string) []BoundaryChange {
	logged := r.now().UTC()
	changes := make([]BoundaryChange, 0, len(suggestions))
	for _, item := range suggestions {
		change := BoundaryChange{
			RunID:      runID,
			LoggedAt:   logged,
			Status:     StatusSkipped,
			Entity:     normalizeSpace(asString(item["entity"])),
			Type:       asString(item["type"]),
			Confidence: strings.ToLower(asString(item["confidence"])),
			Reason:     asString(item["reason"]),
		}
		change.SkipReason = r.applyOne(lines, item, &change)
		if change.SkipReason == "" {
			change.Status = StatusApplied
		}
		changes = append(changes, change)
	}
	return changes
}

// applyOne moves the fragment for one suggestion when every check passes
// and returns the skip reason otherwise.
func (r *Repairer) applyOne(lines []string, item map[string]any, change *BoundaryChange) string {
	pairID, okPair := asInt(item["pair_id"])
	leftWords, okLeft := asInt(item["left_words"])
	rightWords, okRight := asInt(item["right_words"])
	change.PairID, change.LeftWords, change.RightWords = pairID, leftWords, rightWords
	switch {
	case !okPair || !okLeft || !okRight:
		return "invalid_numeric_fields"
	case pairID < 0 || pairID >= len(lines)-1:
		return "pair_id_out_of_range"
	case leftWords <= 0 || rightWords <= 0:
		return "non_positive_fragment_size"
	case leftWords > r.opts.MaxFragmentWords || rightWords > r.opts.MaxFragmentWords:
		return "fragment_size_exceeds_limit"
	case confidenceRank(change.Confidence) < confidenceRank("high"):
		return "low_confidence"
	}

	left := strings.Fields(lines[pairID])
	right := strings.Fields(lines[pairID+1])
	if len(left) < leftWords || len(right) < rightWords {
		return "line_too_short_for_fragment"
	}
	boundary := strings.Join(append(slices.Clone(left[len(left)-leftWords:]), right[:rightWords]...), " ")
	if change.Entity != "" && !strings.EqualFold(change.Entity, boundary) && alnum(change.Entity) != alnum(boundary) {
		return "entity_mismatch_with_boundary"
	}

	direction := chooseDirection(len(left), len(right), leftWords, rightWords, r.opts.MaxLineWords)
	var newLeft, newRight []string
	switch direction {
	case AppendRightToLeft:
		newLeft = append(slices.Clone(left), right[:rightWords]...)
		newRight = right[rightWords:]
	case PrependLeftToRight:
		newLeft = left[:len(left)-leftWords]
		newRight = append(slices.Clone(left[len(left)-leftWords:]), right...)
	default:
		return "no_safe_direction"
	}
	if len(newLeft) == 0 || len(newRight) == 0 {
		return "empty_line_after_move"
	}

	change.Direction = direction
	change.BeforeLeft = strings.Join(left, " ")
	change.BeforeRight = strings.Join(right, " ")
	lines[pairID] = strings.Join(newLeft, " ")
	lines[pairID+1] = strings.Join(newRight, " ")
	change.AfterLeft = lines[pairID]
	change.AfterRight = lines[pairID+1]
	return ""
}

type lengthScore struct{ overflow, longest, imbalance int }

func scoreLengths(left, right, limit int) lengthScore {
	return lengthScore{
		overflow:  max(0, left-limit) + max(0, right-limit),
		longest:   max(left, right),
		imbalance: abs(left - right),
	}
}

func (a lengthScore) compare(b lengthScore) int {
	if c := cmp.Compare(a.overflow, b.overflow); c != 0 {
		return c
	}
	if c := cmp.Compare(a.longest, b.longest); c != 0 {
		return c
	}
	return cmp.Compare(a.imbalance, b.imbalance)
}

// chooseDirection picks the move that leaves both lines non-empty and
// keeps them shortest and most even. Ties favour appending to the left.
func chooseDirection(leftLen, rightLen, leftWords, rightWords, limit int) string {
	type option struct {
		direction string
		score     lengthScore
	}
	var options []option
	if rightLen-rightWords > 0 {
		options = append(options, option{AppendRightToLeft, scoreLengths(leftLen+rightWords, rightLen-rightWords, limit)})
	}
	if leftLen-leftWords > 0 {
		options = append(options, option{PrependLeftToRight, scoreLengths(leftLen-leftWords, rightLen+leftWords, limit)})
	}
	if len(options) == 0 {
		return ""
	}
	slices.SortStableFunc(options, func(a, b option) int { return a.score.compare(b.score) })
	return options[0].direction
}

func alnum(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
