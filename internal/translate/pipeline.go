package translate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"subflow/internal/config"
	"subflow/internal/language"
	"subflow/internal/logging"
	"subflow/internal/services"
	"subflow/internal/services/llm"
	"subflow/internal/textutil"
)

// translateAttempts is the number of client attempts per translation request.
const translateAttempts = 3

// Caller is the subset of llm.Client the pipeline needs.
type Caller interface {
	Call(ctx context.Context, req llm.Request) (llm.Result, error)
}

// Options tunes the pipeline.
type Options struct {
	TargetLanguage      string
	Mode                string
	ChunkSize           int
	MaxChunkLines       int
	ContextLines        int
	Workers             int
	Polish              bool
	Trim                bool
	MinTrimDuration     float64
	SpeedFactorMax      float64
	SimilarityThreshold float64
	PolishOverrides     *llm.Overrides
	TrimOverrides       *llm.Overrides
}

// OptionsFromConfig maps the [translation] and [llm] sections to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	t := cfg.Translation
	return Options{
		TargetLanguage:      t.TargetLanguage,
		Mode:                t.Mode,
		ChunkSize:           t.ChunkSize,
		MaxChunkLines:       t.MaxChunkLines,
		ContextLines:        t.ContextLines,
		Workers:             t.Workers,
		Polish:              t.Polish,
		Trim:                t.Trim,
		MinTrimDuration:     t.MinTrimDuration,
		SpeedFactorMax:      t.SpeedFactorMax,
		SimilarityThreshold: t.SimilarityThreshold,
		PolishOverrides:     llm.OverridesFromConfig(cfg.LLM.Polish),
		TrimOverrides:       llm.OverridesFromConfig(cfg.LLM.Trim),
	}
}

func (o Options) withDefaults() Options {
	defaults := config.Default().Translation
	if o.TargetLanguage == "" {
		o.TargetLanguage = defaults.TargetLanguage
	}
	if o.Mode == "" {
		o.Mode = config.ModeTwoPass
	}
	if o.ContextLines < 0 {
		o.ContextLines = 0
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.SpeedFactorMax < 1 {
		o.SpeedFactorMax = defaults.SpeedFactorMax
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = defaults.SimilarityThreshold
	}
	return o
}

// Input is one document to translate.
type Input struct {
	Lines          []string
	SourceLanguage string
	Glossary       Glossary
	// Progress, when set, is called after each chunk completes.
	Progress func(done, total int)
}

// Output pairs every source line with its translation.
type Output struct {
	Source      []string `json:"source"`
	Translation []string `json:"translation"`
}

// Pipeline runs chunked translation through a Caller.
type Pipeline struct {
	caller Caller
	opts   Options
	logger *slog.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(caller Caller, opts Options, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		caller: caller,
		opts:   opts.withDefaults(),
		logger: logging.NewComponentLogger(logger, "translate"),
	}
}

// chunkResult carries the origin lines echoed by the backend; they
// identify the chunk during reassembly.
type chunkResult struct {
	index  int
	origin []string
	lines  []string
}

// Translate chunks the input, translates chunks concurrently, and
// reassembles them in source order. In single-pass mode the draft is then
// polished as a whole when enabled; a failed polish keeps the draft.
func (p *Pipeline) Translate(ctx context.Context, in Input) (Output, error) {
	if len(in.Lines) == 0 {
		return Output{}, nil
	}
	chunks := BuildChunks(in.Lines, p.opts.ChunkSize, p.opts.MaxChunkLines)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("translation started",
		logging.Int("lines", len(in.Lines)),
		logging.Int("chunks", len(chunks)),
		logging.String("mode", p.opts.Mode),
		logging.Int("workers", p.opts.Workers),
	)

	var (
		mu      sync.Mutex
		results = make([]chunkResult, 0, len(chunks))
		done    atomic.Int64
	)
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(p.opts.Workers)
	for _, chunk := range chunks {
		group.Go(func() error {
			res, err := p.translateChunk(gctx, chunk, chunks, in)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			if in.Progress != nil {
				in.Progress(int(done.Add(1)), len(chunks))
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Output{}, err
	}

	source, translation, err := p.reassemble(logger, chunks, results)
	if err != nil {
		return Output{}, err
	}

	if p.opts.Mode == config.ModeSinglePass && p.opts.Polish {
		polished, err := p.polish(ctx, source, translation, in)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Output{}, ctxErr
			}
			logging.WarnWithContext(logger, "full-text polish failed; keeping single-pass draft", "polish_fallback",
				logging.String(logging.FieldImpact, "translation is unpolished"),
				logging.Error(err),
			)
		} else {
			translation = polished
			logger.Info("full-text polish completed", logging.Int("lines", len(translation)))
		}
	}

	logger.Info("translation completed", logging.Int("lines", len(translation)))
	return Output{Source: source, Translation: translation}, nil
}

func (p *Pipeline) translateChunk(ctx context.Context, chunk Chunk, chunks []Chunk, in Input) (chunkResult, error) {
	pctx := promptContext{
		Previous: previousContext(chunks, chunk.Index, p.opts.ContextLines),
		Next:     nextContext(chunks, chunk.Index, p.opts.ContextLines),
		Theme:    in.Glossary.Theme,
		Notes:    in.Glossary.Match(chunk.Text()),
	}
	n := len(chunk.Lines)
	srcLang := orUnknown(in.SourceLanguage)

	var free, origin []string
	switch p.opts.Mode {
	case config.ModeSinglePass:
		res, err := p.callLines(ctx, singlePassPrompt(chunk.Lines, srcLang, language.DisplayName(p.opts.TargetLanguage), pctx),
			lineValidator(n, "direct", "free"), "translate_single_pass")
		if err != nil {
			return chunkResult{}, chunkError(chunk, "single_pass", err)
		}
		free = numberedFields(res.Parsed, n, "free")
		origin = numberedFields(res.Parsed, n, "origin")
	default:
		faith, err := p.callLines(ctx, faithfulnessPrompt(chunk.Lines, srcLang, language.DisplayName(p.opts.TargetLanguage), pctx),
			lineValidator(n, "direct"), "translate_faithfulness")
		if err != nil {
			return chunkResult{}, chunkError(chunk, "faithfulness", err)
		}
		direct := numberedFields(faith.Parsed, n, "direct")
		express, err := p.callLines(ctx, expressivenessPrompt(chunk.Lines, direct, srcLang, language.DisplayName(p.opts.TargetLanguage), pctx),
			lineValidator(n, "free"), "translate_expressiveness")
		if err != nil {
			return chunkResult{}, chunkError(chunk, "expressiveness", err)
		}
		free = numberedFields(express.Parsed, n, "free")
		origin = numberedFields(express.Parsed, n, "origin")
	}
	if slices.Contains(origin, "") {
		origin = chunk.Lines
	}

	joined := strings.Join(free, "\n")
	if got := strings.Split(joined, "\n"); len(got) != n {
		return chunkResult{}, services.Wrap(services.ErrValidation, "translate", "chunk line count",
			fmt.Sprintf("Origin >>>%s<<<,\nbut got >>>%s<<<", chunk.Text(), joined), nil)
	}
	return chunkResult{index: chunk.Index, origin: origin, lines: free}, nil
}

func (p *Pipeline) callLines(ctx context.Context, prompt string, validator llm.Validator, title string) (llm.Result, error) {
	retries := translateAttempts - 1
	return p.caller.Call(ctx, llm.Request{
		Prompt:       prompt,
		ResponseType: llm.ResponseJSON,
		Validator:    validator,
		LogTitle:     title,
		Overrides:    &llm.Overrides{Retries: &retries},
	})
}

func chunkError(chunk Chunk, step string, err error) error {
	if services.IsCancellation(err) {
		return err
	}
	return fmt.Errorf("%s translation of block %d failed after %d attempts: %w", step, chunk.Index, translateAttempts, err)
}

// reassemble matches every chunk to the result whose echoed origin text is
// most similar, so results may arrive in any order.
func (p *Pipeline) reassemble(logger *slog.Logger, chunks []Chunk, results []chunkResult) ([]string, []string, error) {
	keys := make([]string, len(results))
	for i, res := range results {
		keys[i] = textutil.CompareKey(res.origin)
	}
	var source, translation []string
	for _, chunk := range chunks {
		best, ratio := textutil.BestMatch(textutil.CompareKey(chunk.Lines), keys)
		if best < 0 || ratio < p.opts.SimilarityThreshold {
			return nil, nil, services.Wrap(services.ErrValidation, "translate", "reassemble",
				fmt.Sprintf("translation matching failed (chunk %d)", chunk.Index), nil)
		}
		if ratio < 1 {
			logging.WarnWithContext(logger, "similar translation match", "chunk_fuzzy_match",
				logging.Int("chunk", chunk.Index),
				logging.Float64("similarity", ratio),
				logging.String(logging.FieldImpact, "chunk matched below exact similarity"),
			)
		}
		source = append(source, chunk.Lines...)
		translation = append(translation, results[best].lines...)
	}
	return source, translation, nil
}

func (p *Pipeline) polish(ctx context.Context, source, draft []string, in Input) ([]string, error) {
	if len(source) != len(draft) {
		return nil, fmt.Errorf("full polish input mismatch: %d source lines, %d translated", len(source), len(draft))
	}
	res, err := p.caller.Call(ctx, llm.Request{
		Prompt:       polishPrompt(source, draft, orUnknown(in.SourceLanguage), language.DisplayName(p.opts.TargetLanguage), in.Glossary.Theme),
		ResponseType: llm.ResponseJSON,
		Validator:    polishValidator(source),
		LogTitle:     "single_pass_full_polish",
		Overrides:    p.opts.PolishOverrides,
	})
	if err != nil {
		return nil, err
	}
	polished := numberedFields(res.Parsed, len(draft), "free")
	if len(polished) != len(draft) {
		return nil, fmt.Errorf("full polish output mismatch: line count differs from input")
	}
	return polished, nil
}

// orUnknown names the source language for prompts.
func orUnknown(lang string) string {
	if name := language.DisplayName(lang); name != "" {
		return name
	}
	return "the source language"
}
