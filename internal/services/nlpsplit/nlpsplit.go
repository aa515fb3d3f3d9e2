// Package nlpsplit breaks a transcript into subtitle-sized sentences.
//
// A configured splitter command receives the text on stdin and the language
// in SUBFLOW_LANGUAGE, and prints a JSON array of strings. Without a
// command, a punctuation splitter is used.
package nlpsplit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"subflow/internal/config"
	"subflow/internal/logging"
	"subflow/internal/procutil"
	"subflow/internal/services"
)

// MaxSentenceRunes is the length above which the punctuation splitter
// breaks a sentence again at commas.
const MaxSentenceRunes = 80

// Service splits text into sentences.
type Service struct {
	cfg    config.Splitter
	logger *slog.Logger
	run    procutil.RunFunc
}

// New constructs a splitter from the [splitter] configuration.
func New(cfg config.Splitter, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "splitter"),
		run:    procutil.Run,
	}
}

// WithRunner replaces the subprocess runner (used by tests).
func (s *Service) WithRunner(run procutil.RunFunc) {
	if run != nil {
		s.run = run
	}
}

// Split returns the sentences of text. Empty sentences are dropped.
func (s *Service) Split(ctx context.Context, text, language string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if len(s.cfg.Command) == 0 || strings.TrimSpace(s.cfg.Command[0]) == "" {
		return SplitPunctuation(text), nil
	}

	if s.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	var stdout bytes.Buffer
	_, err := s.run(ctx, procutil.Command{
		Name:   s.cfg.Command[0],
		Args:   s.cfg.Command[1:],
		Env:    []string{"SUBFLOW_LANGUAGE=" + language},
		Stdin:  strings.NewReader(text),
		Stdout: &stdout,
	})
	if err != nil {
		if services.IsCancellation(err) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrExternalTool, "split", s.cfg.Command[0], "", err)
	}

	var raw []string
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &raw); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "split", "parse output",
			"splitter must print a JSON array of strings", err)
	}
	sentences := compact(raw)
	s.logger.Info("sentences split",
		logging.String("command", s.cfg.Command[0]),
		logging.Int("sentences", len(sentences)),
	)
	return sentences, nil
}

// SplitPunctuation cuts text after sentence-ending punctuation, then cuts
// overlong sentences at commas.
func SplitPunctuation(text string) []string {
	var sentences []string
	for _, sentence := range cutAfter(text, isTerminal) {
		if utf8.RuneCountInString(sentence) <= MaxSentenceRunes {
			sentences = append(sentences, sentence)
			continue
		}
		sentences = append(sentences, cutAfter(sentence, isPause)...)
	}
	return compact(sentences)
}

func cutAfter(text string, boundary func(rune) bool) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !boundary(runes[i]) {
			continue
		}
		// Repeated marks and closing quotes stay with the sentence.
		end := i + 1
		for end < len(runes) && (boundary(runes[end]) || isCloser(runes[end])) {
			end++
		}
		// ASCII marks only end a sentence before whitespace or end of text.
		if runes[i] < utf8.RuneSelf && end < len(runes) && !unicode.IsSpace(runes[end]) {
			i = end - 1
			continue
		}
		out = append(out, string(runes[start:end]))
		start = end
		i = end - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '…':
		return true
	}
	return false
}

func isPause(r rune) bool {
	switch r {
	case ',', ';', '，', '；', '、':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', '”', '’', '」', '』', '）':
		return true
	}
	return false
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// String describes the active splitter for status output.
func (s *Service) String() string {
	if len(s.cfg.Command) == 0 {
		return "punctuation"
	}
	return fmt.Sprintf("command %s", strings.Join(s.cfg.Command, " "))
}
