package translate

import (
	"context"
	"strings"

	"subflow/internal/language"
	"subflow/internal/logging"
	"subflow/internal/services/llm"
)

// summaryMaxRunes caps the source text sent to the summary request.
const summaryMaxRunes = 8000

// Summarize asks for the document theme and terminology, excluding terms
// already in existing, and returns existing merged with the result.
func (p *Pipeline) Summarize(ctx context.Context, lines []string, sourceLanguage string, existing Glossary) (Glossary, error) {
	content := strings.Join(lines, " ")
	if runes := []rune(content); len(runes) > summaryMaxRunes {
		content = string(runes[:summaryMaxRunes])
	}
	res, err := p.caller.Call(ctx, llm.Request{
		Prompt:       summaryPrompt(content, orUnknown(sourceLanguage), language.DisplayName(p.opts.TargetLanguage), existing.Terms),
		ResponseType: llm.ResponseJSON,
		Validator:    requireKey("theme"),
		LogTitle:     "summary",
	})
	if err != nil {
		return Glossary{}, err
	}
	var summary Glossary
	if err := res.Decode(&summary); err != nil {
		return Glossary{}, err
	}
	summary.Theme = strings.TrimSpace(summary.Theme)
	summary.Terms = cleanTerms(summary.Terms)

	merged := Glossary{Theme: summary.Theme, Terms: existing.Terms}.Merge(summary)
	if merged.Theme == "" {
		merged.Theme = existing.Theme
	}
	logging.WithContext(ctx, p.logger).Info("summary completed",
		logging.Int("terms", len(merged.Terms)),
		logging.Int("new_terms", len(merged.Terms)-len(existing.Terms)),
	)
	return merged, nil
}
