package translate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Term is one glossary entry.
type Term struct {
	Src  string `yaml:"src" json:"src"`
	Tgt  string `yaml:"tgt" json:"tgt"`
	Note string `yaml:"note,omitempty" json:"note,omitempty"`
}

// Glossary is the document theme plus terminology used as translation
// context. It is also the shape of the summary stage's output.
type Glossary struct {
	Theme string `yaml:"theme" json:"theme"`
	Terms []Term `yaml:"terms" json:"terms"`
}

// LoadGlossary reads a YAML (or JSON) glossary file. A missing file yields
// an empty glossary.
func LoadGlossary(path string) (Glossary, error) {
	if strings.TrimSpace(path) == "" {
		return Glossary{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Glossary{}, nil
		}
		return Glossary{}, fmt.Errorf("read glossary: %w", err)
	}
	var g Glossary
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Glossary{}, fmt.Errorf("parse glossary %s: %w", path, err)
	}
	g.Terms = cleanTerms(g.Terms)
	return g, nil
}

// Merge returns g with other's terms appended, skipping sources g already
// defines. The theme of g wins unless empty.
func (g Glossary) Merge(other Glossary) Glossary {
	out := Glossary{Theme: g.Theme, Terms: append([]Term(nil), g.Terms...)}
	if strings.TrimSpace(out.Theme) == "" {
		out.Theme = other.Theme
	}
	seen := make(map[string]struct{}, len(out.Terms))
	for _, term := range out.Terms {
		seen[strings.ToLower(term.Src)] = struct{}{}
	}
	for _, term := range other.Terms {
		key := strings.ToLower(term.Src)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out.Terms = append(out.Terms, term)
	}
	return out
}

// Match returns terms whose source appears in text, ignoring case.
func (g Glossary) Match(text string) []Term {
	lower := strings.ToLower(text)
	var matched []Term
	for _, term := range g.Terms {
		if strings.Contains(lower, strings.ToLower(term.Src)) {
			matched = append(matched, term)
		}
	}
	return matched
}

func cleanTerms(terms []Term) []Term {
	out := terms[:0]
	for _, term := range terms {
		term.Src = strings.TrimSpace(term.Src)
		term.Tgt = strings.TrimSpace(term.Tgt)
		term.Note = strings.TrimSpace(term.Note)
		if term.Src == "" {
			continue
		}
		out = append(out, term)
	}
	return out
}

// formatTerms renders matched terms as a prompt bullet list.
func formatTerms(terms []Term) string {
	if len(terms) == 0 {
		return "None"
	}
	var b strings.Builder
	for i, term := range terms {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", term.Src, term.Tgt)
		if term.Note != "" {
			fmt.Fprintf(&b, " (%s)", term.Note)
		}
	}
	return b.String()
}
