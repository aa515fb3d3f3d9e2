package mfa

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// WordsTier is the tier MFA writes word intervals to.
const WordsTier = "words"

// Interval is one labelled span of a TextGrid tier.
type Interval struct {
	Text  string
	Start float64
	End   float64
}

var (
	tierNameLine = regexp.MustCompile(`^name\s*=\s*"(.*)"$`)
	fieldLine    = regexp.MustCompile(`^(xmin|xmax|text)\s*=\s*(.*)$`)
)

// ParseTextGrid reads the non-empty intervals of the named tier from a
// long-format TextGrid.
func ParseTextGrid(data []byte, tier string) ([]Interval, error) {
	var (
		out                 []Interval
		cur                 Interval
		found, inTier, open bool
		haveStart, haveEnd  bool
	)
	for line := range strings.Lines(string(data)) {
		line = strings.TrimSpace(line)
		if m := tierNameLine.FindStringSubmatch(line); m != nil {
			if inTier {
				break
			}
			inTier = m[1] == tier
			found = found || inTier
			continue
		}
		if !inTier {
			continue
		}
		if strings.HasPrefix(line, "intervals [") {
			cur, open, haveStart, haveEnd = Interval{}, true, false, false
			continue
		}
		m := fieldLine.FindStringSubmatch(line)
		if !open || m == nil {
			continue
		}
		switch m[1] {
		case "xmin", "xmax":
			v, err := strconv.ParseFloat(strings.TrimSpace(m[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s %q: %w", m[1], m[2], err)
			}
			if m[1] == "xmin" {
				cur.Start, haveStart = v, true
			} else {
				cur.End, haveEnd = v, true
			}
		case "text":
			cur.Text = strings.TrimSpace(unquote(strings.TrimSpace(m[2])))
			if cur.Text != "" && haveStart && haveEnd {
				out = append(out, cur)
			}
			open = false
		}
	}
	if !found {
		return nil, errors.New("tier " + strconv.Quote(tier) + " not found")
	}
	return out, nil
}

// unquote strips TextGrid string quotes, where "" escapes a quote.
func unquote(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
	}
	return strings.ReplaceAll(s, `""`, `"`)
}
