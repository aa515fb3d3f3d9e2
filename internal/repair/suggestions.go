package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"subflow/internal/services/llm"
)

// Caller is the subset of llm.Client the repair passes need.
type Caller interface {
	Call(ctx context.Context, req llm.Request) (llm.Result, error)
}

// Changelog outcomes.
const (
	StatusApplied = "applied"
	StatusSkipped = "skipped"
)

// correctionsValidator requires {"corrections": [...]} whose items are
// objects carrying every key.
func correctionsValidator(keys ...string) llm.Validator {
	return func(parsed any) error {
		obj, ok := parsed.(map[string]any)
		if !ok {
			return errors.New("response is not a JSON object")
		}
		raw, ok := obj["corrections"]
		if !ok {
			return errors.New("missing required key: corrections")
		}
		items, ok := raw.([]any)
		if !ok {
			return errors.New("corrections must be a list")
		}
		for i, item := range items {
			fields, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("corrections[%d] must be an object", i)
			}
			for _, key := range keys {
				if _, ok := fields[key]; !ok {
					return fmt.Errorf("missing key in corrections[%d]: %s", i, key)
				}
			}
		}
		return nil
	}
}

// suggestionsFrom extracts the validated correction objects.
func suggestionsFrom(parsed any) []map[string]any {
	obj, _ := parsed.(map[string]any)
	items, _ := obj["corrections"].([]any)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if fields, ok := item.(map[string]any); ok {
			out = append(out, fields)
		}
	}
	return out
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

// confidenceRank orders the confidence labels the prompts ask for.
// Unknown labels rank lowest.
func confidenceRank(label string) int {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_") {
	case "very_high":
		return 4
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 0
	}
}

func normalizeSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
