package translate

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"subflow/internal/services/llm"
)

// lineValidator requires an object keyed exactly "1".."n" whose items carry
// every sub-key.
func lineValidator(n int, subKeys ...string) llm.Validator {
	return func(parsed any) error {
		obj, ok := parsed.(map[string]any)
		if !ok {
			return errors.New("response is not a JSON object")
		}
		var missing []string
		for i := 1; i <= n; i++ {
			if _, ok := obj[strconv.Itoa(i)]; !ok {
				missing = append(missing, strconv.Itoa(i))
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required key(s): %s", strings.Join(limit(missing, 10), ", "))
		}
		if len(obj) != n {
			return fmt.Errorf("expected %d keys, got %d", n, len(obj))
		}
		for i := 1; i <= n; i++ {
			key := strconv.Itoa(i)
			item, ok := obj[key].(map[string]any)
			if !ok {
				return fmt.Errorf("invalid item format at key %s", key)
			}
			var absent []string
			for _, sub := range subKeys {
				if _, ok := item[sub]; !ok {
					absent = append(absent, sub)
				}
			}
			if len(absent) > 0 {
				sort.Strings(absent)
				return fmt.Errorf("missing required sub-key(s) in item %s: %s", key, strings.Join(absent, ", "))
			}
		}
		return nil
	}
}

// polishValidator extends lineValidator: a non-empty source line may not
// come back empty.
func polishValidator(source []string) llm.Validator {
	base := lineValidator(len(source), "free")
	return func(parsed any) error {
		if err := base(parsed); err != nil {
			return err
		}
		obj := parsed.(map[string]any)
		for i, src := range source {
			key := strconv.Itoa(i + 1)
			if lineField(obj[key], "free") == "" && strings.TrimSpace(src) != "" {
				return fmt.Errorf("empty polished line at key %s", key)
			}
		}
		return nil
	}
}

func requireKey(key string) llm.Validator {
	return func(parsed any) error {
		obj, ok := parsed.(map[string]any)
		if !ok {
			return errors.New("response is not a JSON object")
		}
		if _, ok := obj[key]; !ok {
			return fmt.Errorf("no %s in response", key)
		}
		return nil
	}
}

// lineField reads item[key] as a single trimmed line.
func lineField(item any, key string) string {
	obj, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	return singleLine(obj[key])
}

func singleLine(value any) string {
	var s string
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		s = v
	default:
		s = fmt.Sprint(v)
	}
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}

// numberedFields extracts key "1".."n" sub-key values in order.
func numberedFields(parsed any, n int, key string) []string {
	obj, _ := parsed.(map[string]any)
	out := make([]string, n)
	for i := range n {
		out[i] = lineField(obj[strconv.Itoa(i+1)], key)
	}
	return out
}

func limit(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}
