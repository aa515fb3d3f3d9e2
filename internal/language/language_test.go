package language_test

import (
	"testing"

	"subflow/internal/language"
)

func TestISO2(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"auto":    "",
		"AUTO":    "",
		"en":      "en",
		"en-US":   "en",
		"zh-Hans": "zh",
		" ja ":    "ja",
		"not a!":  "",
	}
	for in, want := range cases {
		if got := language.ISO2(in); got != want {
			t.Errorf("ISO2(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"en":      "English",
		"ja":      "Japanese",
		"zh-Hans": "Simplified Chinese",
		"bogus!":  "bogus!",
	}
	for in, want := range cases {
		if got := language.DisplayName(in); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValid(t *testing.T) {
	if !language.Valid("pt-BR") {
		t.Fatal("expected pt-BR to be valid")
	}
	if language.Valid("not a tag!") || language.Valid("") {
		t.Fatal("expected invalid tags to be rejected")
	}
}

func TestJoiner(t *testing.T) {
	if got := language.Joiner("zh-Hans"); got != "" {
		t.Fatalf("Joiner(zh-Hans) = %q", got)
	}
	if got := language.Joiner("en"); got != " " {
		t.Fatalf("Joiner(en) = %q", got)
	}
	if !language.SpaceJoined("de") || language.SpaceJoined("ja") || language.SpaceJoined("") {
		t.Fatal("SpaceJoined mismatch")
	}
}
