package llm

import "testing"

func TestDecodeLLMJSONTolerance(t *testing.T) {
	cases := map[string]string{
		"plain":          `{"1": {"direct": "a"}}`,
		"fenced":         "```json\n{\"1\": {\"direct\": \"a\"}}\n```",
		"prose":          "Sure! Here it is: {\"1\": {\"direct\": \"a\"}} Hope that helps.",
		"trailing comma": `{"1": {"direct": "a",},}`,
		"truncated":      `{"1": {"direct": "a"`,
		"stray closer":   `{"1": {"direct": "a"}}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			var out map[string]map[string]string
			if err := DecodeLLMJSON(payload, &out); err != nil {
				t.Fatalf("DecodeLLMJSON(%q): %v", payload, err)
			}
			if out["1"]["direct"] != "a" {
				t.Fatalf("unexpected decode %#v", out)
			}
		})
	}
}

func TestDecodeLLMJSONKeepsStringContent(t *testing.T) {
	var out map[string]string
	if err := DecodeLLMJSON(`{"text": "a, }] b",}`, &out); err != nil {
		t.Fatalf("DecodeLLMJSON: %v", err)
	}
	if out["text"] != "a, }] b" {
		t.Fatalf("string content altered: %q", out["text"])
	}
}

func TestDecodeLLMJSONRejectsGarbage(t *testing.T) {
	var out map[string]any
	if err := DecodeLLMJSON("no json here", &out); err == nil {
		t.Fatal("expected error")
	}
	if err := DecodeLLMJSON("   ", &out); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
