package match

import "testing"

func TestExtractJSONPlain(t *testing.T) {
	obj, err := ExtractJSON(`{"results": []}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := obj["results"]; !ok {
		t.Fatalf("expected results key, got %v", obj)
	}
}

func TestExtractJSONCodeFence(t *testing.T) {
	raw := "```json\n{\"results\": [{\"fingerprint\": \"abc\"}]}\n```"
	obj, err := ExtractJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results, ok := obj["results"].([]any)
	if !ok || len(results) != 1 {
		t.Fatalf("expected one result, got %v", obj)
	}
}

func TestExtractJSONProseAround(t *testing.T) {
	raw := `Here is the analysis you asked for:

{"results": [{"fingerprint": "x", "relevance_score": 0.8}]}

Let me know if you need anything else.`
	obj, err := ExtractJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := obj["results"]; !ok {
		t.Fatalf("expected results key, got %v", obj)
	}
}

func TestExtractJSONTrailingComma(t *testing.T) {
	raw := `{"results": [{"fingerprint": "x", "relevance_score": 0.5,},]}`
	obj, err := ExtractJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := obj["results"]; !ok {
		t.Fatalf("expected results key, got %v", obj)
	}
}

func TestExtractJSONMissingCloseBrace(t *testing.T) {
	raw := `{"results": [{"fingerprint": "x", "relevance_score": 1.0}]`
	obj, err := ExtractJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := obj["results"]; !ok {
		t.Fatalf("expected results key, got %v", obj)
	}
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	raw := `{"results": [{"fingerprint": "x", "rationale": "uses {braces} and \"quotes\""}]}`
	obj, err := ExtractJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := obj["results"]; !ok {
		t.Fatalf("expected results key, got %v", obj)
	}
}

func TestExtractJSONNoObject(t *testing.T) {
	if _, err := ExtractJSON("sorry, I cannot help with that"); err == nil {
		t.Fatalf("expected an error for non-JSON output")
	}
}
