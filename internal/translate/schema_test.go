package translate

import (
	"encoding/json"
	"testing"
)

func decodeSchema(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	return v
}

func TestCleanSchemaDropsURIFormat(t *testing.T) {
	in := decodeSchema(t, `{"type":"string","format":"uri"}`)
	out := CleanSchema(in).(map[string]any)
	if _, ok := out["format"]; ok {
		t.Fatalf("expected format to be dropped, got %v", out)
	}
	if out["type"] != "string" {
		t.Fatalf("type should survive, got %v", out)
	}
}

func TestCleanSchemaKeepsOtherFormats(t *testing.T) {
	in := decodeSchema(t, `{"type":"string","format":"date-time"}`)
	out := CleanSchema(in).(map[string]any)
	if out["format"] != "date-time" {
		t.Fatalf("expected format to survive, got %v", out)
	}
}

func TestCleanSchemaRecursesIntoProperties(t *testing.T) {
	in := decodeSchema(t, `{
		"type": "object",
		"properties": {
			"url": {"type": "string", "format": "uri"},
			"count": {"type": "integer"}
		}
	}`)
	out := CleanSchema(in).(map[string]any)
	props := out["properties"].(map[string]any)
	url := props["url"].(map[string]any)
	if _, ok := url["format"]; ok {
		t.Fatalf("expected nested format to be dropped, got %v", url)
	}
	count := props["count"].(map[string]any)
	if count["type"] != "integer" {
		t.Fatalf("sibling property corrupted: %v", count)
	}
}

func TestCleanSchemaRecursesIntoItemsAndUnions(t *testing.T) {
	in := decodeSchema(t, `{
		"type": "array",
		"items": {"type": "string", "format": "uri"},
		"anyOf": [
			{"type": "string", "format": "uri"},
			{"type": "null"}
		]
	}`)
	out := CleanSchema(in).(map[string]any)
	items := out["items"].(map[string]any)
	if _, ok := items["format"]; ok {
		t.Fatalf("expected items format dropped, got %v", items)
	}
	anyOf := out["anyOf"].([]any)
	first := anyOf[0].(map[string]any)
	if _, ok := first["format"]; ok {
		t.Fatalf("expected anyOf[0] format dropped, got %v", first)
	}
}

func TestCleanSchemaIsIdempotent(t *testing.T) {
	in := decodeSchema(t, `{
		"type": "object",
		"properties": {
			"url": {"type": "string", "format": "uri"}
		}
	}`)
	once := CleanSchema(in)
	twice := CleanSchema(once)
	onceJSON, _ := json.Marshal(once)
	twiceJSON, _ := json.Marshal(twice)
	if string(onceJSON) != string(twiceJSON) {
		t.Fatalf("CleanSchema not idempotent:\n%s\n%s", onceJSON, twiceJSON)
	}
}
