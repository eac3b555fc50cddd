package jsonutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCamelCase(t *testing.T) {
	tests := map[string]string{
		"created_at":       "createdAt",
		"user_id":          "userId",
		"is_template":      "isTemplate",
		"already":          "already",
		"alreadyCamel":     "alreadyCamel",
		"kebab-case-key":   "kebabCaseKey",
		"__leading":        "leading",
		"trailing_":        "trailing",
		"Start_time":       "startTime",
		"":                 "",
		"reminder_minutes": "reminderMinutes",
		"room--name":       "roomName",
		"-_mixed_key_":     "mixedKey",
	}
	for in, want := range tests {
		assert.Equal(t, want, CamelCase(in), "input %q", in)
	}
}

func TestNormalizeKeys(t *testing.T) {
	id := uuid.MustParse("6f1c1f36-0a43-4c8e-9d2b-2b6b6c7d8e9f")
	in := map[string]any{
		"event_id": id,
		"nested_obj": map[string]any{
			"step_count": 3,
			"raw_bytes":  [16]byte(id),
		},
		"item_list": []any{
			map[string]any{"sub_step": "a"},
			"plain",
		},
		"empty_map": map[string]any(nil),
	}

	got := NormalizeKeys(in).(map[string]any)

	assert.Equal(t, id.String(), got["eventId"])
	nested := got["nestedObj"].(map[string]any)
	assert.Equal(t, 3, nested["stepCount"])
	assert.Equal(t, id.String(), nested["rawBytes"])
	list := got["itemList"].([]any)
	assert.Equal(t, map[string]any{"subStep": "a"}, list[0])
	assert.Equal(t, "plain", list[1])
	assert.Equal(t, map[string]any{}, got["emptyMap"])
}

func TestObject(t *testing.T) {
	assert.Equal(t, map[string]any{}, Object(nil))
	assert.Equal(t, map[string]any{}, Object([]byte("null")))
	assert.Equal(t, map[string]any{}, Object([]byte("[1,2]")))
	assert.Equal(t, map[string]any{"roomName": "A"}, Object([]byte(`{"room_name":"A"}`)))
}

func TestEncode(t *testing.T) {
	assert.Equal(t, "{}", string(Encode(nil)))
	assert.JSONEq(t, `{"a":1}`, string(Encode(map[string]any{"a": 1})))
}
