package gateway

import "testing"

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"plain_string", "hello", "hello"},
		{"string_trimmed", "  hello \n", "hello"},
		{"text_key", map[string]any{"text": "hello"}, "hello"},
		{"nested_content", map[string]any{"content": map[string]any{"text": "hello"}}, "hello"},
		{
			"openai_choices",
			map[string]any{
				"choices": []any{
					map[string]any{"message": map[string]any{"content": "the answer"}},
				},
				"model": "gpt-x",
			},
			"the answer",
		},
		{
			"stream_delta",
			map[string]any{"choices": []any{map[string]any{"delta": map[string]any{"content": "partial"}}}},
			"partial",
		},
		{
			"responses_output_text",
			map[string]any{"output_text": "direct", "content": "should lose"},
			"direct",
		},
		{
			"priority_beats_incidental",
			// "annotation" sorts before every priority key, but priority
			// keys must still win.
			map[string]any{"annotation": "incidental", "text": "wanted"},
			"wanted",
		},
		{
			"fallback_scan_sorted",
			map[string]any{"zeta": "last", "alpha": "first"},
			"first",
		},
		{
			"list_joined_with_newlines",
			[]any{"one", "", "two"},
			"one\ntwo",
		},
		{
			"skips_empty_priority_value",
			map[string]any{"text": "   ", "content": "real"},
			"real",
		},
		{"empty_object", map[string]any{}, ""},
		{"empty_list", []any{}, ""},
		{"whitespace_only", map[string]any{"text": " \n\t "}, ""},
		{"numbers_and_bools", map[string]any{"count": float64(3), "ok": true, "gone": nil}, ""},
		{
			"deeply_nested_within_budget",
			map[string]any{"output": map[string]any{"content": []any{map[string]any{"text": "deep"}}}},
			"deep",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractText(tt.in); got != tt.want {
				t.Errorf("ExtractText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractTextIdempotentShapes(t *testing.T) {
	// The same text must be recovered regardless of wrapping shape.
	shapes := []any{
		map[string]any{"text": "hello"},
		map[string]any{"content": map[string]any{"text": "hello"}},
		map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": "hello"}}}},
	}
	for i, shape := range shapes {
		if got := ExtractText(shape); got != "hello" {
			t.Errorf("shape %d: ExtractText = %q, want %q", i, got, "hello")
		}
	}
}

func TestExtractTextDepthBound(t *testing.T) {
	// Build a chain deeper than the walk budget; the buried string must
	// not be reachable and extraction must terminate.
	v := any("too deep")
	for i := 0; i < 12; i++ {
		v = map[string]any{"wrapper": v}
	}
	if got := ExtractText(v); got != "" {
		t.Errorf("ExtractText beyond depth bound = %q, want empty", got)
	}
}
