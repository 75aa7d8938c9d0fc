package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirective(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		params map[string]any
	}{
		{
			name:   "canonical",
			text:   "TOOL_CALL: calculator\nPARAMETERS: {\"expression\": \"12 * 4\"}",
			want:   "calculator",
			params: map[string]any{"expression": "12 * 4"},
		},
		{
			name:   "lowercase markers",
			text:   "tool_call: get_current_time\nparameters: {\"timezone\": \"UTC\"}",
			want:   "get_current_time",
			params: map[string]any{"timezone": "UTC"},
		},
		{
			name:   "preamble and trailing commentary",
			text:   "Let me work that out.\nTOOL_CALL: calculator\nPARAMETERS: {\"expression\": \"2+2\"} I'll report back.",
			want:   "calculator",
			params: map[string]any{"expression": "2+2"},
		},
		{
			name:   "bold markers",
			text:   "**TOOL_CALL:** calculator\n**PARAMETERS:** {\"expression\": \"1\"}",
			want:   "calculator",
			params: map[string]any{"expression": "1"},
		},
		{
			name:   "backticked name",
			text:   "TOOL_CALL: `web_search`\nPARAMETERS: {\"query\": \"go\"}",
			want:   "web_search",
			params: map[string]any{"query": "go"},
		},
		{
			name:   "quoted name",
			text:   "TOOL_CALL: \"web_search\"",
			want:   "web_search",
			params: map[string]any{},
		},
		{
			name:   "fenced multi-line nested json",
			text:   "TOOL_CALL: code_executor\nPARAMETERS:\n```json\n{\n  \"code\": \"return {a: 1}\",\n  \"opts\": {\"strict\": true}\n}\n```",
			want:   "code_executor",
			params: map[string]any{"code": "return {a: 1}", "opts": map[string]any{"strict": true}},
		},
		{
			name:   "braces inside strings",
			text:   "TOOL_CALL: code_executor\nPARAMETERS: {\"code\": \"if (x) { return '}'; }\"}",
			want:   "code_executor",
			params: map[string]any{"code": "if (x) { return '}'; }"},
		},
		{
			name:   "parameters before marker",
			text:   "PARAMETERS: {\"operation\": \"list\"}\nTOOL_CALL: file_operations",
			want:   "file_operations",
			params: map[string]any{"operation": "list"},
		},
		{
			name:   "parameters after marker preferred",
			text:   "PARAMETERS: {\"a\": 1}\nTOOL_CALL: calculator\nPARAMETERS: {\"expression\": \"3\"}",
			want:   "calculator",
			params: map[string]any{"expression": "3"},
		},
		{
			name:   "malformed json",
			text:   "TOOL_CALL: calculator\nPARAMETERS: {expression: 2+2",
			want:   "calculator",
			params: map[string]any{},
		},
		{
			name:   "missing parameters",
			text:   "TOOL_CALL: get_current_time",
			want:   "get_current_time",
			params: map[string]any{},
		},
		{
			name:   "non-object parameters",
			text:   "TOOL_CALL: calculator\nPARAMETERS: [1, 2]",
			want:   "calculator",
			params: map[string]any{},
		},
		{
			name:   "first named marker wins",
			text:   "TOOL_CALL: ???\nTOOL_CALL: calculator\nTOOL_CALL: web_search",
			want:   "calculator",
			params: map[string]any{},
		},
		{
			name:   "marker is not a name",
			text:   "TOOL_CALL:\nTOOL_CALL: web_search\nPARAMETERS: {\"query\": \"go\"}",
			want:   "web_search",
			params: map[string]any{"query": "go"},
		},
		{
			name:   "name on next line",
			text:   "TOOL_CALL:\ncalculator\nPARAMETERS: {\"expression\": \"2+2\"}",
			want:   "calculator",
			params: map[string]any{"expression": "2+2"},
		},
		{
			name:   "bold marker with name on next line",
			text:   "**TOOL_CALL:**\r\n`calculator`\nPARAMETERS: {\"expression\": \"7\"}",
			want:   "calculator",
			params: map[string]any{"expression": "7"},
		},
		{
			name:   "same line",
			text:   "TOOL_CALL: calculator PARAMETERS: {\"expression\": \"5*5\"}",
			want:   "calculator",
			params: map[string]any{"expression": "5*5"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := ParseDirective(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.want, d.Name)
			require.NotNil(t, d.Parameters)
			assert.Equal(t, tt.params, d.Parameters)
		})
	}
}

func TestParseDirective_FinalAnswer(t *testing.T) {
	for _, text := range []string{
		"",
		"The result is 48.",
		"I could call a TOOL but won't.",
		"PARAMETERS: {\"a\": 1}",
		"TOOL_CALL:",
		"TOOL_CALL:\nPARAMETERS: {\"a\": 1}",
		"TOOL_CALL:\n\nThe answer is above.",
	} {
		_, ok := ParseDirective(text)
		assert.False(t, ok, text)
	}
}

func TestStripDirectiveSyntax(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  The result is 48.  ", "The result is 48."},
		{"marker lines dropped", "Sure.\nTOOL_CALL: calculator\nPARAMETERS: {}\nDone.", "Sure.\nDone."},
		{"prefix kept", "Answer: 4 TOOL_CALL: calculator", "Answer: 4"},
		{"case-insensitive", "ok\nparameters: {\"x\": 1}", "ok"},
		{"blank lines preserved", "a\n\nb", "a\n\nb"},
		{"only markers", "TOOL_CALL: x\nPARAMETERS: {}", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripDirectiveSyntax(tt.in))
		})
	}
}

func TestStripDirectiveSyntax_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"  hello\n\n  world  ",
		"x TOOL_CALL: a PARAMETERS: {}\n\n\nPARAMETERS: {}\n  y  \r\n",
		"**TOOL_CALL:** calculator\n**PARAMETERS:** {\"a\": 1}\n\nThe answer is 2.",
	}
	for _, in := range inputs {
		once := StripDirectiveSyntax(in)
		assert.Equal(t, once, StripDirectiveSyntax(once), "input %q", in)
		assert.NotContains(t, once, "TOOL_CALL:")
		assert.NotContains(t, once, "PARAMETERS:")
	}
}
