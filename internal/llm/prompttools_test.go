package llm

import (
	"strings"
	"testing"
)

func sampleTools() []map[string]any {
	return []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "get_time",
				"description": "Get the current time",
				"parameters": map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
		},
		{
			"type": "function",
			"function": map[string]any{
				"name":        "run_command",
				"description": "Run a shell command",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"command": map[string]any{"type": "string"},
					},
					"required": []any{"command"},
				},
			},
		},
	}
}

func TestInjectToolPromptAppendsToSystem(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are Max."},
		{Role: "user", Content: "what time is it"},
	}

	out := InjectToolPrompt(messages, sampleTools())

	if len(out) != 2 {
		t.Fatalf("message count = %d, want 2", len(out))
	}
	if !strings.HasPrefix(out[0].Content, "You are Max.") {
		t.Errorf("system prompt prefix lost: %q", out[0].Content)
	}
	if !strings.Contains(out[0].Content, "get_time") {
		t.Errorf("tool name missing from system prompt")
	}
	if !strings.Contains(out[0].Content, "command: string (required)") {
		t.Errorf("required parameter not described: %q", out[0].Content)
	}
	// Input must not be mutated.
	if messages[0].Content != "You are Max." {
		t.Errorf("original message mutated: %q", messages[0].Content)
	}
}

func TestInjectToolPromptPrependsWhenNoSystem(t *testing.T) {
	out := InjectToolPrompt([]Message{{Role: "user", Content: "hi"}}, sampleTools())

	if len(out) != 2 {
		t.Fatalf("message count = %d, want 2", len(out))
	}
	if out[0].Role != "system" {
		t.Errorf("first role = %q, want system", out[0].Role)
	}
	if !strings.Contains(out[0].Content, "run_command") {
		t.Errorf("tool definitions missing from injected system message")
	}
}

func TestParseEmbeddedToolCalls(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantName string
		wantArg  string
	}{
		{
			name:     "fenced block",
			text:     "Let me check.\n```json\n{\"tool\": \"get_time\", \"arguments\": {}}\n```",
			wantName: "get_time",
		},
		{
			name:     "fenced block with args",
			text:     "```json\n{\"tool\": \"run_command\", \"arguments\": {\"command\": \"uptime\"}}\n```",
			wantName: "run_command",
			wantArg:  "uptime",
		},
		{
			name:     "bare object",
			text:     `Sure: {"tool": "get_time", "arguments": {}}`,
			wantName: "get_time",
		},
		{
			name:     "args alias",
			text:     "```json\n{\"tool\": \"run_command\", \"args\": {\"command\": \"ls\"}}\n```",
			wantName: "run_command",
			wantArg:  "ls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := ParseEmbeddedToolCalls(tt.text)
			if len(calls) != 1 {
				t.Fatalf("got %d calls, want 1", len(calls))
			}
			if calls[0].Name != tt.wantName {
				t.Errorf("name = %q, want %q", calls[0].Name, tt.wantName)
			}
			if tt.wantArg != "" {
				if got, _ := calls[0].Arguments["command"].(string); got != tt.wantArg {
					t.Errorf("command arg = %q, want %q", got, tt.wantArg)
				}
			}
		})
	}
}

func TestParseEmbeddedToolCallsNoMatch(t *testing.T) {
	for _, text := range []string{
		"",
		"just a normal reply",
		"```json\n{\"not_a_tool\": true}\n```",
		`{"tool": ""}`,
	} {
		if calls := ParseEmbeddedToolCalls(text); calls != nil {
			t.Errorf("ParseEmbeddedToolCalls(%q) = %v, want nil", text, calls)
		}
	}
}

func TestStripEmbeddedToolCalls(t *testing.T) {
	text := "On it.\n```json\n{\"tool\": \"get_time\", \"arguments\": {}}\n```\nBack soon."
	got := StripEmbeddedToolCalls(text)
	if strings.Contains(got, "get_time") {
		t.Errorf("tool JSON leaked through: %q", got)
	}
	if !strings.Contains(got, "On it.") || !strings.Contains(got, "Back soon.") {
		t.Errorf("surrounding text lost: %q", got)
	}

	// Unrelated fenced JSON stays.
	code := "Here is the config:\n```json\n{\"port\": 7777}\n```"
	if got := StripEmbeddedToolCalls(code); !strings.Contains(got, "7777") {
		t.Errorf("non-tool JSON block removed: %q", got)
	}
}
