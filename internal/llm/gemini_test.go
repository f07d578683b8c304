package llm

import "testing"

func TestGeminiBuildRequest(t *testing.T) {
	c := NewGeminiClient("key", "gemini-2.0-flash", nil)
	messages := []Message{
		{Role: "system", Content: "You are Max."},
		{Role: "user", Content: "open the door"},
		{Role: "assistant", Content: "", ToolCalls: []ToolCall{{Name: "run_command", Arguments: map[string]any{"command": "door open"}}}},
		{Role: "user", Content: "Tool results:\nrun_command: Done."},
	}

	req := c.buildRequest(messages, sampleTools())

	if req.SystemInstruction == nil || len(req.SystemInstruction.Parts) != 1 {
		t.Fatalf("system instruction = %+v, want one part", req.SystemInstruction)
	}
	if got := req.SystemInstruction.Parts[0].Text; got != "You are Max." {
		t.Errorf("system text = %q", got)
	}
	if len(req.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(req.Contents))
	}
	if req.Contents[1].Role != "model" {
		t.Errorf("assistant role mapped to %q, want model", req.Contents[1].Role)
	}
	if fc := req.Contents[1].Parts[0].FunctionCall; fc == nil || fc.Name != "run_command" {
		t.Errorf("function call part = %+v", req.Contents[1].Parts[0])
	}
	if len(req.Tools) != 1 || len(req.Tools[0].FunctionDeclarations) != 2 {
		t.Errorf("tools = %+v, want one group with 2 declarations", req.Tools)
	}
}

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ollama", Config{Backend: "ollama", OllamaHost: "http://localhost:11434", OllamaModel: "qwen2.5:7b"}, false},
		{"openai", Config{Backend: "openai", OpenAIKey: "sk-x", OpenAIModel: "gpt-4o-mini"}, false},
		{"openai missing key", Config{Backend: "openai", OpenAIModel: "gpt-4o-mini"}, true},
		{"gemini missing key", Config{Backend: "gemini", GeminiModel: "gemini-2.0-flash"}, true},
		{"unknown", Config{Backend: "groq"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got client %T", client)
				}
				return
			}
			if err != nil {
				t.Errorf("New: %v", err)
			}
		})
	}
}
