package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaChatNativeTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Tools) != 1 {
			t.Errorf("got %d tools, want 1", len(req.Tools))
		}
		resp := ollamaResponse{Model: req.Model, Done: true}
		resp.Message.Role = "assistant"
		resp.Message.ToolCalls = []ollamaToolCall{{}}
		resp.Message.ToolCalls[0].Function.Name = "get_time"
		resp.Message.ToolCalls[0].Function.Arguments = map[string]any{}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "test-model", nil)
	resp, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "time?"}}, sampleTools()[:1])
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "get_time" {
		t.Errorf("tool calls = %+v, want one get_time call", resp.ToolCalls)
	}
}

func TestOllamaToolFallbackIsSticky(t *testing.T) {
	var toolRequests, promptRequests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Tools) > 0 {
			toolRequests++
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "registry.ollama.ai/library/test-model does not support tools"}`))
			return
		}
		promptRequests++
		// The retried request must carry the embedded-tool protocol.
		if !strings.Contains(req.Messages[0].Content, `"tool"`) {
			t.Errorf("emulated request missing tool protocol in system prompt")
		}
		resp := ollamaResponse{Model: req.Model, Done: true}
		resp.Message.Role = "assistant"
		resp.Message.Content = "```json\n{\"tool\": \"get_time\", \"arguments\": {}}\n```"
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "test-model", nil)
	messages := []Message{
		{Role: "system", Content: "You are Max."},
		{Role: "user", Content: "time?"},
	}

	resp, err := client.Chat(context.Background(), messages, sampleTools()[:1])
	if err != nil {
		t.Fatalf("first Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "get_time" {
		t.Fatalf("tool calls = %+v, want one get_time call", resp.ToolCalls)
	}
	if resp.Content != "" {
		t.Errorf("content = %q, want embedded JSON stripped", resp.Content)
	}

	// Second call must go straight to emulation, no native retry.
	if _, err := client.Chat(context.Background(), messages, sampleTools()[:1]); err != nil {
		t.Fatalf("second Chat: %v", err)
	}
	if toolRequests != 1 {
		t.Errorf("native tool requests = %d, want exactly 1", toolRequests)
	}
	if promptRequests != 2 {
		t.Errorf("emulated requests = %d, want 2", promptRequests)
	}
}

func TestOllamaChatAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "model not found"}`))
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "missing", nil)
	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Errorf("error %q missing server detail", err)
	}
}

func TestOllamaChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Errorf("stream = false, want true")
		}
		enc := json.NewEncoder(w)
		for _, token := range []string{"Hel", "lo", "."} {
			chunk := ollamaResponse{Model: req.Model}
			chunk.Message.Content = token
			enc.Encode(chunk)
		}
		done := ollamaResponse{Model: req.Model, Done: true, EvalCount: 3}
		enc.Encode(done)
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "test-model", nil)
	var tokens []string
	resp, err := client.ChatStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, func(tok string) {
		tokens = append(tokens, tok)
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if resp.Content != "Hello." {
		t.Errorf("content = %q, want %q", resp.Content, "Hello.")
	}
	if len(tokens) != 3 {
		t.Errorf("callback invoked %d times, want 3", len(tokens))
	}
	if resp.OutputTokens != 3 {
		t.Errorf("output tokens = %d, want 3", resp.OutputTokens)
	}
}

func TestOllamaPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		w.Write([]byte(`{"models": []}`))
	}))
	defer server.Close()

	if err := NewOllamaClient(server.URL, "m", nil).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
