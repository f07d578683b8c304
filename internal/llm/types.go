// Package llm provides the reasoning-backend clients. Three wire
// protocols (Ollama, OpenAI, Gemini) are reduced to one neutral shape:
// messages in, text plus zero or more tool-call requests out.
package llm

// Message represents a chat message in provider-neutral form.
type Message struct {
	Role      string     `json:"role"` // system, user, assistant
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a capability invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned call ID, where the provider has one.
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the unified response from any provider. Wire format
// conversion happens at the provider boundary (ollama.go, openai.go,
// gemini.go), never in consumers.
type ChatResponse struct {
	Model     string
	Content   string
	ToolCalls []ToolCall

	// Token usage, when the provider reports it.
	InputTokens  int
	OutputTokens int
}

// StreamCallback receives incremental text fragments during a
// streaming response. It is invoked from the client's goroutine; a
// slow callback slows only its own turn.
type StreamCallback func(token string)
