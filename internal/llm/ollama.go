package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/config"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/httpkit"
)

// OllamaClient talks to a local Ollama server.
//
// Not every local model supports native tool calling. The first time
// the server rejects a tools-bearing request, the client flips to
// prompt-embedded tool calling and stays there for the rest of the
// process (the capability is a property of the loaded model, not of
// the individual request).
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger

	mu            sync.Mutex
	noNativeTools bool
}

// NewOllamaClient creates a client bound to one model.
func NewOllamaClient(baseURL, model string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := httpkit.NewTransport()
	// Large models can sit for a long while before the first byte.
	t.ResponseHeaderTimeout = 5 * time.Minute
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		logger:  logger.With("provider", "ollama"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0), // ctx controls cancellation
			httpkit.WithTransport(t),
		),
	}
}

// Ollama wire types.

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaResponse struct {
	Model     string        `json:"model"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
	EvalCount int           `json:"eval_count,omitempty"`

	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
}

func (c *OllamaClient) emulatingTools() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noNativeTools
}

func (c *OllamaClient) markNoNativeTools() {
	c.mu.Lock()
	c.noNativeTools = true
	c.mu.Unlock()
}

// Chat sends a completion request, transparently falling back to
// prompt-embedded tool calling when the model rejects native tools.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	emulate := len(tools) > 0 && c.emulatingTools()

	resp, err := c.send(ctx, messages, tools, emulate)
	if err != nil && len(tools) > 0 && !emulate && strings.Contains(err.Error(), "does not support tools") {
		c.logger.Warn("model lacks native tool support, switching to prompt-embedded tools")
		c.markNoNativeTools()
		resp, err = c.send(ctx, messages, tools, true)
	}
	if err != nil {
		return nil, err
	}

	if len(tools) > 0 && c.emulatingTools() && len(resp.ToolCalls) == 0 {
		if parsed := ParseEmbeddedToolCalls(resp.Content); len(parsed) > 0 {
			resp.ToolCalls = parsed
			resp.Content = StripEmbeddedToolCalls(resp.Content)
		}
	}
	return resp, nil
}

func (c *OllamaClient) send(ctx context.Context, messages []Message, tools []map[string]any, emulate bool) (*ChatResponse, error) {
	if emulate {
		messages = InjectToolPrompt(messages, tools)
		tools = nil
	}

	req := ollamaRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Stream:   false,
		Tools:    tools,
	}

	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp ollamaResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return fromOllama(&resp), nil
}

// ChatStream streams plain text; tools are never sent on this path.
func (c *OllamaClient) ChatStream(ctx context.Context, messages []Message, callback StreamCallback) (*ChatResponse, error) {
	req := ollamaRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Stream:   true,
	}

	body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var final ollamaResponse
	var content strings.Builder
	decoder := json.NewDecoder(body)
	for {
		var chunk ollamaResponse
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if callback != nil {
				callback(chunk.Message.Content)
			}
		}
		if chunk.Done {
			final = chunk
			break
		}
	}

	final.Message.Content = content.String()
	return fromOllama(&final), nil
}

func (c *OllamaClient) post(ctx context.Context, req ollamaRequest) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, errBody)
	}
	return resp.Body, nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama API error %d", resp.StatusCode)
	}
	return nil
}

func toOllamaMessages(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

func fromOllama(resp *ollamaResponse) *ChatResponse {
	out := &ChatResponse{
		Model:        resp.Model,
		Content:      resp.Message.Content,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}
	for _, tc := range resp.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out
}
