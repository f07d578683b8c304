package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/config"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/httpkit"
)

// GeminiClient talks to the Google Gemini generateContent API.
type GeminiClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiClient creates a client bound to one model.
func NewGeminiClient(apiKey, model string, logger *slog.Logger) *GeminiClient {
	if logger == nil {
		logger = slog.Default()
	}
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 2 * time.Minute
	return &GeminiClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		logger:  logger.With("provider", "gemini"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Gemini wire types.

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTools   `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiTools struct {
	FunctionDeclarations []map[string]any `json:"functionDeclarations"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Chat sends a completion request with optional native tools.
func (c *GeminiClient) Chat(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := c.buildRequest(messages, tools)

	resp, err := c.post(ctx, ":generateContent", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	out := &ChatResponse{
		Model:        c.model,
		InputTokens:  apiResp.UsageMetadata.PromptTokenCount,
		OutputTokens: apiResp.UsageMetadata.CandidatesTokenCount,
	}
	var content strings.Builder
	for _, part := range apiResp.Candidates[0].Content.Parts {
		if part.Text != "" {
			content.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		}
	}
	out.Content = content.String()
	return out, nil
}

// ChatStream streams plain text over SSE.
func (c *GeminiClient) ChatStream(ctx context.Context, messages []Message, callback StreamCallback) (*ChatResponse, error) {
	req := c.buildRequest(messages, nil)

	resp, err := c.post(ctx, ":streamGenerateContent?alt=sse", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &ChatResponse{Model: c.model}
	var content strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			c.logger.Debug("skipping malformed stream chunk", "error", err)
			continue
		}
		if chunk.UsageMetadata.PromptTokenCount > 0 {
			out.InputTokens = chunk.UsageMetadata.PromptTokenCount
			out.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount
		}
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					content.WriteString(part.Text)
					if callback != nil {
						callback(part.Text)
					}
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	out.Content = content.String()
	return out, nil
}

func (c *GeminiClient) buildRequest(messages []Message, tools []map[string]any) geminiRequest {
	var req geminiRequest
	for _, m := range messages {
		switch m.Role {
		case "system":
			// Gemini carries the system prompt out of band. Multiple
			// system messages collapse into one instruction block.
			if req.SystemInstruction == nil {
				req.SystemInstruction = &geminiContent{}
			}
			req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, geminiPart{Text: m.Content})
		default:
			role := "user"
			if m.Role == "assistant" {
				role = "model"
			}
			gc := geminiContent{Role: role}
			if m.Content != "" {
				gc.Parts = append(gc.Parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				gc.Parts = append(gc.Parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: tc.Arguments},
				})
			}
			if len(gc.Parts) > 0 {
				req.Contents = append(req.Contents, gc)
			}
		}
	}

	for _, tool := range tools {
		// Tool definitions arrive in the common OpenAI-style envelope;
		// Gemini wants the bare function declaration.
		if fn, ok := tool["function"].(map[string]any); ok {
			if len(req.Tools) == 0 {
				req.Tools = append(req.Tools, geminiTools{})
			}
			req.Tools[0].FunctionDeclarations = append(req.Tools[0].FunctionDeclarations, fn)
		}
	}
	return req
}

func (c *GeminiClient) post(ctx context.Context, method string, req geminiRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	url := fmt.Sprintf("%s/models/%s%s", c.baseURL, c.model, method)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("gemini API error %d: %s", resp.StatusCode, errBody)
	}
	return resp, nil
}

// Ping verifies the API key by fetching model metadata.
func (c *GeminiClient) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/models/%s", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gemini API error %d", resp.StatusCode)
	}
	return nil
}
