package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/httpkit"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/memory"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/speech"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
)

// Deps carries the collaborators the built-in skills close over.
// Nil members disable the skills that need them.
type Deps struct {
	Bus     *statebus.Bus
	Memory  *memory.Store
	Speaker speech.Speaker

	// HTTPClient is used by fetch_url. Defaults to a shared client.
	HTTPClient *http.Client
}

const (
	commandTimeout = 30 * time.Second
	fetchBodyLimit = 100 * 1024
)

// RegisterBuiltins registers the standard skill set. Registration
// order is deterministic; it is the order tool definitions are shown
// to the model.
func RegisterBuiltins(r *Registry, deps Deps) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = httpkit.NewClient()
	}

	r.Register(&Skill{
		Name:        "get_time",
		Description: "Get the current date and time",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return time.Now().Format("Monday, January 2 2006, 15:04:05"), nil
		},
	})

	r.Register(&Skill{
		Name:        "run_command",
		Description: "Run a shell command on the host and return its output",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to execute",
				},
			},
			"required": []string{"command"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			command, _ := args["command"].(string)
			if command == "" {
				return "", fmt.Errorf("command is required")
			}
			ctx, cancel := context.WithTimeout(ctx, commandTimeout)
			defer cancel()
			out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
			text := strings.TrimSpace(string(out))
			if err != nil {
				if text == "" {
					return "", fmt.Errorf("command failed: %w", err)
				}
				return "", fmt.Errorf("command failed: %w: %s", err, text)
			}
			return text, nil
		},
	})

	r.Register(&Skill{
		Name:        "read_file",
		Description: "Read a text file from disk",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Absolute path of the file to read",
				},
			},
			"required": []string{"path"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("read %s: %w", path, err)
			}
			return string(data), nil
		},
	})

	r.Register(&Skill{
		Name:        "write_file",
		Description: "Write text content to a file, creating parent directories",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Absolute path of the file to write",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "The file content",
				},
			},
			"required": []string{"path", "content"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", fmt.Errorf("create directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("write %s: %w", path, err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	})

	r.Register(&Skill{
		Name:        "fetch_url",
		Description: "Fetch a URL over HTTP and return the response body",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The URL to fetch",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			url, _ := args["url"].(string)
			if url == "" {
				return "", fmt.Errorf("url is required")
			}
			req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
			if err != nil {
				return "", fmt.Errorf("create request: %w", err)
			}
			resp, err := deps.HTTPClient.Do(req)
			if err != nil {
				return "", fmt.Errorf("fetch %s: %w", url, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
			if err != nil {
				return "", fmt.Errorf("read body: %w", err)
			}
			return string(body), nil
		},
	})

	if deps.Bus != nil {
		r.Register(&Skill{
			Name:        "system_info",
			Description: "Get current host telemetry (CPU, memory, disk, temperature)",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				payload, ok := deps.Bus.Get(statebus.TopicSystem)
				if !ok {
					return "No telemetry collected yet.", nil
				}
				return formatPayload(payload), nil
			},
		})

		r.Register(&Skill{
			Name:        "describe_camera_view",
			Description: "Describe what the camera currently sees",
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				if payload, ok := deps.Bus.Get(statebus.TopicVision); ok {
					if desc, _ := payload["description"].(string); desc != "" {
						return desc, nil
					}
				}
				payload, ok := deps.Bus.Get(statebus.TopicDetections)
				if !ok {
					return "The camera has not reported anything yet.", nil
				}
				return formatPayload(payload), nil
			},
		})
	}

	if deps.Memory != nil {
		r.Register(&Skill{
			Name:        "remember_fact",
			Description: "Store a fact in long-term memory for future conversations",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"fact": map[string]any{
						"type":        "string",
						"description": "The fact to remember",
					},
				},
				"required": []string{"fact"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				fact, _ := args["fact"].(string)
				if fact == "" {
					return "", fmt.Errorf("fact is required")
				}
				if err := deps.Memory.RememberFact(ctx, fact); err != nil {
					return "", fmt.Errorf("store fact: %w", err)
				}
				return "Remembered.", nil
			},
		})
	}

	if deps.Speaker != nil {
		r.Register(&Skill{
			Name:        "speak",
			Description: "Say something out loud through the speaker",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "The text to speak",
					},
				},
				"required": []string{"text"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				text, _ := args["text"].(string)
				if text == "" {
					return "", fmt.Errorf("text is required")
				}
				deps.Speaker.Speak(text)
				return "Speaking.", nil
			},
		})
	}
}

func formatPayload(payload statebus.Payload) string {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}
