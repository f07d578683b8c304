package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Prompt-embedded tool calling, for backends (or models) without native
// tool support. Definitions are appended to the system message; the
// model is instructed to answer with a fenced JSON block naming the
// tool and its arguments, which ParseEmbeddedToolCalls extracts.

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json\\s*\n?(.*?)\n?\\s*```")
	bareToolRe   = regexp.MustCompile(`(?s)(\{[^{}]*"tool"[^{}]*\})`)
)

// InjectToolPrompt returns a copy of messages with the tool protocol
// and definitions appended to the system message. If no system message
// exists, one is prepended.
func InjectToolPrompt(messages []Message, tools []map[string]any) []Message {
	block := buildToolBlock(tools)

	out := make([]Message, 0, len(messages)+1)
	injected := false
	for _, m := range messages {
		if m.Role == "system" && !injected {
			m.Content += block
			injected = true
		}
		out = append(out, m)
	}
	if !injected {
		out = append([]Message{{Role: "system", Content: strings.TrimPrefix(block, "\n\n")}}, out...)
	}
	return out
}

func buildToolBlock(tools []map[string]any) string {
	var lines []string
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)

		var paramParts []string
		if params, ok := fn["parameters"].(map[string]any); ok {
			props, _ := params["properties"].(map[string]any)
			required := map[string]bool{}
			if req, ok := params["required"].([]string); ok {
				for _, r := range req {
					required[r] = true
				}
			} else if req, ok := params["required"].([]any); ok {
				for _, r := range req {
					if s, ok := r.(string); ok {
						required[s] = true
					}
				}
			}
			for pname, p := range props {
				ptype := "any"
				if pm, ok := p.(map[string]any); ok {
					if ts, ok := pm["type"].(string); ok {
						ptype = ts
					}
				}
				suffix := ""
				if required[pname] {
					suffix = " (required)"
				}
				paramParts = append(paramParts, fmt.Sprintf("%s: %s%s", pname, ptype, suffix))
			}
		}
		lines = append(lines, fmt.Sprintf("  - %s(%s): %s", name, strings.Join(paramParts, ", "), desc))
	}

	return "\n\nYou have access to tools. To use one, respond with ONLY:\n" +
		"```json\n{\"tool\": \"tool_name\", \"arguments\": {\"arg1\": \"value1\"}}\n```\n" +
		"If you don't need a tool, respond normally.\nAvailable tools:\n" +
		strings.Join(lines, "\n")
}

// ParseEmbeddedToolCalls extracts tool calls from free text following
// the embedded protocol. It tries fenced ```json blocks first, then
// bare {"tool": ...} objects. Returns nil when nothing parses.
func ParseEmbeddedToolCalls(text string) []ToolCall {
	blocks := fencedJSONRe.FindAllStringSubmatch(text, -1)
	var candidates []string
	for _, m := range blocks {
		candidates = append(candidates, m[1])
	}
	if len(candidates) == 0 {
		for _, m := range bareToolRe.FindAllStringSubmatch(text, -1) {
			candidates = append(candidates, m[1])
		}
	}

	var calls []ToolCall
	for _, c := range candidates {
		var parsed struct {
			Tool      string         `json:"tool"`
			Arguments map[string]any `json:"arguments"`
			Args      map[string]any `json:"args"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(c)), &parsed); err != nil {
			continue
		}
		if parsed.Tool == "" {
			continue
		}
		args := parsed.Arguments
		if args == nil {
			args = parsed.Args
		}
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, ToolCall{Name: parsed.Tool, Arguments: args})
	}
	return calls
}

// StripEmbeddedToolCalls removes fenced tool-call blocks from the
// visible text, so a reply that both chats and calls a tool does not
// leak protocol JSON to the user.
func StripEmbeddedToolCalls(text string) string {
	stripped := fencedJSONRe.ReplaceAllStringFunc(text, func(block string) string {
		if strings.Contains(block, `"tool"`) {
			return ""
		}
		return block
	})
	return strings.TrimSpace(stripped)
}
