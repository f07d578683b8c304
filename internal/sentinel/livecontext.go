package sentinel

import (
	"fmt"
	"strings"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
)

// LiveContext renders the bus state the brain cares about as compact
// prose for the system prompt. Topics with nothing published are
// simply absent from the output.
func LiveContext(bus *statebus.Bus) string {
	var b strings.Builder

	if payload, ok := bus.Get(statebus.TopicDetections); ok {
		detections, _ := payload["detections"].([]any)
		if status, _ := payload["status"].(string); status == "error" {
			b.WriteString("Camera: detection unavailable.\n")
		} else if len(detections) == 0 {
			b.WriteString("Camera: nothing detected.\n")
		} else {
			names := make([]string, 0, len(detections))
			for _, d := range detections {
				if m, ok := d.(map[string]any); ok {
					if name, _ := m["object"].(string); name != "" {
						names = append(names, name)
					}
				}
			}
			fmt.Fprintf(&b, "Camera sees: %s.\n", strings.Join(names, ", "))
		}
	}

	if payload, ok := bus.Get(statebus.TopicVision); ok {
		if desc, _ := payload["description"].(string); desc != "" {
			fmt.Fprintf(&b, "Scene description: %s\n", desc)
		}
	}

	if payload, ok := bus.Get(statebus.TopicSystem); ok {
		parts := make([]string, 0, 4)
		if v, ok := payload["cpu_percent"].(float64); ok {
			parts = append(parts, fmt.Sprintf("CPU %.0f%%", v))
		}
		if v, ok := payload["memory_percent"].(float64); ok {
			parts = append(parts, fmt.Sprintf("memory %.0f%%", v))
		}
		if v, ok := payload["disk_percent"].(float64); ok {
			parts = append(parts, fmt.Sprintf("disk %.0f%%", v))
		}
		if v, ok := payload["cpu_temp_c"].(float64); ok {
			parts = append(parts, fmt.Sprintf("%.0f°C", v))
		}
		if len(parts) > 0 {
			fmt.Fprintf(&b, "Host: %s.\n", strings.Join(parts, ", "))
		}
	}

	if payload, ok := bus.Get(statebus.TopicUSB); ok {
		if added, ok := payload["added"].([]any); ok && len(added) > 0 {
			fmt.Fprintf(&b, "Recently connected USB: %s.\n", joinAny(added))
		}
		if removed, ok := payload["removed"].([]any); ok && len(removed) > 0 {
			fmt.Fprintf(&b, "Recently disconnected USB: %s.\n", joinAny(removed))
		}
	}

	if payload, ok := bus.Get(statebus.TopicSelfCheck); ok {
		if status, _ := payload["status"].(string); status != "" && status != "ok" {
			fmt.Fprintf(&b, "Self-check status: %s", status)
			if errs, ok := payload["errors"].([]any); ok && len(errs) > 0 {
				fmt.Fprintf(&b, " (%s)", joinAny(errs))
			}
			b.WriteString(".\n")
		}
	}

	return strings.TrimSpace(b.String())
}

func joinAny(items []any) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprint(it))
	}
	return strings.Join(parts, ", ")
}
