package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
)

// syncThoughts mirrors the newest thoughts onto the bus, so dashboards
// and the self-heal monitor see them like any other state.
func (s *Sentinel) syncThoughts(ctx context.Context) error {
	recent := s.thoughts.Recent(10)
	items := make([]any, 0, len(recent))
	for _, t := range recent {
		items = append(items, map[string]any{
			"id":         t.ID,
			"content":    t.Content,
			"category":   string(t.Category),
			"score":      t.SpeakScore,
			"spoken":     t.Spoken,
			"created_at": t.CreatedAt.Format(time.RFC3339),
		})
	}
	s.bus.Publish(statebus.TopicThoughts, statebus.Payload{
		"thoughts": items,
		"total":    s.thoughts.Len(),
	})
	return nil
}

// writeMirror dumps the full bus snapshot to a JSON file, atomically
// via rename, for external pollers.
func (s *Sentinel) writeMirror(ctx context.Context) error {
	snapshot := map[string]any{
		"updated_at": time.Now().Format(time.RFC3339),
		"state":      s.bus.GetAll(),
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := s.mirror + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.mirror), 0o755); err != nil {
		return fmt.Errorf("create mirror directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write mirror: %w", err)
	}
	if err := os.Rename(tmp, s.mirror); err != nil {
		return fmt.Errorf("replace mirror: %w", err)
	}
	return nil
}
