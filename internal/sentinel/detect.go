package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/httpkit"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
)

// Detection is one recognized object in a frame.
type Detection struct {
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// Detector recognizes objects in a JPEG frame.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]Detection, error)
}

// HTTPDetector posts frames to an external detection service.
type HTTPDetector struct {
	url    string
	client *http.Client
}

// NewHTTPDetector creates a detector against serviceURL's /detect
// endpoint.
func NewHTTPDetector(serviceURL string) *HTTPDetector {
	return &HTTPDetector{
		url:    serviceURL + "/detect",
		client: httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
	}
}

func (d *HTTPDetector) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", d.url, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection service error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 1024))
	}

	var parsed struct {
		Detections []Detection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	return parsed.Detections, nil
}

// sceneChangeRatio is the fraction of the combined object set that
// must differ between frames to count as a scene change.
const sceneChangeRatio = 0.3

// detectObjects is the detection worker's tick body. It only runs
// against frames the camera worker already captured.
func (s *Sentinel) detectObjects(ctx context.Context) error {
	frame := s.LastFrame()
	if frame == nil {
		return nil
	}

	detections, err := s.detector.Detect(ctx, frame)
	if err != nil {
		s.bus.Publish(statebus.TopicDetections, statebus.Payload{
			"status": "error",
			"error":  err.Error(),
		})
		return err
	}

	current := objectSet(detections)
	previous := s.previousObjects()
	changed := SceneChanged(previous, current)
	s.setPreviousObjects(current)

	items := make([]any, 0, len(detections))
	for _, d := range detections {
		items = append(items, map[string]any{
			"object":     d.Object,
			"confidence": d.Confidence,
		})
	}
	s.bus.Publish(statebus.TopicDetections, statebus.Payload{
		"status":        "ok",
		"detections":    items,
		"count":         len(items),
		"scene_changed": changed,
		"detected_at":   time.Now().Format(time.RFC3339),
	})
	if changed {
		s.logger.Info("scene changed", "objects", keys(current))
	}
	return nil
}

// SceneChanged reports whether the symmetric difference between two
// object sets exceeds the change ratio of their union. Two empty sets
// are never a change; empty-to-nonempty always is.
func SceneChanged(previous, current map[string]bool) bool {
	union := map[string]bool{}
	diff := 0
	for o := range previous {
		union[o] = true
		if !current[o] {
			diff++
		}
	}
	for o := range current {
		if !union[o] {
			union[o] = true
		}
		if !previous[o] {
			diff++
		}
	}
	if len(union) == 0 {
		return false
	}
	return float64(diff)/float64(len(union)) > sceneChangeRatio
}

func objectSet(detections []Detection) map[string]bool {
	set := make(map[string]bool, len(detections))
	for _, d := range detections {
		set[d.Object] = true
	}
	return set
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func (s *Sentinel) previousObjects() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prevObjects
}

func (s *Sentinel) setPreviousObjects(set map[string]bool) {
	s.mu.Lock()
	s.prevObjects = set
	s.mu.Unlock()
}
