package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/config"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/thought"
)

func set(objects ...string) map[string]bool {
	s := map[string]bool{}
	for _, o := range objects {
		s[o] = true
	}
	return s
}

func TestSceneChanged(t *testing.T) {
	tests := []struct {
		name     string
		previous map[string]bool
		current  map[string]bool
		want     bool
	}{
		{"both empty", set(), set(), false},
		{"identical", set("person", "chair"), set("person", "chair"), false},
		{"empty to nonempty", set(), set("person"), true},
		{"nonempty to empty", set("person"), set(), true},
		{"one of four swapped", set("person", "chair", "tv", "plant"), set("person", "chair", "tv", "lamp"), true},
		{"one of four dropped", set("a", "b", "c", "d"), set("a", "b", "c"), false},
		{"full replacement", set("cat"), set("dog"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SceneChanged(tt.previous, tt.current); got != tt.want {
				t.Errorf("SceneChanged = %v, want %v", got, tt.want)
			}
		})
	}
}

type staticFrames struct{ frame []byte }

func (f staticFrames) Capture(ctx context.Context) ([]byte, error) { return f.frame, nil }

func TestDetectWorkerPublishesDetections(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			t.Errorf("path = %q, want /detect", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"object": "person", "confidence": 0.92},
				{"object": "cat", "confidence": 0.81},
			},
		})
	}))
	defer service.Close()

	bus := statebus.New(nil)
	s := New(bus, config.SentinelConfig{}, nil,
		WithFrameSource(staticFrames{frame: []byte("jpeg")}),
		WithDetector(NewHTTPDetector(service.URL)))

	if err := s.captureFrame(context.Background()); err != nil {
		t.Fatalf("captureFrame: %v", err)
	}
	if err := s.detectObjects(context.Background()); err != nil {
		t.Fatalf("detectObjects: %v", err)
	}

	payload, ok := bus.Get(statebus.TopicDetections)
	if !ok {
		t.Fatal("nothing published to detections topic")
	}
	if payload["count"] != 2 {
		t.Errorf("count = %v, want 2", payload["count"])
	}
	// First detection against empty baseline is a scene change.
	if payload["scene_changed"] != true {
		t.Errorf("scene_changed = %v, want true", payload["scene_changed"])
	}

	// Same objects again: no change.
	if err := s.detectObjects(context.Background()); err != nil {
		t.Fatalf("second detectObjects: %v", err)
	}
	payload, _ = bus.Get(statebus.TopicDetections)
	if payload["scene_changed"] != false {
		t.Errorf("scene_changed on identical scene = %v, want false", payload["scene_changed"])
	}
}

type failingDetector struct{ err error }

func (d failingDetector) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	return nil, d.err
}

func TestDetectFailurePublishesErrorPayload(t *testing.T) {
	bus := statebus.New(nil)
	s := New(bus, config.SentinelConfig{}, nil,
		WithFrameSource(staticFrames{frame: []byte("jpeg")}),
		WithDetector(failingDetector{err: errors.New("detection request: connection refused")}))

	if err := s.captureFrame(context.Background()); err != nil {
		t.Fatalf("captureFrame: %v", err)
	}
	if err := s.detectObjects(context.Background()); err == nil {
		t.Fatal("detectObjects returned nil, want the detector failure")
	}

	// The failure must land on the bus so the heal monitor's scan of
	// error fields can see it.
	payload, ok := bus.Get(statebus.TopicDetections)
	if !ok {
		t.Fatal("nothing published to detections topic on failure")
	}
	if payload["status"] != "error" {
		t.Errorf("status = %v, want error", payload["status"])
	}
	errText, _ := payload["error"].(string)
	if !strings.Contains(errText, "detection request") {
		t.Errorf("error = %q, want the detector failure text", errText)
	}
}

func TestDetectSkipsWithoutFrame(t *testing.T) {
	bus := statebus.New(nil)
	s := New(bus, config.SentinelConfig{}, nil, WithDetector(NewHTTPDetector("http://127.0.0.1:1")))

	if err := s.detectObjects(context.Background()); err != nil {
		t.Fatalf("detectObjects without frame: %v", err)
	}
	if _, ok := bus.Get(statebus.TopicDetections); ok {
		t.Error("published detections without any frame")
	}
}

func TestParseUSBDevices(t *testing.T) {
	out := `Bus 001 Device 004: ID 046d:085c Logitech, Inc. C922 Pro Stream Webcam
Bus 001 Device 001: ID 1d6b:0002 Linux Foundation 2.0 root hub

`
	devices := parseUSBDevices(out)
	if len(devices) != 2 {
		t.Fatalf("parsed %d devices, want 2", len(devices))
	}
	if !devices["046d:085c Logitech, Inc. C922 Pro Stream Webcam"] {
		t.Errorf("webcam not parsed: %v", devices)
	}
}

func TestSelfCheckReportsDegraded(t *testing.T) {
	bus := statebus.New(nil)
	s := New(bus, config.SentinelConfig{}, nil, WithSelfChecks(
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return errAlwaysDown },
	))

	if err := s.runSelfCheck(context.Background()); err != nil {
		t.Fatalf("runSelfCheck: %v", err)
	}
	payload, ok := bus.Get(statebus.TopicSelfCheck)
	if !ok {
		t.Fatal("nothing published to self-check topic")
	}
	if payload["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", payload["status"])
	}
	errs, _ := payload["errors"].([]any)
	if len(errs) != 1 || errs[0] != errAlwaysDown.Error() {
		t.Errorf("errors = %v", errs)
	}
}

var errAlwaysDown = &downError{}

type downError struct{}

func (*downError) Error() string { return "backend unreachable" }

func TestMirrorWritesSnapshot(t *testing.T) {
	bus := statebus.New(nil)
	bus.Publish(statebus.TopicSystem, statebus.Payload{"cpu_percent": 12.5})

	path := filepath.Join(t.TempDir(), "state", "maxd.json")
	s := New(bus, config.SentinelConfig{}, nil, WithMirrorFile(path))

	if err := s.writeMirror(context.Background()); err != nil {
		t.Fatalf("writeMirror: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read mirror: %v", err)
	}
	var snapshot struct {
		State map[string]map[string]any `json:"state"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("mirror is not valid JSON: %v", err)
	}
	if snapshot.State[statebus.TopicSystem]["cpu_percent"] != 12.5 {
		t.Errorf("snapshot = %v", snapshot.State)
	}
}

func TestThoughtSyncPublishes(t *testing.T) {
	bus := statebus.New(nil)
	buffer := thought.NewBuffer()
	buffer.Add(thought.NewThought("hello", thought.CategoryObservation, 0.7))
	s := New(bus, config.SentinelConfig{}, nil, WithThoughtSync(buffer))

	if err := s.syncThoughts(context.Background()); err != nil {
		t.Fatalf("syncThoughts: %v", err)
	}
	payload, ok := bus.Get(statebus.TopicThoughts)
	if !ok {
		t.Fatal("nothing published to thoughts topic")
	}
	if payload["total"] != 1 {
		t.Errorf("total = %v, want 1", payload["total"])
	}
}

func TestLiveContext(t *testing.T) {
	bus := statebus.New(nil)
	if got := LiveContext(bus); got != "" {
		t.Errorf("empty bus context = %q, want empty", got)
	}

	bus.Publish(statebus.TopicDetections, statebus.Payload{
		"detections": []any{
			map[string]any{"object": "person", "confidence": 0.9},
			map[string]any{"object": "dog", "confidence": 0.8},
		},
	})
	bus.Publish(statebus.TopicSystem, statebus.Payload{
		"cpu_percent":    42.0,
		"memory_percent": 61.0,
	})
	bus.Publish(statebus.TopicSelfCheck, statebus.Payload{"status": "ok"})

	got := LiveContext(bus)
	if !strings.Contains(got, "person, dog") {
		t.Errorf("detections missing: %q", got)
	}
	if !strings.Contains(got, "CPU 42%") {
		t.Errorf("telemetry missing: %q", got)
	}
	if strings.Contains(got, "Self-check") {
		t.Errorf("healthy self-check should be silent: %q", got)
	}
}
