// Package sentinel runs the background producers feeding the state
// bus: camera capture, object detection, host telemetry, USB watch,
// self checks, and state mirroring. Each producer is a supervised
// worker; none of them ever talks to another directly.
package sentinel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/config"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/thought"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/worker"
)

// Sentinel owns the producer workers and the latest captured frame.
type Sentinel struct {
	bus    *statebus.Bus
	cfg    config.SentinelConfig
	logger *slog.Logger

	frames   FrameSource
	detector Detector

	// Optional extra producers.
	thoughts  *thought.Buffer
	mirror    string // JSON mirror path, empty disables
	selfCheck []CheckFunc

	mu          sync.Mutex
	lastFrame   []byte
	prevObjects map[string]bool
	prevUSB     map[string]bool
}

// Option configures optional producers.
type Option func(*Sentinel)

// WithFrameSource enables the camera worker.
func WithFrameSource(fs FrameSource) Option {
	return func(s *Sentinel) { s.frames = fs }
}

// WithDetector enables the object-detection worker.
func WithDetector(d Detector) Option {
	return func(s *Sentinel) { s.detector = d }
}

// WithThoughtSync mirrors recent thoughts onto the bus.
func WithThoughtSync(buffer *thought.Buffer) Option {
	return func(s *Sentinel) { s.thoughts = buffer }
}

// WithMirrorFile writes periodic full-state snapshots to path.
func WithMirrorFile(path string) Option {
	return func(s *Sentinel) { s.mirror = path }
}

// WithSelfChecks adds health probes to the self-check worker.
func WithSelfChecks(checks ...CheckFunc) Option {
	return func(s *Sentinel) { s.selfCheck = append(s.selfCheck, checks...) }
}

// New creates a sentinel publishing into bus.
func New(bus *statebus.Bus, cfg config.SentinelConfig, logger *slog.Logger, opts ...Option) *Sentinel {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sentinel{bus: bus, cfg: cfg, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches every enabled producer on the supervisor.
func (s *Sentinel) Start(ctx context.Context, sup *worker.Supervisor) {
	if s.frames != nil && s.cfg.Camera.Enabled {
		sup.Go(ctx, "camera", worker.Every(s.interval(s.cfg.Camera.IntervalSec, 5), s.captureFrame))
	}
	if s.detector != nil && s.cfg.Detect.Enabled {
		sup.Go(ctx, "detect", worker.Every(s.interval(s.cfg.Detect.IntervalSec, 5), s.detectObjects))
	}
	sup.Go(ctx, "telemetry", worker.Every(s.interval(s.cfg.TelemetrySec, 30), s.collectTelemetry))
	sup.Go(ctx, "usb-watch", worker.Every(s.interval(s.cfg.USBSec, 15), s.watchUSB))
	sup.Go(ctx, "self-check", worker.Every(s.interval(s.cfg.SelfCheckSec, 60), s.runSelfCheck))
	if s.thoughts != nil {
		sup.Go(ctx, "thought-sync", worker.Every(s.interval(s.cfg.ThoughtSyncSec, 3), s.syncThoughts))
	}
	if s.mirror != "" {
		sup.Go(ctx, "state-mirror", worker.Every(s.interval(s.cfg.MirrorSec, 3), s.writeMirror))
	}
}

func (s *Sentinel) interval(sec, fallback int) time.Duration {
	if sec <= 0 {
		sec = fallback
	}
	return time.Duration(sec) * time.Second
}

func (s *Sentinel) setLastFrame(frame []byte) {
	s.mu.Lock()
	s.lastFrame = frame
	s.mu.Unlock()
}

// LastFrame returns the most recently captured frame, or nil.
func (s *Sentinel) LastFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame
}
