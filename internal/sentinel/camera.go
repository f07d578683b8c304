package sentinel

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
)

// FrameSource captures one still frame.
type FrameSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// V4LFrameSource grabs JPEG frames from a V4L2 device via ffmpeg.
type V4LFrameSource struct {
	Device string
}

const captureTimeout = 10 * time.Second

func (f *V4LFrameSource) Capture(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "v4l2", "-i", f.Device,
		"-frames:v", "1", "-f", "image2", "-c:v", "mjpeg",
		"-loglevel", "error", "pipe:1")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("capture from %s: %w", f.Device, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("capture from %s: empty frame", f.Device)
	}
	return out, nil
}

// captureFrame is the camera worker's tick body. Failures land on the
// bus as an error payload so the heal monitor sees them; the error is
// still returned for the supervisor's restart accounting.
func (s *Sentinel) captureFrame(ctx context.Context) error {
	frame, err := s.frames.Capture(ctx)
	if err != nil {
		s.bus.Publish(statebus.TopicCamera, statebus.Payload{
			"status": "error",
			"error":  err.Error(),
			"device": s.cfg.Camera.Device,
		})
		return err
	}
	s.setLastFrame(frame)
	s.bus.Publish(statebus.TopicCamera, statebus.Payload{
		"status":      "ok",
		"captured_at": time.Now().Format(time.RFC3339),
		"bytes":       len(frame),
		"device":      s.cfg.Camera.Device,
	})
	return nil
}
