package sentinel

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
)

// watchUSB is the device-watch worker's tick body. It diffs lsusb
// output between ticks and publishes plug and unplug events.
func (s *Sentinel) watchUSB(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "lsusb").Output()
	if err != nil {
		return fmt.Errorf("lsusb: %w", err)
	}

	current := parseUSBDevices(string(out))
	s.mu.Lock()
	previous := s.prevUSB
	s.prevUSB = current
	s.mu.Unlock()

	payload := statebus.Payload{
		"devices":    usbNames(current),
		"count":      len(current),
		"scanned_at": time.Now().Format(time.RFC3339),
	}

	// First scan establishes the baseline without events.
	if previous != nil {
		added, removed := diffUSB(previous, current)
		if len(added) > 0 {
			payload["added"] = added
			s.logger.Info("usb device connected", "devices", added)
		}
		if len(removed) > 0 {
			payload["removed"] = removed
			s.logger.Info("usb device disconnected", "devices", removed)
		}
	}

	s.bus.Publish(statebus.TopicUSB, payload)
	return nil
}

// parseUSBDevices extracts device descriptions from lsusb output.
// Lines look like:
//
//	Bus 001 Device 004: ID 046d:085c Logitech, Inc. C922 Pro Stream Webcam
func parseUSBDevices(out string) map[string]bool {
	devices := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.Index(line, "ID "); i >= 0 {
			devices[line[i+len("ID "):]] = true
		}
	}
	return devices
}

func diffUSB(previous, current map[string]bool) (added, removed []any) {
	for d := range current {
		if !previous[d] {
			added = append(added, d)
		}
	}
	for d := range previous {
		if !current[d] {
			removed = append(removed, d)
		}
	}
	return added, removed
}

func usbNames(set map[string]bool) []any {
	out := make([]any, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out
}
