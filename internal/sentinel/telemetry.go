package sentinel

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
)

// collectTelemetry is the telemetry worker's tick body. Individual
// probe failures degrade that field rather than failing the cycle.
func (s *Sentinel) collectTelemetry(ctx context.Context) error {
	payload := statebus.Payload{
		"collected_at": time.Now().Format(time.RFC3339),
	}

	if percentages, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percentages) > 0 {
		payload["cpu_percent"] = round1(percentages[0])
	} else if err != nil {
		s.logger.Debug("cpu probe failed", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		payload["memory_percent"] = round1(vm.UsedPercent)
		payload["memory_total_mb"] = vm.Total / (1 << 20)
	} else {
		s.logger.Debug("memory probe failed", "error", err)
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		payload["disk_percent"] = round1(du.UsedPercent)
		payload["disk_free_gb"] = round1(float64(du.Free) / (1 << 30))
	} else {
		s.logger.Debug("disk probe failed", "error", err)
	}

	if temps, err := sensors.TemperaturesWithContext(ctx); err == nil {
		for _, t := range temps {
			if t.SensorKey == "cpu_thermal" || t.SensorKey == "coretemp" {
				payload["cpu_temp_c"] = round1(t.Temperature)
				break
			}
		}
	}

	s.bus.Publish(statebus.TopicSystem, payload)
	return nil
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

// runSelfCheck is the self-check worker's tick body.

// CheckFunc probes one dependency and returns a failure description,
// or an error when the dependency is down.
type CheckFunc func(ctx context.Context) error

func (s *Sentinel) runSelfCheck(ctx context.Context) error {
	var failures []any
	for _, check := range s.selfCheck {
		if err := check(ctx); err != nil {
			failures = append(failures, err.Error())
		}
	}

	status := "ok"
	if len(failures) > 0 {
		status = "degraded"
	}
	payload := statebus.Payload{
		"status":     status,
		"checked_at": time.Now().Format(time.RFC3339),
	}
	if failures != nil {
		payload["errors"] = failures
	}
	s.bus.Publish(statebus.TopicSelfCheck, payload)
	return nil
}

// DiskSpaceCheck fails when root filesystem usage crosses the
// threshold percentage.
func DiskSpaceCheck(thresholdPercent float64) CheckFunc {
	return func(ctx context.Context) error {
		du, err := disk.UsageWithContext(ctx, "/")
		if err != nil {
			return fmt.Errorf("disk usage probe: %w", err)
		}
		if du.UsedPercent > thresholdPercent {
			return fmt.Errorf("disk usage %.1f%% exceeds %.0f%%", du.UsedPercent, thresholdPercent)
		}
		return nil
	}
}
