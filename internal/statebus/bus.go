// Package statebus provides the in-memory publish/subscribe state bus
// that connects maxd's subsystems. Producers (sentinel workers, thought
// engine) publish the latest state for a topic; consumers (brain,
// thought engine, heal monitor, observe server) read snapshots or
// register handlers. The bus keeps only the most recent payload per
// topic: it is a memory-bounded cache, not an event log.
//
// The bus is nil-safe: calling Publish or Get on a nil *Bus is a no-op,
// so optional components do not need guard checks.
package statebus

import (
	"log/slog"
	"sync"
)

// Topic constants used across subsystems. Topics are conventions, not
// registrations; nothing owns them.
const (
	// TopicCamera carries frame-capture status from the camera worker.
	TopicCamera = "sentinel.camera"
	// TopicDetections carries object-detection results.
	// Data: status, last_scan, detections, scene_changed, error.
	TopicDetections = "sentinel.yolo"
	// TopicSystem carries host telemetry (cpu, ram, disk, temp).
	TopicSystem = "sentinel.system"
	// TopicUSB carries the device-watch state. Data: devices, new_device.
	TopicUSB = "sentinel.usb"
	// TopicSelfCheck carries periodic health-check results.
	TopicSelfCheck = "sentinel.selfcheck"
	// TopicThoughts mirrors the recent thought buffer for dashboards.
	TopicThoughts = "sentinel.thoughts"
	// TopicVision carries free-form scene descriptions from the vision skill.
	TopicVision = "sentinel.vision"
)

// Payload is the structured mapping published to a topic. Payloads must
// be treated as immutable once published; the bus hands the same map
// to every handler and snapshot reader.
type Payload map[string]any

// Handler receives the payload published to a subscribed topic. Each
// invocation runs in its own goroutine; a slow or panicking handler
// never delays the publisher or other handlers.
type Handler func(topic string, payload Payload)

// Bus is the shared state bus. Create with New and pass by reference
// into every component that needs it; there is no package-level
// singleton.
type Bus struct {
	mu     sync.RWMutex
	state  map[string]Payload
	subs   map[string][]Handler
	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		state:  make(map[string]Payload),
		subs:   make(map[string][]Handler),
		logger: logger,
	}
}

// Subscribe registers a handler for a topic. Registration never blocks
// and never retroactively delivers past state.
func (b *Bus) Subscribe(topic string, h Handler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], h)
	n := len(b.subs[topic])
	b.mu.Unlock()
	b.logger.Debug("bus subscription added", "topic", topic, "handlers", n)
}

// Publish atomically overwrites the topic's state entry, then invokes
// every currently-registered handler for the topic as an independent
// fire-and-forget goroutine. Handler panics are recovered and logged
// per handler; they never propagate to the publisher and never remove
// the handler. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(topic string, payload Payload) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.state[topic] = payload
	// Copy the handler slice under the lock so a concurrent Subscribe
	// cannot race the iteration below.
	handlers := make([]Handler, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.Unlock()

	for _, h := range handlers {
		go b.dispatch(topic, payload, h)
	}
}

// dispatch runs one handler with panic containment.
func (b *Bus) dispatch(topic string, payload Payload, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked", "topic", topic, "panic", r)
		}
	}()
	h(topic, payload)
}

// Get returns the current state entry for a topic and whether one has
// ever been published. Safe to call on a nil receiver.
func (b *Bus) Get(topic string) (Payload, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.state[topic]
	return p, ok
}

// GetAll returns a snapshot mapping of every topic to its current
// entry. The returned map is a copy; the payloads are shared.
func (b *Bus) GetAll() map[string]Payload {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := make(map[string]Payload, len(b.state))
	for k, v := range b.state {
		snap[k] = v
	}
	return snap
}

// Topics returns the topics that have at least one published entry.
func (b *Bus) Topics() []string {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	topics := make([]string, 0, len(b.state))
	for k := range b.state {
		topics = append(topics, k)
	}
	return topics
}
