package thought

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/llm"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/memory"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
)

const thoughtPrompt = `You are the inner monologue of Max, a home AI assistant.
Given the current sensor state and recent conversation, produce ONE short thought.
Reply in exactly this format:
CATEGORY: <observation|analysis|opinion|plan|curiosity|environmental|reflection|alert>
SPEAK_SCORE: <0.0 to 1.0, how worth saying aloud this is>
THOUGHT: <one or two sentences>`

// contextTopics are the bus topics sampled into each cycle's context.
var contextTopics = []string{
	statebus.TopicCamera,
	statebus.TopicDetections,
	statebus.TopicSystem,
	statebus.TopicUSB,
	statebus.TopicSelfCheck,
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// History, when set, supplies recent conversation messages for the
	// cycle context.
	History func() []llm.Message

	// Memory, when set, receives generated thoughts as MAX_THOUGHT
	// transcript entries. Writes are fire and forget.
	Memory *memory.Store
}

// Engine periodically asks the backend for one thought about the
// current state. Cycles with an unchanged detection fingerprint are
// skipped, except every third cycle, so a static scene still produces
// an occasional heartbeat thought.
type Engine struct {
	client llm.Client
	bus    *statebus.Bus
	buffer *Buffer
	opts   EngineOptions
	logger *slog.Logger

	// Cycle state, owned by the single engine worker.
	cycle           int
	lastFingerprint string
}

// NewEngine creates an engine writing into buffer.
func NewEngine(client llm.Client, bus *statebus.Bus, buffer *Buffer, opts EngineOptions, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client: client,
		bus:    bus,
		buffer: buffer,
		opts:   opts,
		logger: logger,
	}
}

// Cycle runs one thought cycle. Intended as a worker tick body.
func (e *Engine) Cycle(ctx context.Context) error {
	e.cycle++

	fingerprint := e.detectionFingerprint()
	if fingerprint == e.lastFingerprint && e.cycle%3 != 0 {
		e.logger.Debug("scene unchanged, skipping cycle", "cycle", e.cycle)
		return nil
	}
	e.lastFingerprint = fingerprint

	messages := []llm.Message{
		{Role: "system", Content: thoughtPrompt},
		{Role: "user", Content: e.buildContext()},
	}
	resp, err := e.client.Chat(ctx, messages, nil)
	if err != nil {
		return fmt.Errorf("thought generation: %w", err)
	}

	t := ParseThought(resp.Content)
	if t.Content == "" {
		e.logger.Debug("empty thought, dropping", "cycle", e.cycle)
		return nil
	}
	e.buffer.Add(t)
	e.logger.Info("new thought",
		"category", t.Category,
		"score", t.SpeakScore,
		"content", t.Content)

	if e.opts.Memory != nil {
		go e.opts.Memory.LogTurn(context.Background(), "MAX_THOUGHT", t.Content)
	}
	return nil
}

// detectionFingerprint reduces the current detection payload to a
// stable string: the sorted set of detected object names. Confidence
// jitter and box coordinates deliberately do not participate.
func (e *Engine) detectionFingerprint() string {
	payload, ok := e.bus.Get(statebus.TopicDetections)
	if !ok {
		return ""
	}
	detections, _ := payload["detections"].([]any)
	names := make([]string, 0, len(detections))
	for _, d := range detections {
		if m, ok := d.(map[string]any); ok {
			if name, _ := m["object"].(string); name != "" {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (e *Engine) buildContext() string {
	var b strings.Builder

	b.WriteString("Current state:\n")
	for _, topic := range contextTopics {
		if payload, ok := e.bus.Get(topic); ok {
			fmt.Fprintf(&b, "  %s: %v\n", topic, payload)
		}
	}

	if e.opts.History != nil {
		if history := e.opts.History(); len(history) > 0 {
			if len(history) > 4 {
				history = history[len(history)-4:]
			}
			b.WriteString("\nRecent conversation:\n")
			for _, m := range history {
				fmt.Fprintf(&b, "  %s: %s\n", m.Role, m.Content)
			}
		}
	}

	// Prior thoughts bias the model away from repeating itself.
	if recent := e.buffer.Recent(3); len(recent) > 0 {
		b.WriteString("\nYour recent thoughts (do not repeat these):\n")
		for _, t := range recent {
			fmt.Fprintf(&b, "  - %s\n", t.Content)
		}
	}
	return b.String()
}

// ParseThought extracts a thought from the model's reply. Malformed or
// missing fields degrade to defaults; only a fully empty reply yields
// a thought with no content.
func ParseThought(text string) Thought {
	category := DefaultCategory
	var content string
	score := -1.0

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "CATEGORY:"):
			c := Category(strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "CATEGORY:"))))
			if ValidCategory(c) {
				category = c
			}
		case strings.HasPrefix(line, "SPEAK_SCORE:"):
			if v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "SPEAK_SCORE:")), 64); err == nil {
				score = v
			}
		case strings.HasPrefix(line, "THOUGHT:"):
			content = strings.TrimSpace(strings.TrimPrefix(line, "THOUGHT:"))
		}
	}

	if content == "" {
		// A reply that ignored the protocol is still a thought.
		content = strings.TrimSpace(text)
	}
	if score < 0 {
		score = Weight(category)
	}
	return NewThought(content, category, score)
}
