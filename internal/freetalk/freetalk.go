// Package freetalk decides when Max speaks without being asked. It
// polls the thought buffer on a timer and voices the best recent
// unspoken thought, throttled and suppressed while the user talks.
package freetalk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/speech"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/thought"
)

// speakThreshold is the minimum speak score a thought needs to be
// voiced autonomously.
const speakThreshold = 0.5

// recencyGrace extends the eligibility window past the throttle
// interval, so a thought generated just before a throttled period is
// not lost to it.
const recencyGrace = 10 * time.Second

// Controller schedules autonomous speech.
type Controller struct {
	buffer      *thought.Buffer
	speaker     speech.Speaker
	minInterval time.Duration
	logger      *slog.Logger

	mu           sync.Mutex
	lastSpoken   time.Time
	userSpeaking bool
	paused       bool

	now func() time.Time // test hook
}

// New creates a controller over buffer voicing through speaker.
func New(buffer *thought.Buffer, speaker speech.Speaker, minInterval time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		buffer:      buffer,
		speaker:     speaker,
		minInterval: minInterval,
		logger:      logger,
		now:         time.Now,
	}
}

// SetUserSpeaking signals whether the user is currently talking. While
// true, no autonomous speech is selected.
func (c *Controller) SetUserSpeaking(speaking bool) {
	c.mu.Lock()
	c.userSpeaking = speaking
	c.mu.Unlock()
}

// Pause suppresses autonomous speech, typically for the duration of a
// brain turn.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume lifts a Pause.
func (c *Controller) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Tick evaluates the buffer once and speaks at most one thought.
// Intended as a worker tick body; it never returns an error.
func (c *Controller) Tick(ctx context.Context) error {
	chosen, ok := c.pick()
	if !ok {
		return nil
	}

	c.logger.Info("speaking autonomous thought",
		"category", chosen.Category,
		"score", chosen.SpeakScore,
		"content", chosen.Content)
	c.speaker.SpeakBlocking(chosen.Content)

	c.buffer.MarkSpoken(chosen.ID)
	c.mu.Lock()
	c.lastSpoken = c.now()
	c.mu.Unlock()
	return nil
}

// pick selects the highest-scored eligible thought, most recent on
// ties, or reports that nothing should be said right now.
func (c *Controller) pick() (thought.Thought, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.userSpeaking || c.paused {
		return thought.Thought{}, false
	}
	if !c.lastSpoken.IsZero() && c.now().Sub(c.lastSpoken) < c.minInterval {
		return thought.Thought{}, false
	}

	eligible := c.buffer.Speakable(c.minInterval+recencyGrace, speakThreshold)
	if len(eligible) == 0 {
		return thought.Thought{}, false
	}

	// Speakable returns newest last; >= keeps the most recent of a
	// tied score.
	best := eligible[0]
	for _, t := range eligible[1:] {
		if t.SpeakScore >= best.SpeakScore {
			best = t
		}
	}
	return best, true
}
