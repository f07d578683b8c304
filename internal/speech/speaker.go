// Package speech defines the text-to-speech collaborator surface and a
// default implementation that shells out to a local TTS command. The
// synthesis engine itself is external; this package only queues text,
// runs the command, and supports interruption.
package speech

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
)

// Speaker is the contract consumed by the free-talk scheduler and the
// brain's streaming sentence flush.
type Speaker interface {
	// Speak queues text for playback and returns immediately.
	Speak(text string)
	// SpeakBlocking plays text and returns when playback finishes.
	SpeakBlocking(text string)
	// Interrupt stops in-progress playback and drops queued text.
	Interrupt()
}

// Null is a Speaker that discards everything. Used in headless mode
// and in tests.
type Null struct{}

func (Null) Speak(string)         {}
func (Null) SpeakBlocking(string) {}
func (Null) Interrupt()           {}

// queueSize bounds pending utterances; beyond it, Speak drops the text
// rather than block the caller.
const queueSize = 16

// ExecSpeaker speaks by running an external TTS command with the text
// as its final argument. A single worker goroutine drains the queue so
// utterances never overlap.
type ExecSpeaker struct {
	command string
	logger  *slog.Logger

	queue chan string

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewExecSpeaker creates a speaker and starts its playback goroutine.
// The goroutine exits when ctx is cancelled.
func NewExecSpeaker(ctx context.Context, command string, logger *slog.Logger) *ExecSpeaker {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ExecSpeaker{
		command: command,
		logger:  logger,
		queue:   make(chan string, queueSize),
	}
	go s.run(ctx)
	return s
}

// Speak queues text without blocking. If the queue is full the text is
// dropped; autonomous chatter must never back-pressure the caller.
func (s *ExecSpeaker) Speak(text string) {
	if text == "" {
		return
	}
	select {
	case s.queue <- text:
	default:
		s.logger.Debug("speech queue full, dropping utterance", "len", len(text))
	}
}

// SpeakBlocking plays text synchronously, bypassing the queue.
func (s *ExecSpeaker) SpeakBlocking(text string) {
	if text == "" {
		return
	}
	s.play(context.Background(), text)
}

// Interrupt kills the playing command, if any. Queued utterances are
// drained as well so stale thoughts do not resume afterward.
func (s *ExecSpeaker) Interrupt() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}

func (s *ExecSpeaker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.queue:
			s.play(ctx, text)
		}
	}
}

func (s *ExecSpeaker) play(ctx context.Context, text string) {
	playCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(playCtx, s.command, text)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if err := cmd.Run(); err != nil && playCtx.Err() == nil {
		s.logger.Warn("tts command failed", "command", s.command, "error", err)
	}

	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()
	cancel()
}
