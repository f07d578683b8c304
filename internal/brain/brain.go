// Package brain is the orchestrator. It owns the conversation history,
// builds the model's working context from the live state bus and
// long-term memory, and resolves tool calls requested by the reasoning
// backend in a bounded loop.
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/llm"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/memory"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/skills"
)

// Options configures a Brain.
type Options struct {
	SystemPrompt string

	// MaxHistory is the number of turns kept; the message list is
	// trimmed to MaxHistory*2 entries after each turn.
	MaxHistory int

	// MaxToolRounds caps tool-resolution iterations per turn. When the
	// cap is reached the last backend response is final even if it
	// still requests tools.
	MaxToolRounds int

	// LiveContext, when set, returns a textual snapshot of current
	// sensor state, injected into the system prompt each turn.
	LiveContext func() string

	// Memory, when set, contributes a long-term context summary and
	// receives turn transcripts. Writes are fire and forget.
	Memory *memory.Store
}

// Brain runs user turns against a reasoning backend.
type Brain struct {
	client   llm.Client
	registry *skills.Registry
	opts     Options
	logger   *slog.Logger

	// turnMu serializes turns. It is never held across history reads
	// by other goroutines; the thought engine samples history while a
	// turn is blocked on backend I/O.
	turnMu sync.Mutex

	// histMu guards history alone and is held only for the copy or
	// append, never across a backend call.
	histMu  sync.Mutex
	history []llm.Message
}

// New creates a Brain. The registry may be empty but not nil.
func New(client llm.Client, registry *skills.Registry, opts Options, logger *slog.Logger) *Brain {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 10
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Brain{
		client:   client,
		registry: registry,
		opts:     opts,
		logger:   logger,
	}
}

// Think runs one complete turn and returns the final answer. Backend
// failure ends the turn with an error-text answer rather than an
// error; the conversation stays usable.
func (b *Brain) Think(ctx context.Context, input string) string {
	b.turnMu.Lock()
	defer b.turnMu.Unlock()

	final, _ := b.turn(ctx, input)
	b.record(ctx, input, final)
	return final
}

// ThinkStream runs one turn, delivering the final answer through
// callback. A turn that resolved tool calls emits its answer as a
// single fragment; a clean turn re-queries the backend in streaming
// mode so fragments arrive live.
func (b *Brain) ThinkStream(ctx context.Context, input string, callback llm.StreamCallback) string {
	b.turnMu.Lock()
	defer b.turnMu.Unlock()

	messages := b.buildMessages(input)

	resp, err := b.client.Chat(ctx, messages, b.registry.Definitions())
	if err != nil {
		final := backendFailureText(err)
		b.logger.Error("backend call failed", "error", err)
		callback(final)
		b.record(ctx, input, final)
		return final
	}

	var final string
	if len(resp.ToolCalls) == 0 {
		// No tools needed. The decision probe above cannot stream, so
		// ask again in streaming mode for live fragments.
		streamResp, err := b.client.ChatStream(ctx, messages, callback)
		if err != nil {
			b.logger.Error("streaming call failed", "error", err)
			final = resp.Content
			callback(final)
		} else {
			final = streamResp.Content
		}
	} else {
		final, err = b.resolveTools(ctx, messages, resp)
		if err != nil {
			final = backendFailureText(err)
			b.logger.Error("backend call failed", "error", err)
		}
		callback(final)
	}

	b.record(ctx, input, final)
	return final
}

func (b *Brain) turn(ctx context.Context, input string) (string, error) {
	messages := b.buildMessages(input)

	resp, err := b.client.Chat(ctx, messages, b.registry.Definitions())
	if err != nil {
		b.logger.Error("backend call failed", "error", err)
		return backendFailureText(err), err
	}
	if len(resp.ToolCalls) == 0 {
		return resp.Content, nil
	}

	final, err := b.resolveTools(ctx, messages, resp)
	if err != nil {
		b.logger.Error("backend call failed", "error", err)
		return backendFailureText(err), err
	}
	return final, nil
}

// resolveTools executes requested tool calls and re-queries until the
// backend stops asking or the round cap is hit.
func (b *Brain) resolveTools(ctx context.Context, messages []llm.Message, resp *llm.ChatResponse) (string, error) {
	for round := 0; round < b.opts.MaxToolRounds; round++ {
		b.logger.Debug("resolving tool calls", "round", round+1, "count", len(resp.ToolCalls))

		results := make([]string, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			results = append(results, b.invokeOne(ctx, call))
		}

		messages = append(messages,
			llm.Message{Role: "assistant", Content: "(calling tools)", ToolCalls: resp.ToolCalls},
			llm.Message{Role: "user", Content: "Tool results:\n" + strings.Join(results, "\n")},
		)

		next, err := b.client.Chat(ctx, messages, b.registry.Definitions())
		if err != nil {
			return "", err
		}
		resp = next
		if len(resp.ToolCalls) == 0 {
			break
		}
	}
	// Cap exhaustion: whatever the backend last said is the answer.
	return resp.Content, nil
}

// invokeOne runs a single tool call, containing its failure as a
// failed result line instead of aborting the turn.
func (b *Brain) invokeOne(ctx context.Context, call llm.ToolCall) string {
	b.logger.Info("invoking skill", "skill", call.Name, "args", call.Arguments)
	result, err := b.registry.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		b.logger.Warn("skill failed", "skill", call.Name, "error", err)
		return fmt.Sprintf("%s: ERROR: %v", call.Name, err)
	}
	if b.opts.Memory != nil {
		go b.opts.Memory.LogCommand(context.Background(), call.Name, result)
	}
	return fmt.Sprintf("%s: %s", call.Name, result)
}

func (b *Brain) buildMessages(input string) []llm.Message {
	var system strings.Builder
	system.WriteString(b.opts.SystemPrompt)
	if b.opts.LiveContext != nil {
		if live := b.opts.LiveContext(); live != "" {
			system.WriteString("\n\nCurrent sensor state:\n")
			system.WriteString(live)
		}
	}
	if b.opts.Memory != nil {
		if summary := b.opts.Memory.ContextSummary(context.Background()); summary != "" {
			system.WriteString("\n\n")
			system.WriteString(summary)
		}
	}

	b.histMu.Lock()
	messages := make([]llm.Message, 0, len(b.history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: system.String()})
	messages = append(messages, b.history...)
	b.histMu.Unlock()
	messages = append(messages, llm.Message{Role: "user", Content: input})
	return messages
}

// record appends the completed turn to history, trims it, and mirrors
// it to long-term memory.
func (b *Brain) record(ctx context.Context, input, answer string) {
	b.histMu.Lock()
	b.history = append(b.history,
		llm.Message{Role: "user", Content: input},
		llm.Message{Role: "assistant", Content: answer},
	)
	if max := b.opts.MaxHistory * 2; len(b.history) > max {
		b.history = b.history[len(b.history)-max:]
	}
	b.histMu.Unlock()

	if b.opts.Memory != nil {
		go func() {
			b.opts.Memory.LogTurn(context.Background(), "USER", input)
			b.opts.Memory.LogTurn(context.Background(), "MAX", answer)
		}()
	}
}

// History returns a copy of the conversation history.
func (b *Brain) History() []llm.Message {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	out := make([]llm.Message, len(b.history))
	copy(out, b.history)
	return out
}

func backendFailureText(err error) string {
	return fmt.Sprintf("I couldn't reach my reasoning backend: %v", err)
}
