package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/llm"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/skills"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
)

// stubClient scripts Chat responses and records every call's messages.
type stubClient struct {
	responses []*llm.ChatResponse
	err       error
	calls     [][]llm.Message
	streamed  int
}

func (s *stubClient) Chat(ctx context.Context, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	s.calls = append(s.calls, messages)
	if s.err != nil {
		return nil, s.err
	}
	i := len(s.calls) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func (s *stubClient) ChatStream(ctx context.Context, messages []llm.Message, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	s.streamed++
	if s.err != nil {
		return nil, s.err
	}
	last := s.responses[len(s.responses)-1]
	for _, token := range strings.SplitAfter(last.Content, " ") {
		callback(token)
	}
	return last, nil
}

func (s *stubClient) Ping(ctx context.Context) error { return s.err }

func toolResponse(names ...string) *llm.ChatResponse {
	resp := &llm.ChatResponse{}
	for _, n := range names {
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{Name: n, Arguments: map[string]any{}})
	}
	return resp
}

func countingRegistry(t *testing.T, invocations *int) *skills.Registry {
	t.Helper()
	r := skills.NewRegistry(nil)
	r.Register(&skills.Skill{
		Name: "probe",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			*invocations++
			return "probed", nil
		},
	})
	return r
}

func TestThinkNoTools(t *testing.T) {
	client := &stubClient{responses: []*llm.ChatResponse{{Content: "hello there"}}}
	b := New(client, skills.NewRegistry(nil), Options{}, nil)

	got := b.Think(context.Background(), "hi")
	if got != "hello there" {
		t.Errorf("answer = %q", got)
	}
	if len(client.calls) != 1 {
		t.Errorf("backend called %d times, want 1", len(client.calls))
	}
}

func TestThinkRunsExactlyKToolRounds(t *testing.T) {
	var invocations int
	client := &stubClient{responses: []*llm.ChatResponse{
		toolResponse("probe"),
		toolResponse("probe"),
		{Content: "all done"},
	}}
	b := New(client, countingRegistry(t, &invocations), Options{MaxToolRounds: 5}, nil)

	got := b.Think(context.Background(), "go")
	if got != "all done" {
		t.Errorf("answer = %q, want the post-tools response", got)
	}
	if invocations != 2 {
		t.Errorf("invocations = %d, want 2", invocations)
	}
	if len(client.calls) != 3 {
		t.Errorf("backend calls = %d, want 3", len(client.calls))
	}
}

func TestThinkStopsAtRoundCap(t *testing.T) {
	var invocations int
	// Backend never stops asking for tools.
	resp := toolResponse("probe")
	resp.Content = "still want tools"
	client := &stubClient{responses: []*llm.ChatResponse{resp}}
	b := New(client, countingRegistry(t, &invocations), Options{MaxToolRounds: 3}, nil)

	got := b.Think(context.Background(), "go")
	if got != "still want tools" {
		t.Errorf("answer = %q, want the capped response text", got)
	}
	if invocations != 3 {
		t.Errorf("invocations = %d, want exactly the cap", invocations)
	}
	// Initial query plus one per round.
	if len(client.calls) != 4 {
		t.Errorf("backend calls = %d, want 4", len(client.calls))
	}
}

func TestThinkToolFailureIsContained(t *testing.T) {
	r := skills.NewRegistry(nil)
	r.Register(&skills.Skill{
		Name: "explode",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("bang")
		},
	})
	client := &stubClient{responses: []*llm.ChatResponse{
		toolResponse("explode"),
		{Content: "recovered"},
	}}
	b := New(client, r, Options{}, nil)

	got := b.Think(context.Background(), "go")
	if got != "recovered" {
		t.Errorf("answer = %q, want the turn to survive the tool failure", got)
	}
	// The failure must be fed back to the backend as a failed result.
	secondCall := client.calls[1]
	results := secondCall[len(secondCall)-1].Content
	if !strings.Contains(results, "explode: ERROR: bang") {
		t.Errorf("tool results = %q, want failed result line", results)
	}
}

func TestThinkBackendFailure(t *testing.T) {
	client := &stubClient{err: errors.New("connection refused")}
	b := New(client, skills.NewRegistry(nil), Options{}, nil)

	got := b.Think(context.Background(), "hi")
	if !strings.Contains(got, "connection refused") {
		t.Errorf("answer = %q, want error text", got)
	}
	// The failed turn still lands in history.
	if h := b.History(); len(h) != 2 {
		t.Errorf("history = %d entries, want 2", len(h))
	}
}

func TestHistoryTrimmedToMaxHistory(t *testing.T) {
	client := &stubClient{responses: []*llm.ChatResponse{{Content: "ok"}}}
	b := New(client, skills.NewRegistry(nil), Options{MaxHistory: 3}, nil)

	for i := 0; i < 10; i++ {
		b.Think(context.Background(), fmt.Sprintf("turn %d", i))
	}

	h := b.History()
	if len(h) != 6 {
		t.Fatalf("history = %d entries, want 6", len(h))
	}
	if h[0].Content != "turn 7" {
		t.Errorf("oldest entry = %q, want oldest kept turn", h[0].Content)
	}
	if h[5].Role != "assistant" {
		t.Errorf("newest entry role = %q, want assistant", h[5].Role)
	}
}

func TestThinkStreamCleanTurnStreams(t *testing.T) {
	client := &stubClient{responses: []*llm.ChatResponse{{Content: "streamed answer"}}}
	b := New(client, skills.NewRegistry(nil), Options{}, nil)

	var fragments []string
	got := b.ThinkStream(context.Background(), "hi", func(tok string) {
		fragments = append(fragments, tok)
	})
	if got != "streamed answer" {
		t.Errorf("answer = %q", got)
	}
	if client.streamed != 1 {
		t.Errorf("streaming calls = %d, want 1", client.streamed)
	}
	if len(fragments) < 2 {
		t.Errorf("fragments = %d, want live token delivery", len(fragments))
	}
}

func TestThinkStreamToolTurnEmitsSingleUnit(t *testing.T) {
	var invocations int
	client := &stubClient{responses: []*llm.ChatResponse{
		toolResponse("probe"),
		{Content: "tool-resolved answer"},
	}}
	b := New(client, countingRegistry(t, &invocations), Options{}, nil)

	var fragments []string
	got := b.ThinkStream(context.Background(), "go", func(tok string) {
		fragments = append(fragments, tok)
	})
	if got != "tool-resolved answer" {
		t.Errorf("answer = %q", got)
	}
	if client.streamed != 0 {
		t.Errorf("streaming calls = %d, want 0 after tool resolution", client.streamed)
	}
	if len(fragments) != 1 || fragments[0] != "tool-resolved answer" {
		t.Errorf("fragments = %v, want one complete unit", fragments)
	}
	if invocations != 1 {
		t.Errorf("invocations = %d, want 1", invocations)
	}
}

// blockingClient parks in Chat until released, signalling entry.
type blockingClient struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingClient) Chat(ctx context.Context, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	close(c.entered)
	<-c.release
	return &llm.ChatResponse{Content: "done"}, nil
}

func (c *blockingClient) ChatStream(ctx context.Context, messages []llm.Message, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	return c.Chat(ctx, messages, nil)
}

func (c *blockingClient) Ping(ctx context.Context) error { return nil }

func TestHistoryReadableDuringInFlightTurn(t *testing.T) {
	client := &blockingClient{entered: make(chan struct{}), release: make(chan struct{})}
	b := New(client, skills.NewRegistry(nil), Options{}, nil)

	turnDone := make(chan struct{})
	go func() {
		b.Think(context.Background(), "slow question")
		close(turnDone)
	}()
	<-client.entered

	// The turn is parked inside the backend call. History must still
	// answer; other workers sample it on their own schedule.
	read := make(chan []llm.Message, 1)
	go func() { read <- b.History() }()
	select {
	case h := <-read:
		if len(h) != 0 {
			t.Errorf("history = %d entries mid-turn, want 0", len(h))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("History() blocked behind an in-flight backend call")
	}

	close(client.release)
	<-turnDone
	if h := b.History(); len(h) != 2 {
		t.Errorf("history = %d entries after the turn, want 2", len(h))
	}
}

// echoClient reflects the injected system prompt back, so the test can
// assert live state reached the model.
type echoClient struct{}

func (echoClient) Chat(ctx context.Context, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: "I can see: " + messages[0].Content}, nil
}
func (e echoClient) ChatStream(ctx context.Context, messages []llm.Message, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	return e.Chat(ctx, messages, nil)
}
func (echoClient) Ping(ctx context.Context) error { return nil }

func TestLiveStateReachesTheModel(t *testing.T) {
	bus := statebus.New(nil)
	bus.Publish(statebus.TopicDetections, statebus.Payload{
		"detections": []any{map[string]any{"object": "person"}},
	})

	b := New(echoClient{}, skills.NewRegistry(nil), Options{
		SystemPrompt: "You are Max.",
		LiveContext: func() string {
			payload, _ := bus.Get(statebus.TopicDetections)
			return fmt.Sprintf("%v", payload)
		},
	}, nil)

	got := b.Think(context.Background(), "what do you see")
	if !strings.Contains(got, "person") {
		t.Errorf("answer = %q, want detection visible to the model", got)
	}
}
