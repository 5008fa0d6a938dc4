package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenchat/lumen/internal/chat"
	"github.com/lumenchat/lumen/internal/log"
	"github.com/lumenchat/lumen/internal/stream"
	"github.com/lumenchat/lumen/internal/tools"
)

// scriptRunner plays back a fixed chunk script, one entry per model turn.
type scriptRunner struct {
	turns [][]Chunk
	errs  []error

	mu       sync.Mutex
	requests []Request
	complete string
}

func (r *scriptRunner) Stream(ctx context.Context, req Request, emit func(Chunk) error) error {
	r.mu.Lock()
	turn := len(r.requests)
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	if turn >= len(r.turns) {
		return fmt.Errorf("unexpected turn %d", turn)
	}
	for _, c := range r.turns[turn] {
		if err := emit(c); err != nil {
			return err
		}
	}
	if turn < len(r.errs) {
		return r.errs[turn]
	}
	return nil
}

func (r *scriptRunner) Complete(_ context.Context, _ string) (string, error) {
	return r.complete, nil
}

// collector gathers emitted events. Tool outputs can arrive from executor
// goroutines, so appends are locked.
type collector struct {
	mu     sync.Mutex
	events []stream.Event
}

func (c *collector) emit(e stream.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func newTestEngine(t *testing.T, r Runner, reg *tools.Registry) *Engine {
	t.Helper()
	if reg == nil {
		reg = tools.NewRegistry()
	}
	return New(r, reg, log.NewNop(), Options{MaxTurns: 3, Budget: 5 * time.Second})
}

func userMessage(text string) *chat.Message {
	return &chat.Message{Role: chat.RoleUser, Parts: chat.Parts{&chat.TextPart{Text: text}}}
}

func TestRunTextOnly(t *testing.T) {
	runner := &scriptRunner{turns: [][]Chunk{{
		ReasoningChunk{Text: "thinking"},
		TextChunk{Text: "Hello"},
		TextChunk{Text: ", world"},
	}}}
	e := newTestEngine(t, runner, nil)

	var c collector
	msg, reason, err := e.Run(context.Background(), Input{History: []*chat.Message{userMessage("hi")}}, c.emit)
	require.NoError(t, err)
	assert.Equal(t, stream.ReasonComplete, reason)
	assert.Equal(t, chat.RoleAssistant, msg.Role)
	assert.Equal(t, "Hello, world", msg.Text())

	// Adjacent deltas of the same kind coalesce into one part.
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, chat.PartKindReasoning, msg.Parts[0].Kind())
	assert.Equal(t, chat.PartKindText, msg.Parts[1].Kind())

	require.Len(t, c.events, 3)
	assert.Equal(t, stream.ReasoningDelta{Delta: "thinking"}, c.events[0])
	assert.Equal(t, stream.TextDelta{Delta: "Hello"}, c.events[1])
	assert.Equal(t, stream.TextDelta{Delta: ", world"}, c.events[2])
}

func TestRunToolCallRoundTrip(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.New("lookup", "test lookup",
		map[string]any{"type": "object"},
		func(_ context.Context, in struct {
			Key string `json:"key"`
		}) (map[string]string, error) {
			return map[string]string{"value": "found:" + in.Key}, nil
		},
	)))

	runner := &scriptRunner{turns: [][]Chunk{
		{ToolCallChunk{ID: "call-1", Name: "lookup", Args: json.RawMessage(`{"key":"a"}`)}},
		{TextChunk{Text: "done"}},
	}}
	e := newTestEngine(t, runner, reg)

	var c collector
	msg, reason, err := e.Run(context.Background(), Input{
		History: []*chat.Message{userMessage("look up a")},
		Tools:   []string{"lookup"},
	}, c.emit)
	require.NoError(t, err)
	assert.Equal(t, stream.ReasonComplete, reason)
	assert.Equal(t, "done", msg.Text())

	// The second model turn sees the executed tool's result.
	require.Len(t, runner.requests, 2)
	require.Len(t, runner.requests[1].ToolResults, 1)
	assert.Equal(t, "call-1", runner.requests[1].ToolResults[0].ID)
	assert.JSONEq(t, `{"value":"found:a"}`, string(runner.requests[1].ToolResults[0].Output))

	// Paired lifecycle events, input strictly before output.
	require.Len(t, c.events, 3)
	in, ok := c.events[0].(stream.ToolInput)
	require.True(t, ok)
	assert.Equal(t, "call-1", in.ToolCallID)
	out, ok := c.events[1].(stream.ToolOutput)
	require.True(t, ok)
	assert.Equal(t, "call-1", out.ToolCallID)

	// The persisted part carries the full lifecycle.
	call, ok := msg.Parts[0].(*chat.ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, chat.ToolStateOutputAvailable, call.State)
	assert.JSONEq(t, `{"value":"found:a"}`, string(call.Output))
}

func TestRunToolErrorIsFolded(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.New("flaky", "always fails",
		map[string]any{"type": "object"},
		func(_ context.Context, _ struct{}) (struct{}, error) {
			return struct{}{}, errors.New("backend unreachable")
		},
	)))

	runner := &scriptRunner{turns: [][]Chunk{
		{ToolCallChunk{ID: "call-1", Name: "flaky", Args: json.RawMessage(`{}`)}},
		{TextChunk{Text: "the tool failed"}},
	}}
	e := newTestEngine(t, runner, reg)

	var c collector
	msg, reason, err := e.Run(context.Background(), Input{Tools: []string{"flaky"}}, c.emit)
	require.NoError(t, err)
	assert.Equal(t, stream.ReasonComplete, reason)

	call := msg.Parts[0].(*chat.ToolCallPart)
	assert.Equal(t, chat.ToolStateOutputAvailable, call.State)
	assert.JSONEq(t, `{"error":"backend unreachable"}`, string(call.Output))
}

func TestRunUnregisteredToolIsFolded(t *testing.T) {
	runner := &scriptRunner{turns: [][]Chunk{
		{ToolCallChunk{ID: "call-1", Name: "nonexistent", Args: json.RawMessage(`{}`)}},
		{TextChunk{Text: "ok"}},
	}}
	e := newTestEngine(t, runner, nil)

	var c collector
	msg, reason, err := e.Run(context.Background(), Input{}, c.emit)
	require.NoError(t, err)
	assert.Equal(t, stream.ReasonComplete, reason)

	call := msg.Parts[0].(*chat.ToolCallPart)
	assert.Contains(t, string(call.Output), "not available")
}

// cancelRunner emits partial content and then cancels the generation,
// simulating an explicit stop mid-stream.
type cancelRunner struct {
	cancel context.CancelFunc
}

func (r *cancelRunner) Stream(ctx context.Context, _ Request, emit func(Chunk) error) error {
	if err := emit(TextChunk{Text: "partial answer"}); err != nil {
		return err
	}
	if err := emit(ToolCallChunk{ID: "call-1", Name: "lookup", Args: json.RawMessage(`{}`)}); err != nil {
		return err
	}
	r.cancel()
	return ctx.Err()
}

func (r *cancelRunner) Complete(context.Context, string) (string, error) { return "", nil }

func TestRunStopPreservesPartialContent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newTestEngine(t, &cancelRunner{cancel: cancel}, nil)

	var c collector
	msg, reason, err := e.Run(ctx, Input{}, c.emit)
	require.NoError(t, err)
	assert.Equal(t, stream.ReasonStopped, reason)
	assert.Equal(t, "partial answer", msg.Text())

	// A call still awaiting its result is abandoned, not dropped.
	call := msg.Parts[1].(*chat.ToolCallPart)
	assert.Equal(t, chat.ToolStateAbandoned, call.State)
}

func TestRunModelErrorKeepsPartial(t *testing.T) {
	runner := &scriptRunner{
		turns: [][]Chunk{{TextChunk{Text: "half an"}}},
		errs:  []error{errors.New("upstream 500")},
	}
	e := newTestEngine(t, runner, nil)

	var c collector
	msg, reason, err := e.Run(context.Background(), Input{}, c.emit)
	require.Error(t, err)
	assert.Equal(t, stream.ReasonError, reason)
	assert.Equal(t, "half an", msg.Text())
}

func TestRunTurnBound(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.New("loop", "loops",
		map[string]any{"type": "object"},
		func(_ context.Context, _ struct{}) (struct{}, error) { return struct{}{}, nil },
	)))

	// The model requests a tool on every turn and never concludes.
	turns := make([][]Chunk, 3)
	for i := range turns {
		turns[i] = []Chunk{ToolCallChunk{ID: fmt.Sprintf("call-%d", i), Name: "loop", Args: json.RawMessage(`{}`)}}
	}
	runner := &scriptRunner{turns: turns}
	e := newTestEngine(t, runner, reg)

	var c collector
	msg, reason, err := e.Run(context.Background(), Input{Tools: []string{"loop"}}, c.emit)
	require.NoError(t, err)
	assert.Equal(t, stream.ReasonStopped, reason)
	assert.Len(t, runner.requests, 3)
	assert.Len(t, msg.Parts, 3)
}

func TestGenerateTitle(t *testing.T) {
	e := newTestEngine(t, &scriptRunner{complete: "  \"Streaming Chat Design\"\nextra line\n"}, nil)

	title, err := e.GenerateTitle(context.Background(), "how should I design a streaming chat?")
	require.NoError(t, err)
	assert.Equal(t, "Streaming Chat Design", title)
}

func TestGenerateTitleEmpty(t *testing.T) {
	e := newTestEngine(t, &scriptRunner{complete: "   \n"}, nil)

	_, err := e.GenerateTitle(context.Background(), "hi")
	assert.Error(t, err)
}

func TestTrimHistory(t *testing.T) {
	long := make([]byte, 4000)
	for i := range long {
		long[i] = 'a'
	}
	history := []*chat.Message{
		userMessage(string(long)),
		userMessage("middle"),
		userMessage("latest"),
	}

	trimmed := trimHistory(history, 200)
	require.NotEmpty(t, trimmed)
	assert.Equal(t, "latest", trimmed[len(trimmed)-1].Text())
	assert.Less(t, len(trimmed), len(history))

	// The newest message survives even an impossible budget.
	trimmed = trimHistory(history, 1)
	require.Len(t, trimmed, 1)
	assert.Equal(t, "latest", trimmed[0].Text())
}
