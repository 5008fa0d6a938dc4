// Package engine drives one chat generation: it streams model turns,
// executes requested tools, folds their outputs back into the model's
// context, and assembles the final assistant message.
//
// The engine is transport-agnostic. It reports progress through typed
// events and leaves persistence and fan-out to the caller.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lumenchat/lumen/internal/chat"
	"github.com/lumenchat/lumen/internal/log"
	"github.com/lumenchat/lumen/internal/stream"
	"github.com/lumenchat/lumen/internal/tools"
)

// Options tune a generation run.
type Options struct {
	// MaxTurns bounds the model/tool round trips in one generation. When
	// the bound is hit the generation stops gracefully, keeping whatever
	// content was produced.
	MaxTurns int

	// Budget is the wall-clock limit for the whole generation, covering
	// model turns and tool execution together.
	Budget time.Duration

	// HistoryTokens bounds the conversation history sent to the model.
	// Oldest messages are dropped first; the latest message always stays.
	HistoryTokens int

	// RequestsPerSecond throttles model calls. Zero disables throttling.
	RequestsPerSecond float64
}

// Engine runs generations against a Runner and a tool registry.
type Engine struct {
	runner   Runner
	registry *tools.Registry
	logger   log.Logger
	opts     Options
	limiter  *rate.Limiter
}

// New creates an Engine. Zero option fields fall back to safe defaults.
func New(runner Runner, registry *tools.Registry, logger log.Logger, opts Options) *Engine {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 5
	}
	if opts.Budget <= 0 {
		opts.Budget = 2 * time.Minute
	}
	if opts.HistoryTokens <= 0 {
		opts.HistoryTokens = 64000
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Engine{
		runner:   runner,
		registry: registry,
		logger:   logger,
		opts:     opts,
		limiter:  limiter,
	}
}

// Input describes one generation.
type Input struct {
	System  string
	History []*chat.Message

	// Tools names the registered executors the model may call. Names with
	// no registered executor are silently unavailable to the model.
	Tools []string
}

// Run executes the generation state machine until the model finishes a
// turn without requesting tools, the turn bound is hit, or ctx ends.
//
// Run always returns the assembled assistant message, even on stop or
// error, so partial content survives. Cancellation (explicit stop or the
// wall-clock budget) is not an error: it yields ReasonStopped with a nil
// error, and any tool call still awaiting its output is marked abandoned.
func (e *Engine) Run(ctx context.Context, in Input, emit func(stream.Event)) (*chat.Message, stream.FinishReason, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Budget)
	defer cancel()

	msg := &chat.Message{Role: chat.RoleAssistant}
	decls := e.registry.Declarations(in.Tools)
	history := trimHistory(in.History, e.opts.HistoryTokens)

	var results []ToolResult
	for turn := 0; turn < e.opts.MaxTurns; turn++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return e.settle(msg, err)
			}
		}

		calls, err := e.streamTurn(ctx, Request{
			System:      in.System,
			Messages:    history,
			Tools:       decls,
			ToolResults: results,
		}, msg, emit)
		if err != nil {
			return e.settle(msg, err)
		}

		if len(calls) == 0 {
			return msg, stream.ReasonComplete, nil
		}

		results, err = e.invokeTools(ctx, calls, emit)
		if err != nil {
			return e.settle(msg, err)
		}
	}

	e.logger.Warn("generation hit turn bound", "max_turns", e.opts.MaxTurns)
	abandonPending(msg)
	return msg, stream.ReasonStopped, nil
}

// streamTurn runs one model turn, appending streamed content to msg and
// returning the tool calls the model requested, in request order.
func (e *Engine) streamTurn(ctx context.Context, req Request, msg *chat.Message, emit func(stream.Event)) ([]*chat.ToolCallPart, error) {
	var (
		calls     []*chat.ToolCallPart
		curText   *chat.TextPart
		curReason *chat.ReasoningPart
	)

	err := e.runner.Stream(ctx, req, func(c Chunk) error {
		switch c := c.(type) {
		case TextChunk:
			if curText == nil {
				curText = &chat.TextPart{}
				msg.Parts = append(msg.Parts, curText)
			}
			curReason = nil
			curText.Text += c.Text
			emit(stream.TextDelta{Delta: c.Text})
		case ReasoningChunk:
			if curReason == nil {
				curReason = &chat.ReasoningPart{}
				msg.Parts = append(msg.Parts, curReason)
			}
			curText = nil
			curReason.Text += c.Text
			emit(stream.ReasoningDelta{Delta: c.Text})
		case ToolCallChunk:
			curText, curReason = nil, nil
			part := &chat.ToolCallPart{
				ToolCallID: c.ID,
				ToolName:   c.Name,
				State:      chat.ToolStateInputAvailable,
				Input:      c.Args,
			}
			msg.Parts = append(msg.Parts, part)
			calls = append(calls, part)
			emit(stream.ToolInput{ToolCallID: c.ID, ToolName: c.Name, Input: c.Args})
		default:
			return fmt.Errorf("unhandled chunk type %T", c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return calls, nil
}

// invokeTools executes the turn's tool calls concurrently. Executor
// failures do not abort the generation: the error is folded into the
// tool's output payload so the model can react to it. Only ctx ending
// aborts, leaving unfinished calls in their pending state.
func (e *Engine) invokeTools(ctx context.Context, calls []*chat.ToolCallPart, emit func(stream.Event)) ([]ToolResult, error) {
	var mu sync.Mutex
	results := make([]ToolResult, 0, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for _, call := range calls {
		g.Go(func() error {
			output := e.execute(gctx, call)
			if gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			call.Output = output
			if err := call.Advance(chat.ToolStateOutputAvailable); err != nil {
				return err
			}
			emit(stream.ToolOutput{ToolCallID: call.ToolCallID, Output: output})
			results = append(results, ToolResult{ID: call.ToolCallID, Name: call.ToolName, Output: output})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// execute runs one tool call and returns its output payload, folding any
// failure into an error payload.
func (e *Engine) execute(ctx context.Context, call *chat.ToolCallPart) json.RawMessage {
	exec := e.registry.Lookup(call.ToolName)
	if exec == nil {
		e.logger.Warn("model requested unregistered tool", "tool", call.ToolName)
		return errorPayload(fmt.Sprintf("tool %s is not available", call.ToolName))
	}

	start := time.Now()
	out, err := exec.Execute(ctx, call.Input)
	if err != nil {
		e.logger.Warn("tool execution failed",
			"tool", call.ToolName,
			"tool_call_id", call.ToolCallID,
			"duration", time.Since(start),
			"error", err,
		)
		return errorPayload(err.Error())
	}

	e.logger.Debug("tool executed",
		"tool", call.ToolName,
		"tool_call_id", call.ToolCallID,
		"duration", time.Since(start),
	)
	return out
}

func errorPayload(msg string) json.RawMessage {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	return payload
}

// settle classifies a run-ending error. Cancellation and the wall-clock
// budget are graceful stops, everything else is an error finish. Either
// way the partial message is kept and pending tool calls are abandoned.
func (e *Engine) settle(msg *chat.Message, err error) (*chat.Message, stream.FinishReason, error) {
	abandonPending(msg)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return msg, stream.ReasonStopped, nil
	}
	return msg, stream.ReasonError, err
}

func abandonPending(msg *chat.Message) {
	for _, p := range msg.Parts {
		if call, ok := p.(*chat.ToolCallPart); ok && call.State == chat.ToolStateInputAvailable {
			call.State = chat.ToolStateAbandoned
		}
	}
}
