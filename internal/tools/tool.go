// Package tools provides the tool executor registry for the generation
// engine.
//
// A tool executor is a named, independently invocable async operation the
// model may request zero or more times during one generation. Executors only
// run work; the paired input/output lifecycle events are emitted by the
// engine, and executor failures are folded into the tool output payload
// rather than aborting the turn.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Declaration describes a tool to the model.
type Declaration struct {
	Name        string
	Description string

	// InputSchema is a JSON-schema object describing the input, in the
	// shape model APIs accept ({"type":"object","properties":{...}}).
	InputSchema map[string]any
}

// Executor is a single invocable tool.
//
// Execute receives the model-provided input as raw JSON and returns the
// output as raw JSON. Each invocation is independent; there is no ordering
// guarantee between two different tools.
type Executor interface {
	Declaration() Declaration
	Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// tool is the type-erased Executor built by New.
type tool struct {
	decl    Declaration
	handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

func (t *tool) Declaration() Declaration { return t.decl }

func (t *tool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return t.handler(ctx, input)
}

// New creates an Executor with type-safe input and output handling.
//
// Type safety is guaranteed at compile time via [In, Out]; type erasure is
// performed internally so heterogeneous tools share one registry.
//
// Example:
//
//	searchTool := tools.New(
//	    "web_search",
//	    "Search the web for current information.",
//	    schema,
//	    func(ctx context.Context, in SearchInput) (SearchOutput, error) { ... },
//	)
func New[In, Out any](
	name, description string,
	inputSchema map[string]any,
	handler func(ctx context.Context, input In) (Out, error),
) Executor {
	return &tool{
		decl: Declaration{Name: name, Description: description, InputSchema: inputSchema},
		handler: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var in In
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, fmt.Errorf("invalid input for tool %s: %w", name, err)
				}
			}
			out, err := handler(ctx, in)
			if err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(out)
			if err != nil {
				return nil, fmt.Errorf("encoding output of tool %s: %w", name, err)
			}
			return encoded, nil
		},
	}
}
