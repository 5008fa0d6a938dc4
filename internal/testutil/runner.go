package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/lumenchat/lumen/internal/engine"
)

// ScriptedRunner is an engine.Runner that plays back a fixed script, one
// chunk slice per model turn. It records every request it receives so
// tests can assert what context reached the model.
type ScriptedRunner struct {
	// Turns holds the chunks to emit per turn, in order.
	Turns [][]engine.Chunk

	// Title is returned by Complete.
	Title string

	mu       sync.Mutex
	requests []engine.Request
}

// Stream implements engine.Runner.
func (r *ScriptedRunner) Stream(_ context.Context, req engine.Request, emit func(engine.Chunk) error) error {
	r.mu.Lock()
	turn := len(r.requests)
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	if turn >= len(r.Turns) {
		return fmt.Errorf("scripted runner: unexpected turn %d", turn)
	}
	for _, c := range r.Turns[turn] {
		if err := emit(c); err != nil {
			return err
		}
	}
	return nil
}

// Complete implements engine.Runner.
func (r *ScriptedRunner) Complete(context.Context, string) (string, error) {
	if r.Title == "" {
		return "Test Chat", nil
	}
	return r.Title, nil
}

// Requests returns a copy of the recorded model requests.
func (r *ScriptedRunner) Requests() []engine.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Request(nil), r.requests...)
}
