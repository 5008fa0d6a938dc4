package engine

import (
	"context"
	"encoding/json"

	"github.com/lumenchat/lumen/internal/chat"
	"github.com/lumenchat/lumen/internal/tools"
)

// Chunk is one unit produced by a model completion stream.
//
// Concrete types: TextChunk, ReasoningChunk, ToolCallChunk. The engine
// switches exhaustively; a new chunk kind has to be handled explicitly.
type Chunk interface {
	isChunk()
}

// TextChunk is a fragment of final answer text.
type TextChunk struct {
	Text string
}

// ReasoningChunk is a fragment of model thinking text.
type ReasoningChunk struct {
	Text string
}

// ToolCallChunk is a complete tool invocation request from the model. The
// ID is assigned by the model provider and pairs the call with its result.
type ToolCallChunk struct {
	ID   string
	Name string
	Args json.RawMessage
}

func (TextChunk) isChunk()      {}
func (ReasoningChunk) isChunk() {}
func (ToolCallChunk) isChunk()  {}

// ToolResult feeds one executed tool call back to the model on the next
// turn.
type ToolResult struct {
	ID     string
	Name   string
	Output json.RawMessage
}

// Request is one model turn: the system prompt, the conversation so far,
// the tools the model may call, and the results of any calls it made on
// the previous turn.
type Request struct {
	System      string
	Messages    []*chat.Message
	Tools       []tools.Declaration
	ToolResults []ToolResult
}

// Runner abstracts the model provider.
//
// Stream runs one completion turn, invoking emit for every chunk in the
// order the model produced them. Emit is called from a single goroutine.
// Stream returns once the model's turn is complete or ctx is done.
//
// Complete runs a small non-streaming completion, used for side tasks such
// as naming a chat.
type Runner interface {
	Stream(ctx context.Context, req Request, emit func(Chunk) error) error
	Complete(ctx context.Context, prompt string) (string, error)
}
