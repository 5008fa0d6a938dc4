// Package stream defines the chat protocol's typed events and their
// SSE wire codec.
//
// Events flow one way, server to client. Each event is encoded as a
// self-delimited SSE frame carrying a single JSON object with a "type"
// discriminator, so a consumer can process events one at a time without
// buffering the whole stream.
package stream

import (
	"encoding/json"

	"github.com/lumenchat/lumen/internal/chat"
)

// Event type discriminators on the wire.
const (
	TypeTextDelta      = "text-delta"
	TypeReasoningDelta = "reasoning-delta"
	TypeToolInput      = "tool-input-available"
	TypeToolOutput     = "tool-output-available"
	TypeAppendMessage  = "data-appendMessage"
	TypeFinish         = "finish"
)

// Finish reasons.
type FinishReason string

const (
	// ReasonComplete signals normal completion.
	ReasonComplete FinishReason = "complete"

	// ReasonStopped signals graceful cancellation (explicit stop or the
	// generation's wall-clock budget); partial content was preserved.
	ReasonStopped FinishReason = "stopped"

	// ReasonError signals abnormal termination.
	ReasonError FinishReason = "error"
)

// Event is one unit pushed through the resumable stream manager.
//
// Concrete types: TextDelta, ReasoningDelta, ToolInput, ToolOutput,
// AppendMessage, Finish, Unknown. The codec matches exhaustively: adding a
// new event type without teaching Encode about it is a compile-visible
// omission, not a silent drop.
type Event interface {
	isEvent()
}

// TextDelta carries a fragment of the final answer text.
type TextDelta struct {
	Delta string `json:"delta"`
}

// ReasoningDelta carries a fragment of model thinking text.
type ReasoningDelta struct {
	Delta string `json:"delta"`
}

// ToolInput signals that the model decided to call a tool. It is emitted
// synchronously, before the tool's async work starts.
type ToolInput struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input"`
}

// ToolOutput carries a tool invocation's result (or error payload). Exactly
// one ToolOutput follows each ToolInput with the same ToolCallID.
type ToolOutput struct {
	ToolCallID string          `json:"toolCallId"`
	Output     json.RawMessage `json:"output"`
}

// AppendMessage is a side-channel signal instructing the client to append a
// full persisted message. It is how a reconnect after completion replays the
// result as one atomic append; the client merge must be idempotent by
// message ID.
type AppendMessage struct {
	Message   *chat.Message `json:"data"`
	Transient bool          `json:"transient"`
}

// Finish is the terminal event. It fires exactly once per stream handle.
type Finish struct {
	Reason FinishReason `json:"reason"`
}

// Unknown is produced by Decode for frames whose type this build does not
// recognize. Consumers must treat it as ignorable, not fatal.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (TextDelta) isEvent()      {}
func (ReasoningDelta) isEvent() {}
func (ToolInput) isEvent()      {}
func (ToolOutput) isEvent()     {}
func (AppendMessage) isEvent()  {}
func (Finish) isEvent()         {}
func (Unknown) isEvent()        {}
