package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lumenchat/lumen/internal/chat"
)

// ErrMalformedFrame indicates a frame that could not be decoded. The caller
// decides whether to drop the frame or abort; decoding one bad frame must
// not tear down the connection.
var ErrMalformedFrame = errors.New("malformed stream frame")

var (
	framePrefix = []byte("data: ")
	frameSuffix = []byte("\n\n")
)

// envelope is the JSON object inside a frame. Only Type is fixed; the
// payload shape depends on the type.
type envelope struct {
	Type string `json:"type"`

	Delta      string          `json:"delta,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Data       *chat.Message   `json:"data,omitempty"`
	Transient  bool            `json:"transient,omitempty"`
	Reason     FinishReason    `json:"reason,omitempty"`
}

// Encode serializes an event into one self-delimited SSE frame:
// "data: {json}\n\n".
func Encode(e Event) ([]byte, error) {
	var env envelope
	switch v := e.(type) {
	case TextDelta:
		env = envelope{Type: TypeTextDelta, Delta: v.Delta}
	case ReasoningDelta:
		env = envelope{Type: TypeReasoningDelta, Delta: v.Delta}
	case ToolInput:
		env = envelope{Type: TypeToolInput, ToolCallID: v.ToolCallID, ToolName: v.ToolName, Input: v.Input}
	case ToolOutput:
		env = envelope{Type: TypeToolOutput, ToolCallID: v.ToolCallID, Output: v.Output}
	case AppendMessage:
		env = envelope{Type: TypeAppendMessage, Data: v.Message, Transient: v.Transient}
	case Finish:
		env = envelope{Type: TypeFinish, Reason: v.Reason}
	case Unknown:
		return nil, fmt.Errorf("cannot encode unknown event type %q", v.Type)
	default:
		return nil, fmt.Errorf("cannot encode event of type %T", e)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", env.Type, err)
	}

	frame := make([]byte, 0, len(framePrefix)+len(payload)+len(frameSuffix))
	frame = append(frame, framePrefix...)
	frame = append(frame, payload...)
	frame = append(frame, frameSuffix...)
	return frame, nil
}

// Decode parses one SSE frame back into an event. A frame with a type this
// build does not recognize decodes to Unknown (forward compatible); a frame
// that is not parseable at all fails with ErrMalformedFrame.
func Decode(frame []byte) (Event, error) {
	body := bytes.TrimSuffix(frame, frameSuffix)
	body = bytes.TrimSuffix(body, []byte("\n")) // tolerate a single trailing newline
	after, ok := bytes.CutPrefix(body, framePrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing data prefix", ErrMalformedFrame)
	}
	return DecodeJSON(after)
}

// DecodeJSON parses the JSON object of a frame (without SSE framing).
func DecodeJSON(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	switch env.Type {
	case TypeTextDelta:
		return TextDelta{Delta: env.Delta}, nil
	case TypeReasoningDelta:
		return ReasoningDelta{Delta: env.Delta}, nil
	case TypeToolInput:
		if env.ToolCallID == "" || env.ToolName == "" {
			return nil, fmt.Errorf("%w: tool-input frame missing call id or name", ErrMalformedFrame)
		}
		return ToolInput{ToolCallID: env.ToolCallID, ToolName: env.ToolName, Input: env.Input}, nil
	case TypeToolOutput:
		if env.ToolCallID == "" {
			return nil, fmt.Errorf("%w: tool-output frame missing call id", ErrMalformedFrame)
		}
		return ToolOutput{ToolCallID: env.ToolCallID, Output: env.Output}, nil
	case TypeAppendMessage:
		if env.Data == nil {
			return nil, fmt.Errorf("%w: append frame missing message", ErrMalformedFrame)
		}
		return AppendMessage{Message: env.Data, Transient: env.Transient}, nil
	case TypeFinish:
		return Finish{Reason: env.Reason}, nil
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Type: env.Type, Raw: raw}, nil
	}
}
