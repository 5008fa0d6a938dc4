package chat

import (
	"encoding/json"
	"fmt"
)

// Part is a typed fragment of a message's content.
//
// The concrete types are TextPart, ReasoningPart, FilePart and ToolCallPart.
// Using an explicit sum type (rather than loosely-typed maps) means an
// unhandled part kind is a compile-time omission at the codec and renderer
// boundaries, not a silent runtime no-op.
type Part interface {
	// Kind returns the wire discriminator for this part.
	Kind() string
}

// Part kind discriminators as serialized in JSONB and on the wire.
const (
	PartKindText      = "text"
	PartKindReasoning = "reasoning"
	PartKindFile      = "file"
	PartKindToolCall  = "tool-call"
)

// Tool-call lifecycle states. State only ever moves forward:
// input-available → output-available. A call with no output by the time the
// generation ends is marked abandoned, never silently dropped.
const (
	ToolStateInputAvailable  = "input-available"
	ToolStateOutputAvailable = "output-available"
	ToolStateAbandoned       = "abandoned"
)

// TextPart is a fragment of the final answer text.
type TextPart struct {
	Text string `json:"text"`
}

func (*TextPart) Kind() string { return PartKindText }

// ReasoningPart is model "thinking" text, rendered distinctly from the
// final answer.
type ReasoningPart struct {
	Text string `json:"text"`
}

func (*ReasoningPart) Kind() string { return PartKindReasoning }

// FilePart references an uploaded attachment.
type FilePart struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
}

func (*FilePart) Kind() string { return PartKindFile }

// ToolCallPart records one tool invocation and its lifecycle.
type ToolCallPart struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	State      string          `json:"state"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

func (*ToolCallPart) Kind() string { return PartKindToolCall }

// Advance moves the tool call to the given state. Transitions are forward
// only; an attempt to regress is rejected.
func (t *ToolCallPart) Advance(state string) error {
	if rank(state) < rank(t.State) {
		return fmt.Errorf("tool call %s: cannot transition %s -> %s", t.ToolCallID, t.State, state)
	}
	t.State = state
	return nil
}

func rank(state string) int {
	switch state {
	case ToolStateInputAvailable:
		return 0
	case ToolStateOutputAvailable, ToolStateAbandoned:
		return 1
	}
	return -1
}

// Parts is an ordered sequence of message parts. It serializes each part as
// a JSON object with a "type" discriminator alongside the part's own fields.
type Parts []Part

// partEnvelope is the serialized form of a single part.
type partEnvelope struct {
	Type string `json:"type"`

	// text / reasoning
	Text string `json:"text,omitempty"`

	// file
	URL       string `json:"url,omitempty"`
	Name      string `json:"name,omitempty"`
	MediaType string `json:"mediaType,omitempty"`

	// tool-call
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	State      string          `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (ps Parts) MarshalJSON() ([]byte, error) {
	envs := make([]partEnvelope, 0, len(ps))
	for i, p := range ps {
		switch v := p.(type) {
		case *TextPart:
			envs = append(envs, partEnvelope{Type: PartKindText, Text: v.Text})
		case *ReasoningPart:
			envs = append(envs, partEnvelope{Type: PartKindReasoning, Text: v.Text})
		case *FilePart:
			envs = append(envs, partEnvelope{Type: PartKindFile, URL: v.URL, Name: v.Name, MediaType: v.MediaType})
		case *ToolCallPart:
			envs = append(envs, partEnvelope{
				Type:       PartKindToolCall,
				ToolCallID: v.ToolCallID,
				ToolName:   v.ToolName,
				State:      v.State,
				Input:      v.Input,
				Output:     v.Output,
			})
		default:
			return nil, fmt.Errorf("part %d: unknown part type %T", i, p)
		}
	}
	return json.Marshal(envs)
}

// UnmarshalJSON implements json.Unmarshaler. Parts with an unknown type
// discriminator are rejected: persisted content is authoritative and a kind
// this build cannot render would otherwise be silently lost.
func (ps *Parts) UnmarshalJSON(data []byte) error {
	var envs []partEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return err
	}

	out := make(Parts, 0, len(envs))
	for i, env := range envs {
		switch env.Type {
		case PartKindText:
			out = append(out, &TextPart{Text: env.Text})
		case PartKindReasoning:
			out = append(out, &ReasoningPart{Text: env.Text})
		case PartKindFile:
			out = append(out, &FilePart{URL: env.URL, Name: env.Name, MediaType: env.MediaType})
		case PartKindToolCall:
			out = append(out, &ToolCallPart{
				ToolCallID: env.ToolCallID,
				ToolName:   env.ToolName,
				State:      env.State,
				Input:      env.Input,
				Output:     env.Output,
			})
		default:
			return fmt.Errorf("part %d: unknown part type %q", i, env.Type)
		}
	}
	*ps = out
	return nil
}
