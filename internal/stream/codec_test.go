package stream

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenchat/lumen/internal/chat"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := &chat.Message{
		ID:        "m1",
		ChatID:    "c1",
		Role:      chat.RoleAssistant,
		Parts:     chat.Parts{&chat.TextPart{Text: "hello"}},
		CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name  string
		event Event
	}{
		{"text delta", TextDelta{Delta: "chunk of text"}},
		{"reasoning delta", ReasoningDelta{Delta: "thinking..."}},
		{"tool input", ToolInput{ToolCallID: "call-1", ToolName: "web_search", Input: json.RawMessage(`{"query":"x"}`)}},
		{"tool output", ToolOutput{ToolCallID: "call-1", Output: json.RawMessage(`{"results":[]}`)}},
		{"append message", AppendMessage{Message: msg, Transient: true}},
		{"finish complete", Finish{Reason: ReasonComplete}},
		{"finish stopped", Finish{Reason: ReasonStopped}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.event)
			require.NoError(t, err)

			// Frames are self-delimited.
			assert.True(t, strings.HasPrefix(string(frame), "data: "))
			assert.True(t, strings.HasSuffix(string(frame), "\n\n"))

			got, err := Decode(frame)
			require.NoError(t, err)

			switch want := tt.event.(type) {
			case AppendMessage:
				gotAppend, ok := got.(AppendMessage)
				require.True(t, ok)
				assert.Equal(t, want.Message.ID, gotAppend.Message.ID)
				assert.Equal(t, want.Transient, gotAppend.Transient)
				assert.Equal(t, want.Message.Text(), gotAppend.Message.Text())
			default:
				assert.Equal(t, tt.event, got)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"no prefix", `{"type":"text-delta","delta":"x"}` + "\n\n"},
		{"invalid json", "data: {not json}\n\n"},
		{"missing type", `data: {"delta":"x"}` + "\n\n"},
		{"tool input without call id", `data: {"type":"tool-input-available","toolName":"web_search"}` + "\n\n"},
		{"tool output without call id", `data: {"type":"tool-output-available"}` + "\n\n"},
		{"append without message", `data: {"type":"data-appendMessage","transient":true}` + "\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedFrame), "want ErrMalformedFrame, got %v", err)
		})
	}
}

func TestDecodeUnknownTypeIsIgnorable(t *testing.T) {
	frame := []byte(`data: {"type":"data-usageReport","tokens":42}` + "\n\n")
	got, err := Decode(frame)
	require.NoError(t, err)

	unknown, ok := got.(Unknown)
	require.True(t, ok)
	assert.Equal(t, "data-usageReport", unknown.Type)
}

func TestEncodeRejectsUnknown(t *testing.T) {
	_, err := Encode(Unknown{Type: "weird"})
	assert.Error(t, err)
}

func TestDecodePreservesOrderAcrossFrames(t *testing.T) {
	// Encoding then decoding a sequence must not reorder events.
	events := []Event{
		TextDelta{Delta: "a"},
		ToolInput{ToolCallID: "c1", ToolName: "web_search", Input: json.RawMessage(`{}`)},
		TextDelta{Delta: "b"},
		ToolOutput{ToolCallID: "c1", Output: json.RawMessage(`{}`)},
		TextDelta{Delta: "c"},
		Finish{Reason: ReasonComplete},
	}

	var text string
	for _, e := range events {
		frame, err := Encode(e)
		require.NoError(t, err)
		got, err := Decode(frame)
		require.NoError(t, err)
		if td, ok := got.(TextDelta); ok {
			text += td.Delta
		}
	}
	assert.Equal(t, "abc", text)
}
