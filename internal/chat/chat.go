// Package chat defines the conversation domain model: chats, messages,
// message parts, and stream handles.
//
// These are application-level types. Persistence lives in internal/store,
// the wire protocol in internal/stream.
package chat

import (
	"errors"
	"time"
)

// Role constants define valid message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Sentinel errors shared across the chat domain.
var (
	// ErrNotFound indicates the requested chat, message, or stream handle
	// does not exist. This is an expected condition (e.g. a resume attempted
	// long after the fact) and is not logged as an application error.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRole indicates a message carries an unknown role.
	ErrInvalidRole = errors.New("invalid message role")
)

// ValidRole reports whether role is one of the known message roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Chat represents a conversation session.
//
// The ID is an opaque token and may be client-generated. The title starts
// empty and is derived lazily from the first user message after the first
// exchange completes.
type Chat struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	SpaceID   string    `json:"spaceId,omitempty"` // optional parent container
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is a single conversation message. Messages are immutable once
// persisted; an edit logically supersedes a message by truncating everything
// after it and re-deriving the turn.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Role      string    `json:"role"`
	Parts     Parts     `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`
}

// Text concatenates the message's text parts in order. Reasoning, file and
// tool-call parts do not contribute.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// StreamHandle records one invocation of the generation engine for a chat.
// A chat accumulates one handle per assistant turn; only the most recent one
// is a resumable target, older handles are historical record.
type StreamHandle struct {
	ID        string
	ChatID    string
	CreatedAt time.Time
}
