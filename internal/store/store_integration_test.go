//go:build integration
// +build integration

package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenchat/lumen/internal/chat"
	"github.com/lumenchat/lumen/internal/log"
	"github.com/lumenchat/lumen/internal/store"
	"github.com/lumenchat/lumen/internal/testutil"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return store.New(db.Pool, log.NewNop())
}

func mkChat(t *testing.T, ctx context.Context, s *store.Store, id string) *chat.Chat {
	t.Helper()
	c := &chat.Chat{ID: id, OwnerID: "tester"}
	require.NoError(t, s.CreateChat(ctx, c))
	return c
}

func userMsg(text string) *chat.Message {
	return &chat.Message{
		Role:  chat.RoleUser,
		Parts: chat.Parts{&chat.TextPart{Text: text}},
	}
}

func TestCreateChatIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	c := &chat.Chat{ID: "chat-1", OwnerID: "tester", Title: "first"}
	require.NoError(t, s.CreateChat(ctx, c))

	// Retried creation with different fields must not overwrite the row.
	dup := &chat.Chat{ID: "chat-1", OwnerID: "other", Title: "second"}
	require.NoError(t, s.CreateChat(ctx, dup))

	got, err := s.GetChat(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "tester", got.OwnerID)
	assert.Equal(t, "first", got.Title)

	owner, err := s.GetChatOwner(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "tester", owner)
}

func TestGetChatNotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetChat(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	_, err = s.GetChatOwner(ctx, "missing")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestAppendAndListMessages(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mkChat(t, ctx, s, "chat-1")

	first := userMsg("hello")
	reply := &chat.Message{
		Role: chat.RoleAssistant,
		Parts: chat.Parts{
			&chat.ReasoningPart{Text: "thinking"},
			&chat.TextPart{Text: "hi there"},
			&chat.ToolCallPart{
				ToolCallID: "call-1",
				ToolName:   "web_search",
				State:      "output-available",
				Input:      json.RawMessage(`{"query":"go"}`),
				Output:     json.RawMessage(`{"results":[]}`),
			},
		},
	}
	require.NoError(t, s.AppendMessages(ctx, "chat-1", []*chat.Message{first, reply}))

	// IDs and timestamps are assigned during the append.
	assert.NotEmpty(t, first.ID)
	assert.NotEmpty(t, reply.ID)
	assert.False(t, first.CreatedAt.IsZero())

	got, err := s.ListMessages(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, chat.RoleUser, got[0].Role)
	assert.Equal(t, chat.RoleAssistant, got[1].Role)
	require.Len(t, got[1].Parts, 3)

	tc, ok := got[1].Parts[2].(*chat.ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "web_search", tc.ToolName)
	assert.JSONEq(t, `{"query":"go"}`, string(tc.Input))
}

func TestAppendMessagesUnknownChat(t *testing.T) {
	s := newStore(t)
	err := s.AppendMessages(context.Background(), "missing", []*chat.Message{userMsg("hi")})
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestAppendMessagesDuplicateID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mkChat(t, ctx, s, "chat-1")

	msg := userMsg("hello")
	msg.ID = "msg-1"
	require.NoError(t, s.AppendMessages(ctx, "chat-1", []*chat.Message{msg}))

	dup := userMsg("again")
	dup.ID = "msg-1"
	err := s.AppendMessages(ctx, "chat-1", []*chat.Message{dup})
	assert.ErrorIs(t, err, store.ErrConstraint)

	// The failed append must not leave partial rows behind.
	got, err := s.ListMessages(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestConcurrentAppendsKeepSequenceDense(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mkChat(t, ctx, s, "chat-1")

	const writers = 8
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := userMsg(fmt.Sprintf("message %d", i))
			assert.NoError(t, s.AppendMessages(ctx, "chat-1", []*chat.Message{msg}))
		}()
	}
	wg.Wait()

	got, err := s.ListMessages(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, got, writers)
}

func TestTruncateFrom(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mkChat(t, ctx, s, "chat-1")

	msgs := []*chat.Message{userMsg("one"), userMsg("two"), userMsg("three")}
	require.NoError(t, s.AppendMessages(ctx, "chat-1", msgs))

	require.NoError(t, s.TruncateFrom(ctx, "chat-1", msgs[1].ID))

	got, err := s.ListMessages(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msgs[0].ID, got[0].ID)

	// New messages continue after the surviving prefix.
	require.NoError(t, s.AppendMessages(ctx, "chat-1", []*chat.Message{userMsg("four")}))
	got, err = s.ListMessages(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestTruncateFromUnknownMessage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mkChat(t, ctx, s, "chat-1")

	err := s.TruncateFrom(ctx, "chat-1", "missing")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestSetTitleOnlyOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mkChat(t, ctx, s, "chat-1")

	require.NoError(t, s.SetTitle(ctx, "chat-1", "First Title"))
	require.NoError(t, s.SetTitle(ctx, "chat-1", "Second Title"))

	got, err := s.GetChat(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "First Title", got.Title)
}

func TestStreamHandles(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mkChat(t, ctx, s, "chat-1")

	_, err := s.LastStreamHandle(ctx, "chat-1")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	h1, err := s.CreateStreamHandle(ctx, "chat-1")
	require.NoError(t, err)
	assert.NotEmpty(t, h1.ID)
	assert.False(t, h1.CreatedAt.IsZero())

	h2, err := s.CreateStreamHandle(ctx, "chat-1")
	require.NoError(t, err)

	last, err := s.LastStreamHandle(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, h2.ID, last.ID)
	assert.Equal(t, "chat-1", last.ChatID)

	ids, err := s.ListStreamHandleIDs(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, []string{h1.ID, h2.ID}, ids)
}

func TestCreateStreamHandleUnknownChat(t *testing.T) {
	s := newStore(t)
	_, err := s.CreateStreamHandle(context.Background(), "missing")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestListChats(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := range 3 {
		c := &chat.Chat{ID: fmt.Sprintf("chat-%d", i), OwnerID: "tester"}
		require.NoError(t, s.CreateChat(ctx, c))
	}
	mkChatOther := &chat.Chat{ID: "other-chat", OwnerID: "someone-else"}
	require.NoError(t, s.CreateChat(ctx, mkChatOther))

	chats, err := s.ListChats(ctx, "tester", 0)
	require.NoError(t, err)
	assert.Len(t, chats, 3)
	for _, c := range chats {
		assert.Equal(t, "tester", c.OwnerID)
	}

	limited, err := s.ListChats(ctx, "tester", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
