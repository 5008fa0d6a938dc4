package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lumenchat/lumen/internal/chat"
	"github.com/lumenchat/lumen/internal/engine"
	"github.com/lumenchat/lumen/internal/live"
	"github.com/lumenchat/lumen/internal/log"
	"github.com/lumenchat/lumen/internal/store"
	"github.com/lumenchat/lumen/internal/stream"
	"github.com/lumenchat/lumen/internal/tools"
)

const (
	maxSendBody    = 1 << 20 // 1 MiB
	persistTimeout = 10 * time.Second
)

// ChatStore is the persistence surface the chat handlers need.
type ChatStore interface {
	CreateChat(ctx context.Context, c *chat.Chat) error
	GetChat(ctx context.Context, chatID string) (*chat.Chat, error)
	ListChats(ctx context.Context, ownerID string, limit int32) ([]*chat.Chat, error)
	AppendMessages(ctx context.Context, chatID string, messages []*chat.Message) error
	ListMessages(ctx context.Context, chatID string) ([]*chat.Message, error)
	TruncateFrom(ctx context.Context, chatID, messageID string) error
	SetTitle(ctx context.Context, chatID, title string) error
	LastStreamHandle(ctx context.Context, chatID string) (*chat.StreamHandle, error)
}

// Generator runs the model work for one turn.
type Generator interface {
	Run(ctx context.Context, in engine.Input, emit func(stream.Event)) (*chat.Message, stream.FinishReason, error)
	GenerateTitle(ctx context.Context, firstMessage string) (string, error)
}

// Streams is the live stream manager surface the handlers need.
type Streams interface {
	Start(ctx context.Context, chatID string, gen live.Generation) (*live.Started, error)
	Attach(handleID string) (events <-chan stream.Event, detach func(), ok bool)
	Stop(chatID string) bool
}

type chatHandler struct {
	store     ChatStore
	streams   Streams
	generator Generator
	logger    log.Logger

	owner        string
	systemPrompt string
	tools        []string
	replayWindow time.Duration
}

// sendRequest is the body of POST /api/chat.
//
// ChatID and MessageID may be client-generated so the client can render
// optimistically; missing IDs are assigned server-side. EditMessageID
// turns the send into an edit: that message and everything after it is
// superseded before the new message is appended.
type sendRequest struct {
	ChatID        string `json:"chatId,omitempty"`
	MessageID     string `json:"messageId,omitempty"`
	Message       string `json:"message"`
	SpaceID       string `json:"spaceId,omitempty"`
	EditMessageID string `json:"editMessageId,omitempty"`
}

// send handles POST /api/chat: it durably appends the user message,
// starts a generation, and streams its events back as SSE. Closing the
// response does not stop the generation; the stream handle in the
// X-Stream-Id header is the resume target.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSendBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_message", "message is required", h.logger)
		return
	}

	ctx := r.Context()
	chatID := req.ChatID
	if chatID == "" {
		chatID = uuid.NewString()
	}

	if err := h.store.CreateChat(ctx, &chat.Chat{ID: chatID, OwnerID: h.owner, SpaceID: req.SpaceID}); err != nil {
		h.logger.Error("creating chat failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create chat", h.logger)
		return
	}

	if req.EditMessageID != "" {
		if err := h.store.TruncateFrom(ctx, chatID, req.EditMessageID); err != nil {
			if errors.Is(err, chat.ErrNotFound) {
				writeError(w, http.StatusNotFound, "message_not_found", "message to edit not found", h.logger)
				return
			}
			h.logger.Error("edit truncate failed", "chat_id", chatID, "message_id", req.EditMessageID, "error", err)
			writeError(w, http.StatusInternalServerError, "edit_failed", "failed to edit message", h.logger)
			return
		}
	}

	userMsg := &chat.Message{
		ID:    req.MessageID,
		Role:  chat.RoleUser,
		Parts: chat.Parts{&chat.TextPart{Text: req.Message}},
	}
	if err := h.store.AppendMessages(ctx, chatID, []*chat.Message{userMsg}); err != nil {
		switch {
		case errors.Is(err, chat.ErrNotFound):
			writeError(w, http.StatusNotFound, "chat_not_found", "chat not found", h.logger)
		case errors.Is(err, store.ErrConstraint):
			writeError(w, http.StatusBadRequest, "duplicate_message", "message ID already used", h.logger)
		default:
			h.logger.Error("appending user message failed", "chat_id", chatID, "error", err)
			writeError(w, http.StatusInternalServerError, "append_failed", "failed to persist message", h.logger)
		}
		return
	}

	history, err := h.store.ListMessages(ctx, chatID)
	if err != nil {
		h.logger.Error("loading history failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "history_failed", "failed to load history", h.logger)
		return
	}

	current, err := h.store.GetChat(ctx, chatID)
	if err != nil {
		h.logger.Error("loading chat failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat_failed", "failed to load chat", h.logger)
		return
	}
	needTitle := current.Title == ""

	st, err := h.streams.Start(ctx, chatID, h.generation(chatID, current.SpaceID, history, needTitle, req.Message))
	if err != nil {
		if errors.Is(err, live.ErrGenerationInFlight) {
			writeError(w, http.StatusConflict, "generation_in_flight", "a response is already being generated for this chat", h.logger)
			return
		}
		h.logger.Error("starting generation failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "start_failed", "failed to start generation", h.logger)
		return
	}
	h.pipe(w, r, st.Handle.ID, st.Events, st.Detach)
}

// generation builds the closure the stream manager runs. The closure
// persists the assistant message before returning so the terminal finish
// event is only broadcast once the result is durable.
func (h *chatHandler) generation(chatID, spaceID string, history []*chat.Message, needTitle bool, firstMessage string) live.Generation {
	return func(ctx context.Context, emit func(stream.Event)) (stream.FinishReason, error) {
		ctx = tools.ContextWithSpace(ctx, spaceID)
		msg, reason, runErr := h.generator.Run(ctx, engine.Input{
			System:  h.systemPrompt,
			History: history,
			Tools:   h.tools,
		}, emit)

		if msg != nil && len(msg.Parts) > 0 {
			// Persist on a context detached from the generation's: a
			// stopped generation must still keep its partial content.
			persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
			defer cancel()

			if err := h.store.AppendMessages(persistCtx, chatID, []*chat.Message{msg}); err != nil {
				return stream.ReasonError, errors.Join(runErr, err)
			}
			emit(stream.AppendMessage{Message: msg, Transient: true})

			if needTitle && runErr == nil {
				h.deriveTitle(persistCtx, chatID, firstMessage)
			}
		}
		return reason, runErr
	}
}

// deriveTitle names the chat after its first completed exchange. Failures
// leave the chat untitled; the next completed exchange retries.
func (h *chatHandler) deriveTitle(ctx context.Context, chatID, firstMessage string) {
	title, err := h.generator.GenerateTitle(ctx, firstMessage)
	if err != nil {
		h.logger.Warn("title generation failed", "chat_id", chatID, "error", err)
		return
	}
	if err := h.store.SetTitle(ctx, chatID, title); err != nil {
		h.logger.Warn("saving title failed", "chat_id", chatID, "error", err)
	}
}

// resume handles GET /api/chat/{id}/stream. A live generation is attached
// directly; a recently finished one is replayed from persistence as one
// atomic append; anything older yields an immediately finishing stream.
func (h *chatHandler) resume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID := r.PathValue("id")

	if _, err := h.store.GetChat(ctx, chatID); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat_not_found", "chat not found", h.logger)
			return
		}
		h.logger.Error("loading chat failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat_failed", "failed to load chat", h.logger)
		return
	}

	handle, err := h.store.LastStreamHandle(ctx, chatID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no_stream", "chat has no stream to resume", h.logger)
			return
		}
		h.logger.Error("loading stream handle failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "stream_failed", "failed to load stream handle", h.logger)
		return
	}

	if events, detach, ok := h.streams.Attach(handle.ID); ok {
		h.pipe(w, r, handle.ID, events, detach)
		return
	}

	h.replay(w, r, chatID, handle)
}

// replay serves a resume for a finished generation. The staleness gate is
// the last assistant message's age, not the handle's: a handle is created
// when the generation starts, so a long generation would otherwise age out
// of replay before it even finished. A fresh-enough assistant message is
// re-sent as one atomic append so a client that missed the live finish
// still converges; anything older just finishes.
func (h *chatHandler) replay(w http.ResponseWriter, r *http.Request, chatID string, handle *chat.StreamHandle) {
	messages, err := h.store.ListMessages(r.Context(), chatID)
	if err != nil {
		h.logger.Error("loading messages for replay failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "replay_failed", "failed to load messages", h.logger)
		return
	}

	var replayed []stream.Event
	if n := len(messages); n > 0 && messages[n-1].Role == chat.RoleAssistant &&
		time.Since(messages[n-1].CreatedAt) <= h.replayWindow {
		replayed = append(replayed, stream.AppendMessage{Message: messages[n-1], Transient: true})
	}
	replayed = append(replayed, stream.Finish{Reason: stream.ReasonComplete})

	events := make(chan stream.Event, len(replayed))
	for _, e := range replayed {
		events <- e
	}
	close(events)
	h.pipe(w, r, handle.ID, events, func() {})
}

// pipe streams events to the client as SSE frames until the channel
// closes or the client goes away. Client departure only detaches the
// subscription; the generation itself keeps running.
func (h *chatHandler) pipe(w http.ResponseWriter, r *http.Request, handleID string, events <-chan stream.Event, detach func()) {
	defer detach()

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("response writer does not support streaming")
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.Header().Set("X-Stream-Id", handleID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if events == nil {
		return
	}
	for {
		select {
		case e, open := <-events:
			if !open {
				return
			}
			frame, err := stream.Encode(e)
			if err != nil {
				h.logger.Error("encoding stream event failed", "error", err)
				continue
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// stop handles POST /api/chat/{id}/stop: it cancels the chat's in-flight
// generation. The generation shuts down gracefully, so subscribers still
// see a finish event and partial content is kept.
func (h *chatHandler) stop(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if !h.streams.Stop(chatID) {
		writeError(w, http.StatusNotFound, "no_generation", "chat has no generation in flight", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"}, h.logger)
}

// listChats handles GET /api/chats.
func (h *chatHandler) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.store.ListChats(r.Context(), h.owner, 100)
	if err != nil {
		h.logger.Error("listing chats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list chats", h.logger)
		return
	}
	if chats == nil {
		chats = []*chat.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats, "count": len(chats)}, h.logger)
}

// getChat handles GET /api/chat/{id}: the chat plus its full message
// history in replay order.
func (h *chatHandler) getChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chatID := r.PathValue("id")

	c, err := h.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat_not_found", "chat not found", h.logger)
			return
		}
		h.logger.Error("loading chat failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat_failed", "failed to load chat", h.logger)
		return
	}

	messages, err := h.store.ListMessages(ctx, chatID)
	if err != nil {
		h.logger.Error("loading messages failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "messages_failed", "failed to load messages", h.logger)
		return
	}
	if messages == nil {
		messages = []*chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": c, "messages": messages}, h.logger)
}
