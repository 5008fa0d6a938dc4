// Package live fans out in-flight generation events to any number of
// stream subscribers and lets a reconnecting client re-attach to a
// running generation by stream handle.
//
// A generation's lifetime belongs to the manager, not to any HTTP
// request: it keeps running with zero subscribers, and its terminal
// finish event is broadcast exactly once per handle.
package live

import (
	"context"
	"errors"
	"sync"

	"github.com/lumenchat/lumen/internal/chat"
	"github.com/lumenchat/lumen/internal/log"
	"github.com/lumenchat/lumen/internal/stream"
)

// ErrGenerationInFlight is returned by Start while the chat already has a
// running generation.
var ErrGenerationInFlight = errors.New("chat already has a generation in flight")

// subscriberBuffer bounds a subscriber's event queue. A subscriber that
// cannot drain this many events is dropped; the client recovers by
// reconnecting through the resume path.
const subscriberBuffer = 256

// HandleCreator durably records a stream handle before any event exists.
type HandleCreator interface {
	CreateStreamHandle(ctx context.Context, chatID string) (*chat.StreamHandle, error)
}

// Generation is the model work behind one stream. It reports progress
// through emit and must persist its results before returning; the manager
// broadcasts the terminal finish event after it returns. The reason is
// used for that finish event unless err forces an error finish.
type Generation func(ctx context.Context, emit func(stream.Event)) (stream.FinishReason, error)

// Manager owns all running generations.
type Manager struct {
	handles HandleCreator
	logger  log.Logger

	mu       sync.Mutex
	byHandle map[string]*liveStream
	byChat   map[string]*liveStream
}

// NewManager creates a Manager.
func NewManager(handles HandleCreator, logger log.Logger) *Manager {
	return &Manager{
		handles:  handles,
		logger:   logger,
		byHandle: make(map[string]*liveStream),
		byChat:   make(map[string]*liveStream),
	}
}

// Started is a launched generation: its durable handle plus an already
// attached subscription, so the caller cannot miss events emitted between
// launch and a separate attach.
type Started struct {
	Handle *chat.StreamHandle
	Events <-chan stream.Event
	Detach func()
}

// Start durably creates a stream handle for chatID and launches gen on a
// context detached from the caller's, so the generation survives the
// originating request. One generation per chat at a time.
func (m *Manager) Start(ctx context.Context, chatID string, gen Generation) (*Started, error) {
	m.mu.Lock()
	if _, ok := m.byChat[chatID]; ok {
		m.mu.Unlock()
		return nil, ErrGenerationInFlight
	}
	// Reserve the chat before the handle insert so a concurrent Start
	// cannot slip in while we are writing to the database.
	m.byChat[chatID] = nil
	m.mu.Unlock()

	handle, err := m.handles.CreateStreamHandle(ctx, chatID)
	if err != nil {
		m.mu.Lock()
		delete(m.byChat, chatID)
		m.mu.Unlock()
		return nil, err
	}

	genCtx, cancel := context.WithCancel(context.Background())
	ls := &liveStream{
		handleID: handle.ID,
		chatID:   chatID,
		cancel:   cancel,
		subs:     make(map[chan stream.Event]struct{}),
	}

	m.mu.Lock()
	m.byHandle[handle.ID] = ls
	m.byChat[chatID] = ls
	m.mu.Unlock()

	// Subscribe before the generation goroutine exists so even an
	// instantly completing generation is fully observed.
	ch, detach := ls.subscribe()

	go m.run(genCtx, ls, gen)
	return &Started{Handle: handle, Events: ch, Detach: detach}, nil
}

func (m *Manager) run(ctx context.Context, ls *liveStream, gen Generation) {
	defer ls.cancel()

	reason, err := gen(ctx, ls.publish)
	if err != nil {
		m.logger.Error("generation failed", "chat_id", ls.chatID, "stream_id", ls.handleID, "error", err)
		reason = stream.ReasonError
	}
	if reason == "" {
		reason = stream.ReasonComplete
	}

	// Unregister before the terminal broadcast: a resume arriving after
	// this point falls through to persisted replay instead of attaching
	// to a stream that is about to close.
	m.mu.Lock()
	delete(m.byHandle, ls.handleID)
	if m.byChat[ls.chatID] == ls {
		delete(m.byChat, ls.chatID)
	}
	m.mu.Unlock()

	ls.finish(stream.Finish{Reason: reason})
}

// Attach subscribes to the live stream for handleID. The returned channel
// carries events from the point of attachment forward, ending with the
// finish event; nothing already broadcast is re-emitted, since the client
// converges through the persisted message append instead. It returns
// ok=false when no generation is live for the handle; the caller then
// serves a persisted replay. Detach releases the subscription and is safe
// to call after the stream closed.
func (m *Manager) Attach(handleID string) (events <-chan stream.Event, detach func(), ok bool) {
	m.mu.Lock()
	ls := m.byHandle[handleID]
	m.mu.Unlock()
	if ls == nil {
		return nil, nil, false
	}
	ch, cancel := ls.subscribe()
	if ch == nil {
		return nil, nil, false
	}
	return ch, cancel, true
}

// Live reports whether the chat has a generation in flight.
func (m *Manager) Live(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls := m.byChat[chatID]
	return ls != nil
}

// Stop cancels the chat's in-flight generation, if any. The generation
// shuts down gracefully: partial content is persisted and subscribers
// still receive a finish event.
func (m *Manager) Stop(chatID string) bool {
	m.mu.Lock()
	ls := m.byChat[chatID]
	m.mu.Unlock()
	if ls == nil {
		return false
	}
	ls.cancel()
	return true
}

// liveStream is one running generation's fan-out state.
type liveStream struct {
	handleID string
	chatID   string
	cancel   context.CancelFunc

	mu     sync.Mutex
	subs   map[chan stream.Event]struct{}
	closed bool
}

// publish forwards the event to every subscriber. A subscriber whose
// queue is full is dropped rather than allowed to stall the generation.
func (ls *liveStream) publish(e stream.Event) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return
	}
	for ch := range ls.subs {
		select {
		case ch <- e:
		default:
			delete(ls.subs, ch)
			close(ch)
		}
	}
}

// finish broadcasts the terminal event and closes every subscriber
// channel. Publishes after finish are ignored.
func (ls *liveStream) finish(e stream.Finish) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return
	}
	ls.closed = true
	for ch := range ls.subs {
		select {
		case ch <- e:
		default:
		}
		close(ch)
	}
	ls.subs = nil
}

// subscribe registers a new subscriber. Delivery starts at the point of
// attachment; events broadcast earlier are not re-emitted. Returns nil
// once the stream has closed.
func (ls *liveStream) subscribe() (chan stream.Event, func()) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return nil, nil
	}

	ch := make(chan stream.Event, subscriberBuffer)
	ls.subs[ch] = struct{}{}

	detach := func() {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		if _, ok := ls.subs[ch]; ok {
			delete(ls.subs, ch)
			close(ch)
		}
	}
	return ch, detach
}
