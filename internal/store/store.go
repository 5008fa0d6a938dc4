// Package store provides the Postgres persistence adapter for chats,
// messages, and stream handles.
//
// The store is append-only at the row level: persisted messages are never
// mutated in place. The one destructive operation, TruncateFrom, implements
// message editing as an atomic delete-suffix; the caller appends the
// re-derived messages afterwards.
//
// Store is safe for concurrent use by multiple goroutines.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lithammer/shortuuid/v4"

	"github.com/lumenchat/lumen/internal/chat"
)

// ErrConstraint indicates an append or write failed a database constraint
// (e.g. duplicate message ID). Callers treat it as fatal for the current
// generation.
var ErrConstraint = errors.New("constraint violation")

// Store manages chat persistence with a PostgreSQL backend.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store on the given pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateChat inserts a chat row. The ID may be client-generated; creating a
// chat that already exists is a no-op so a retried first message stays
// idempotent.
func (s *Store) CreateChat(ctx context.Context, c *chat.Chat) error {
	var spaceID *string
	if c.SpaceID != "" {
		spaceID = &c.SpaceID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chats (id, owner_id, space_id, title, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.OwnerID, spaceID, c.Title)
	if err != nil {
		return classify(fmt.Errorf("creating chat %s: %w", c.ID, err))
	}
	s.logger.Debug("created chat", "chat_id", c.ID, "owner", c.OwnerID)
	return nil
}

// GetChatOwner returns the owner identity for a chat, or chat.ErrNotFound.
func (s *Store) GetChatOwner(ctx context.Context, chatID string) (string, error) {
	var owner string
	err := s.pool.QueryRow(ctx, `SELECT owner_id FROM chats WHERE id = $1`, chatID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("chat %s: %w", chatID, chat.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting chat owner %s: %w", chatID, err)
	}
	return owner, nil
}

// GetChat returns a chat by ID, or chat.ErrNotFound.
func (s *Store) GetChat(ctx context.Context, chatID string) (*chat.Chat, error) {
	var (
		c       chat.Chat
		spaceID *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, space_id, title, created_at
		FROM chats WHERE id = $1`, chatID).
		Scan(&c.ID, &c.OwnerID, &spaceID, &c.Title, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", chatID, chat.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting chat %s: %w", chatID, err)
	}
	if spaceID != nil {
		c.SpaceID = *spaceID
	}
	return &c, nil
}

// SetTitle sets the chat title if it has not been set yet. Titles are
// derived lazily after the first exchange and mutated at most once.
func (s *Store) SetTitle(ctx context.Context, chatID, title string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chats SET title = $2 WHERE id = $1 AND title = ''`,
		chatID, title)
	if err != nil {
		return fmt.Errorf("setting title for chat %s: %w", chatID, err)
	}
	return nil
}

// AppendMessages appends messages to a chat in one transaction. The chat row
// is locked for the duration so concurrent appends cannot interleave
// sequence numbers. Either all messages commit or none do.
//
// Messages without an ID get one assigned; CreatedAt is stamped here so the
// database clock is the single ordering authority.
func (s *Store) AppendMessages(ctx context.Context, chatID string, messages []*chat.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("append rollback", "error", rbErr)
		}
	}()

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("chat %s: %w", chatID, chat.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("locking chat %s: %w", chatID, err)
	}

	var maxSeq int32
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE chat_id = $1`, chatID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("reading max sequence for chat %s: %w", chatID, err)
	}

	for i, msg := range messages {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if !chat.ValidRole(msg.Role) {
			return fmt.Errorf("message %d: %w: %q", i, chat.ErrInvalidRole, msg.Role)
		}
		partsJSON, err := json.Marshal(msg.Parts)
		if err != nil {
			return fmt.Errorf("marshaling parts of message %d: %w", i, err)
		}

		seq := maxSeq + int32(i) + 1 // #nosec G115 -- i bounded by slice length
		err = tx.QueryRow(ctx, `
			INSERT INTO messages (id, chat_id, role, parts, seq, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			RETURNING created_at`,
			msg.ID, chatID, msg.Role, partsJSON, seq).Scan(&msg.CreatedAt)
		if err != nil {
			return classify(fmt.Errorf("inserting message %d (%s): %w", i, msg.ID, err))
		}
		msg.ChatID = chatID
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing append for chat %s: %w", chatID, err)
	}

	s.logger.Debug("appended messages", "chat_id", chatID, "count", len(messages))
	return nil
}

// ListMessages returns all messages of a chat ordered by creation
// (sequence) ascending. That order is the only valid replay order.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]*chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, role, parts, created_at
		FROM messages WHERE chat_id = $1 ORDER BY seq ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing messages for chat %s: %w", chatID, err)
	}
	defer rows.Close()

	var messages []*chat.Message
	for rows.Next() {
		var (
			msg       chat.Message
			partsJSON []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &partsJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if err := json.Unmarshal(partsJSON, &msg.Parts); err != nil {
			// Persisted content this build cannot decode is skipped, not fatal.
			s.logger.Warn("skipping undecodable message", "message_id", msg.ID, "error", err)
			continue
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages for chat %s: %w", chatID, err)
	}
	return messages, nil
}

// TruncateFrom deletes the message with the given ID and everything after
// it, atomically. It implements the edit operation: the superseded suffix is
// removed in one transaction, then the caller appends the re-derived turn.
func (s *Store) TruncateFrom(ctx context.Context, chatID, messageID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning truncate transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("truncate rollback", "error", rbErr)
		}
	}()

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("chat %s: %w", chatID, chat.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("locking chat %s: %w", chatID, err)
	}

	var seq int32
	err = tx.QueryRow(ctx,
		`SELECT seq FROM messages WHERE chat_id = $1 AND id = $2`, chatID, messageID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("message %s: %w", messageID, chat.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("locating message %s: %w", messageID, err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM messages WHERE chat_id = $1 AND seq >= $2`, chatID, seq)
	if err != nil {
		return fmt.Errorf("truncating chat %s from seq %d: %w", chatID, seq, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing truncate for chat %s: %w", chatID, err)
	}

	s.logger.Debug("truncated messages", "chat_id", chatID, "from_seq", seq, "deleted", tag.RowsAffected())
	return nil
}

// CreateStreamHandle records one generation invocation for a chat. The row
// is durable before the caller emits any event, so a resume attempt
// immediately after start always finds the handle.
func (s *Store) CreateStreamHandle(ctx context.Context, chatID string) (*chat.StreamHandle, error) {
	h := chat.StreamHandle{ID: shortuuid.New(), ChatID: chatID}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stream_handles (id, chat_id, created_at)
		VALUES ($1, $2, now())
		RETURNING created_at`, h.ID, chatID).Scan(&h.CreatedAt)
	if err != nil {
		err = classify(fmt.Errorf("creating stream handle for chat %s: %w", chatID, err))
		if isForeignKey(err) {
			return nil, fmt.Errorf("chat %s: %w", chatID, chat.ErrNotFound)
		}
		return nil, err
	}
	s.logger.Debug("created stream handle", "chat_id", chatID, "handle_id", h.ID)
	return &h, nil
}

// LastStreamHandle returns a chat's most recent stream handle, the only
// resumable target, or chat.ErrNotFound when the chat has never had a
// generation.
func (s *Store) LastStreamHandle(ctx context.Context, chatID string) (*chat.StreamHandle, error) {
	var h chat.StreamHandle
	err := s.pool.QueryRow(ctx, `
		SELECT id, chat_id, created_at FROM stream_handles
		WHERE chat_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, chatID).
		Scan(&h.ID, &h.ChatID, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("stream handles for chat %s: %w", chatID, chat.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting last stream handle for chat %s: %w", chatID, err)
	}
	return &h, nil
}

// ListStreamHandleIDs returns a chat's stream handle IDs ordered by creation
// ascending (oldest first). The last entry is the only resumable target.
func (s *Store) ListStreamHandleIDs(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM stream_handles WHERE chat_id = $1 ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing stream handles for chat %s: %w", chatID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stream handle: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stream handles for chat %s: %w", chatID, err)
	}
	return ids, nil
}

// ListChats returns a user's chats, newest first.
func (s *Store) ListChats(ctx context.Context, ownerID string, limit int32) ([]*chat.Chat, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, space_id, title, created_at
		FROM chats WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing chats for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var chats []*chat.Chat
	for rows.Next() {
		var (
			c       chat.Chat
			spaceID *string
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &spaceID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		if spaceID != nil {
			c.SpaceID = *spaceID
		}
		chats = append(chats, &c)
	}
	return chats, rows.Err()
}

// classify maps Postgres constraint violations to ErrConstraint so callers
// can distinguish data errors from infrastructure failures.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.ForeignKeyViolation,
			pgerrcode.NotNullViolation, pgerrcode.CheckViolation:
			return fmt.Errorf("%w: %s", ErrConstraint, err)
		}
	}
	return err
}

func isForeignKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}
