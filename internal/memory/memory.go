// Package memory persists user facts the model chooses to remember, with
// vector search for recall.
//
// Store is safe for concurrent use by multiple goroutines.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/lumenchat/lumen/internal/knowledge"
)

// Memory is one stored fact about a user.
type Memory struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store manages user memories.
type Store struct {
	pool     *pgxpool.Pool
	embedder knowledge.Embedder
	logger   *slog.Logger
}

// New creates a Store.
func New(pool *pgxpool.Pool, embedder knowledge.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}
}

// Save stores one fact for a user and returns its ID.
func (s *Store) Save(ctx context.Context, ownerID, content string) (string, error) {
	if ownerID == "" || content == "" {
		return "", errors.New("memory requires owner and content")
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("embedding memory: %w", err)
	}

	var id string
	err = s.pool.QueryRow(ctx, `
		INSERT INTO memories (owner_id, content, embedding, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id`,
		ownerID, content, pgvector.NewVector(vec)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("saving memory: %w", err)
	}

	s.logger.Debug("saved memory", "owner", ownerID, "id", id, "content_length", len(content))
	return id, nil
}

// Search returns the memories most similar to query for one user, ordered
// by similarity descending.
func (s *Store) Search(ctx context.Context, ownerID, query string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 10
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, content, created_at
		FROM memories
		WHERE owner_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		pgvector.NewVector(vec), ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
