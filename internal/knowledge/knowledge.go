// Package knowledge manages the knowledge base: documents with vector
// embeddings stored in PostgreSQL + pgvector, searched by cosine similarity.
//
// Store is safe for concurrent use by multiple goroutines.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// searchTimeout bounds vector search queries so a slow index never blocks a
// generation indefinitely.
const searchTimeout = 10 * time.Second

// Embedder converts text into an embedding vector. Implemented by
// googleai.Embedder in production and by a deterministic mock in tests.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Document is a unit of knowledge-base content.
type Document struct {
	ID       string         `json:"id"`
	SpaceID  string         `json:"spaceId,omitempty"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is a search hit with its cosine similarity score.
type Result struct {
	Document
	Score float64 `json:"score"`
}

// Store manages knowledge documents.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	logger   *slog.Logger
}

// New creates a Store.
func New(pool *pgxpool.Pool, embedder Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}
}

// Add upserts a document, embedding its content.
func (s *Store) Add(ctx context.Context, doc Document) error {
	if doc.ID == "" || doc.Content == "" {
		return errors.New("document requires id and content")
	}

	vec, err := s.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %s: %w", doc.ID, err)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %s: %w", doc.ID, err)
	}

	var spaceID *string
	if doc.SpaceID != "" {
		spaceID = &doc.SpaceID
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO knowledge_documents (id, space_id, title, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE
		SET space_id = EXCLUDED.space_id,
		    title = EXCLUDED.title,
		    content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata`,
		doc.ID, spaceID, doc.Title, doc.Content, pgvector.NewVector(vec), metadataJSON)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.ID, err)
	}

	s.logger.Debug("added document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search returns the documents most similar to query, ordered by similarity
// descending. An empty spaceID searches all spaces; otherwise results are
// scoped to the space.
func (s *Store) Search(ctx context.Context, query, spaceID string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	qv := pgvector.NewVector(vec)

	// Cosine distance: similarity = 1 - distance.
	const base = `
		SELECT id, space_id, title, content, metadata, 1 - (embedding <=> $1) AS score
		FROM knowledge_documents`

	var rows pgx.Rows
	if spaceID == "" {
		rows, err = s.pool.Query(ctx, base+` ORDER BY embedding <=> $1 LIMIT $2`, qv, limit)
	} else {
		rows, err = s.pool.Query(ctx, base+` WHERE space_id = $3 ORDER BY embedding <=> $1 LIMIT $2`, qv, limit, spaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r            Result
			rowSpaceID   *string
			metadataJSON []byte
		)
		if err := rows.Scan(&r.ID, &rowSpaceID, &r.Title, &r.Content, &metadataJSON, &r.Score); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if rowSpaceID != nil {
			r.SpaceID = *rowSpaceID
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
				s.logger.Warn("undecodable document metadata", "id", r.ID, "error", err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
