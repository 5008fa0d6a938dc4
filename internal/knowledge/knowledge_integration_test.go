//go:build integration
// +build integration

package knowledge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenchat/lumen/internal/knowledge"
	"github.com/lumenchat/lumen/internal/log"
	"github.com/lumenchat/lumen/internal/testutil"
)

func newKnowledgeStore(t *testing.T) *knowledge.Store {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return knowledge.New(db.Pool, &testutil.HashEmbedder{}, log.NewNop())
}

func TestAddAndSearch(t *testing.T) {
	s := newKnowledgeStore(t)
	ctx := context.Background()

	docs := []knowledge.Document{
		{ID: "doc-1", Title: "Go", Content: "Go is a statically typed language."},
		{ID: "doc-2", Title: "Postgres", Content: "PostgreSQL is a relational database."},
		{ID: "doc-3", Title: "Vectors", Content: "pgvector adds vector similarity search."},
	}
	for _, d := range docs {
		require.NoError(t, s.Add(ctx, d))
	}

	// The hash embedder maps identical text to identical vectors, so an
	// exact-content query must rank its document first with score 1.
	results, err := s.Search(ctx, "Go is a statically typed language.", "", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc-1", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)
}

func TestAddUpserts(t *testing.T) {
	s := newKnowledgeStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, knowledge.Document{ID: "doc-1", Content: "first version"}))
	require.NoError(t, s.Add(ctx, knowledge.Document{
		ID:       "doc-1",
		Title:    "Updated",
		Content:  "second version",
		Metadata: map[string]any{"revision": float64(2)},
	}))

	results, err := s.Search(ctx, "second version", "", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].ID)
	assert.Equal(t, "Updated", results[0].Title)
	assert.Equal(t, "second version", results[0].Content)
	assert.Equal(t, map[string]any{"revision": float64(2)}, results[0].Metadata)
}

func TestSearchScopedToSpace(t *testing.T) {
	s := newKnowledgeStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, knowledge.Document{ID: "a", SpaceID: "work", Content: "quarterly report"}))
	require.NoError(t, s.Add(ctx, knowledge.Document{ID: "b", SpaceID: "home", Content: "grocery list"}))

	results, err := s.Search(ctx, "report", "work", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "work", results[0].SpaceID)

	all, err := s.Search(ctx, "report", "", 5)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAddRejectsIncompleteDocument(t *testing.T) {
	s := newKnowledgeStore(t)
	ctx := context.Background()

	assert.Error(t, s.Add(ctx, knowledge.Document{Content: "no id"}))
	assert.Error(t, s.Add(ctx, knowledge.Document{ID: "no-content"}))
}
