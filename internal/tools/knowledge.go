package tools

import (
	"context"

	"github.com/lumenchat/lumen/internal/knowledge"
)

// KnowledgeSearcher is the slice of knowledge.Store this package consumes.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query, spaceID string, limit int) ([]knowledge.Result, error)
}

type spaceKey struct{}

// ContextWithSpace scopes knowledge search to a space for the duration of
// one generation. The registry is shared across chats, so per-chat scope
// travels on the context.
func ContextWithSpace(ctx context.Context, spaceID string) context.Context {
	if spaceID == "" {
		return ctx
	}
	return context.WithValue(ctx, spaceKey{}, spaceID)
}

func spaceFromContext(ctx context.Context) string {
	s, _ := ctx.Value(spaceKey{}).(string)
	return s
}

// KnowledgeSearchInput is the model-facing input for knowledge_search.
type KnowledgeSearchInput struct {
	Query string `json:"query"`
}

// KnowledgeSearchOutput carries knowledge-base hits.
type KnowledgeSearchOutput struct {
	Results []knowledge.Result `json:"results"`
}

// NewKnowledgeSearch builds the knowledge_search executor. spaceID scopes
// every search; when empty, the per-generation space from the context
// applies, and if that is also empty the whole knowledge base is searched.
func NewKnowledgeSearch(searcher KnowledgeSearcher, spaceID string) Executor {
	return New(
		"knowledge_search",
		"Search the user's knowledge base for relevant documents.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look up in the knowledge base",
				},
			},
			"required": []string{"query"},
		},
		func(ctx context.Context, in KnowledgeSearchInput) (KnowledgeSearchOutput, error) {
			space := spaceID
			if space == "" {
				space = spaceFromContext(ctx)
			}
			results, err := searcher.Search(ctx, in.Query, space, 5)
			if err != nil {
				return KnowledgeSearchOutput{}, err
			}
			return KnowledgeSearchOutput{Results: results}, nil
		},
	)
}

// MemoryWriter is the slice of memory.Store this package consumes.
type MemoryWriter interface {
	Save(ctx context.Context, ownerID, content string) (string, error)
}

// MemorySaveInput is the model-facing input for memory_save.
type MemorySaveInput struct {
	Content string `json:"content"`
}

// MemorySaveOutput confirms a stored memory.
type MemorySaveOutput struct {
	ID     string `json:"id"`
	Stored bool   `json:"stored"`
}

// NewMemorySave builds the memory_save executor bound to one owner.
func NewMemorySave(writer MemoryWriter, ownerID string) Executor {
	return New(
		"memory_save",
		"Store a lasting fact about the user (preference, project, identity) for future conversations.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "The fact to remember, phrased as a standalone sentence",
				},
			},
			"required": []string{"content"},
		},
		func(ctx context.Context, in MemorySaveInput) (MemorySaveOutput, error) {
			id, err := writer.Save(ctx, ownerID, in.Content)
			if err != nil {
				return MemorySaveOutput{}, err
			}
			return MemorySaveOutput{ID: id, Stored: true}, nil
		},
	)
}
