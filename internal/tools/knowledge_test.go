package tools_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenchat/lumen/internal/knowledge"
	"github.com/lumenchat/lumen/internal/tools"
)

type fakeSearcher struct {
	lastQuery string
	lastSpace string
	results   []knowledge.Result
}

func (f *fakeSearcher) Search(_ context.Context, query, spaceID string, _ int) ([]knowledge.Result, error) {
	f.lastQuery = query
	f.lastSpace = spaceID
	return f.results, nil
}

func TestKnowledgeSearchUsesConfiguredSpace(t *testing.T) {
	t.Parallel()
	searcher := &fakeSearcher{}
	tool := tools.NewKnowledgeSearch(searcher, "work")

	ctx := tools.ContextWithSpace(context.Background(), "other")
	_, err := tool.Execute(ctx, json.RawMessage(`{"query":"reports"}`))
	require.NoError(t, err)
	assert.Equal(t, "reports", searcher.lastQuery)
	assert.Equal(t, "work", searcher.lastSpace)
}

func TestKnowledgeSearchFallsBackToContextSpace(t *testing.T) {
	t.Parallel()
	searcher := &fakeSearcher{results: []knowledge.Result{
		{Document: knowledge.Document{ID: "doc-1", Content: "hit"}, Score: 0.9},
	}}
	tool := tools.NewKnowledgeSearch(searcher, "")

	ctx := tools.ContextWithSpace(context.Background(), "home")
	out, err := tool.Execute(ctx, json.RawMessage(`{"query":"groceries"}`))
	require.NoError(t, err)
	assert.Equal(t, "home", searcher.lastSpace)

	var decoded tools.KnowledgeSearchOutput
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded.Results, 1)
	assert.Equal(t, "doc-1", decoded.Results[0].ID)

	// No context space either: the whole knowledge base is searched.
	_, err = tool.Execute(context.Background(), json.RawMessage(`{"query":"anything"}`))
	require.NoError(t, err)
	assert.Empty(t, searcher.lastSpace)
}

type fakeWriter struct {
	lastOwner   string
	lastContent string
}

func (f *fakeWriter) Save(_ context.Context, ownerID, content string) (string, error) {
	f.lastOwner = ownerID
	f.lastContent = content
	return "mem-1", nil
}

func TestMemorySave(t *testing.T) {
	t.Parallel()
	writer := &fakeWriter{}
	tool := tools.NewMemorySave(writer, "alice")

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"content":"prefers tea"}`))
	require.NoError(t, err)
	assert.Equal(t, "alice", writer.lastOwner)
	assert.Equal(t, "prefers tea", writer.lastContent)

	var decoded tools.MemorySaveOutput
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "mem-1", decoded.ID)
	assert.True(t, decoded.Stored)
}
