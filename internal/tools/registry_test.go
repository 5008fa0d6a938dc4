package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenchat/lumen/internal/log"
)

type echoInput struct {
	Value string `json:"value"`
}

type echoOutput struct {
	Echo string `json:"echo"`
}

func newEchoTool(name string) Executor {
	return New(name, "echoes its input",
		map[string]any{"type": "object"},
		func(_ context.Context, in echoInput) (echoOutput, error) {
			return echoOutput{Echo: in.Value}, nil
		},
	)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newEchoTool("echo")))

	assert.NotNil(t, r.Lookup("echo"))
	assert.Nil(t, r.Lookup("missing"))

	// Duplicate registration is rejected.
	assert.Error(t, r.Register(newEchoTool("echo")))
}

func TestRegistryDeclarationsSkipsUnregistered(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newEchoTool("web_search")))
	require.NoError(t, r.Register(newEchoTool("memory_save")))

	decls := r.Declarations([]string{"web_search", "scholar_search", "memory_save"})
	require.Len(t, decls, 2)
	assert.Equal(t, "memory_save", decls[0].Name)
	assert.Equal(t, "web_search", decls[1].Name)
}

func TestToolExecuteRoundTrip(t *testing.T) {
	e := newEchoTool("echo")

	out, err := e.Execute(context.Background(), json.RawMessage(`{"value":"hello"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"hello"}`, string(out))
}

func TestToolExecuteInvalidInput(t *testing.T) {
	e := newEchoTool("echo")

	_, err := e.Execute(context.Background(), json.RawMessage(`{"value":42}`))
	assert.Error(t, err)
}

func TestSearchClient(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "go streaming", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(`{"results":[
			{"title":"Streams in Go","url":"https://example.com/a","content":"about streams"},
			{"title":"More streams","url":"https://example.com/b","content":"even more"}
		]}`))
	}))
	defer backend.Close()

	client := NewSearchClient(backend.URL, log.NewNop())
	results, err := client.Search(context.Background(), "go streaming")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Streams in Go", results[0].Title)
	assert.Equal(t, "https://example.com/a", results[0].URL)
}

func TestSearchClientBackendError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer backend.Close()

	client := NewSearchClient(backend.URL, log.NewNop())
	_, err := client.Search(context.Background(), "anything")
	assert.Error(t, err)
}

func TestWebSearchTool(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"title":"T","url":"https://e.com","content":"s"}]}`))
	}))
	defer backend.Close()

	e := NewWebSearch(NewSearchClient(backend.URL, log.NewNop()))
	assert.Equal(t, "web_search", e.Declaration().Name)

	out, err := e.Execute(context.Background(), json.RawMessage(`{"query":"x"}`))
	require.NoError(t, err)

	var parsed SearchOutput
	require.NoError(t, json.Unmarshal(out, &parsed))
	require.Len(t, parsed.Results, 1)
	assert.Equal(t, "T", parsed.Results[0].Title)
}
