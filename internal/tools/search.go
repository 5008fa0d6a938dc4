package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lumenchat/lumen/internal/log"
)

// Search client limits.
const (
	searchTimeout     = 15 * time.Second
	maxSearchResults  = 8
	maxSearchBodySize = 4 << 20 // 4 MiB
)

// SearchResult is one hit from a search backend.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchClient queries a SearxNG-compatible JSON search endpoint. Web and
// academic search are two instances of the same contract pointed at
// different endpoints.
type SearchClient struct {
	endpoint string
	client   *http.Client
	logger   log.Logger
}

// NewSearchClient creates a client against the given base endpoint.
func NewSearchClient(endpoint string, logger log.Logger) *SearchClient {
	return &SearchClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: searchTimeout},
		logger:   logger,
	}
}

// searxResponse mirrors the subset of the SearxNG JSON format we consume.
type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs one query and returns up to maxSearchResults hits.
func (c *SearchClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	var parsed searxResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]SearchResult, 0, maxSearchResults)
	for _, r := range parsed.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(results) == maxSearchResults {
			break
		}
	}

	c.logger.Debug("search completed", "query_length", len(query), "results", len(results))
	return results, nil
}

// SearchInput is the model-facing input for the search tools.
type SearchInput struct {
	Query string `json:"query"`
}

// SearchOutput is the model-facing output for the search tools.
type SearchOutput struct {
	Results []SearchResult `json:"results"`
}

func searchSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
		},
		"required": []string{"query"},
	}
}

// NewWebSearch builds the web_search executor.
func NewWebSearch(client *SearchClient) Executor {
	return New(
		"web_search",
		"Search the web for current information. Returns titles, URLs and snippets.",
		searchSchema(),
		func(ctx context.Context, in SearchInput) (SearchOutput, error) {
			results, err := client.Search(ctx, in.Query)
			if err != nil {
				return SearchOutput{}, err
			}
			return SearchOutput{Results: results}, nil
		},
	)
}

// NewScholarSearch builds the scholar_search executor against an academic
// search endpoint.
func NewScholarSearch(client *SearchClient) Executor {
	return New(
		"scholar_search",
		"Search academic papers and publications. Returns titles, URLs and abstract snippets.",
		searchSchema(),
		func(ctx context.Context, in SearchInput) (SearchOutput, error) {
			results, err := client.Search(ctx, in.Query)
			if err != nil {
				return SearchOutput{}, err
			}
			return SearchOutput{Results: results}, nil
		},
	)
}
