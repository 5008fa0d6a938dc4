package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/lumenchat/lumen/internal/log"
	"github.com/lumenchat/lumen/internal/security"
)

const (
	readPageTimeout = 30 * time.Second
	maxArticleChars = 20000
)

// ReadPageInput is the model-facing input for read_page.
type ReadPageInput struct {
	URL string `json:"url"`
}

// ReadPageOutput carries the extracted readable text of a page.
type ReadPageOutput struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// NewReadPage builds the read_page executor: fetches a URL and extracts
// the readable article text.
func NewReadPage(logger log.Logger) Executor {
	// The URL comes from the model, so fetches go through the SSRF guard.
	guard := security.NewURLGuard()
	client := &http.Client{
		Timeout:       readPageTimeout,
		Transport:     guard.Transport(),
		CheckRedirect: guard.CheckRedirect,
	}

	return New(
		"read_page",
		"Fetch a web page and extract its readable article text. Use after web_search to read a result in full.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The absolute URL of the page to read",
				},
			},
			"required": []string{"url"},
		},
		func(ctx context.Context, in ReadPageInput) (ReadPageOutput, error) {
			if err := guard.Validate(in.URL); err != nil {
				return ReadPageOutput{}, fmt.Errorf("refusing to fetch %q: %w", in.URL, err)
			}
			pageURL, err := url.Parse(in.URL)
			if err != nil || !pageURL.IsAbs() {
				return ReadPageOutput{}, fmt.Errorf("invalid url %q", in.URL)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
			if err != nil {
				return ReadPageOutput{}, fmt.Errorf("building request: %w", err)
			}

			resp, err := client.Do(req)
			if err != nil {
				return ReadPageOutput{}, fmt.Errorf("fetching %s: %w", pageURL, err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusOK {
				return ReadPageOutput{}, fmt.Errorf("fetching %s: status %d", pageURL, resp.StatusCode)
			}

			article, err := readability.FromReader(resp.Body, pageURL)
			if err != nil {
				return ReadPageOutput{}, fmt.Errorf("extracting article from %s: %w", pageURL, err)
			}

			content := article.TextContent
			if len(content) > maxArticleChars {
				content = content[:maxArticleChars]
			}

			logger.Debug("read page", "url", pageURL.String(), "content_length", len(content))
			return ReadPageOutput{URL: pageURL.String(), Title: article.Title, Content: content}, nil
		},
	)
}
