package googleai

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Embedder generates vector embeddings with a Gemini embedding model.
type Embedder struct {
	client *genai.Client
	model  string
	dims   int32
}

// NewEmbedder creates an Embedder producing vectors of the given
// dimensionality. It shares the Runner's client.
func NewEmbedder(r *Runner, model string, dims int) *Embedder {
	return &Embedder{client: r.client, model: model, dims: int32(dims)}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		&genai.EmbedContentConfig{OutputDimensionality: &e.dims},
	)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}
