package testutil

import (
	"context"
	"hash/fnv"
)

// HashEmbedder is a deterministic Embedder for tests: it derives a unit
// vector from a hash of the text, so identical texts embed identically
// and no network access is needed.
type HashEmbedder struct {
	Dims int
}

// Embed implements knowledge.Embedder.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dims := e.Dims
	if dims <= 0 {
		dims = 768
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dims)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>32))/float32(1<<31)
	}
	return vec, nil
}
