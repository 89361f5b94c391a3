// Package embedding is the black-box embedding port: given text, produce a
// fixed-dimension unit vector. The core only compares returned vectors by
// cosine similarity; it does not check their length, norm, or NaN values.
package embedding

import "context"

// Embedder produces vector embeddings from text. When no backend is
// configured, New returns the Noop embedder, which reports itself
// unavailable; the rest of the core degrades gracefully in that case.
type Embedder interface {
	// Embed returns a unit-norm vector for text, or an error. Implementations
	// return plain errors; callers wrap them as memerr.EmbeddingUnavailable.
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	IsAvailable() bool
}

// noop is the zero-value Embedder used when no backend is configured.
// IsAvailable always reports false so callers fall through to Phase-1 scoring
// instead of calling Embed.
type noop struct{}

func (noop) Embed(context.Context, string) ([]float32, error) { return nil, errUnavailable }
func (noop) Dimensions() int                                  { return 0 }
func (noop) IsAvailable() bool                                { return false }

// Noop returns an Embedder that is always unavailable.
func Noop() Embedder { return noop{} }
