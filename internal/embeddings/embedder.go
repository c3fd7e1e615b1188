// Package embeddings generates text embeddings for index records and queries.
package embeddings

import "context"

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// EmbedDocuments embeds a batch of texts, one vector per input, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// modelDimensions maps embedding models to their output dimension.
var modelDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// Dimensions returns the vector size a model produces, or 0 when unknown.
func Dimensions(model string) int {
	return modelDimensions[model]
}
