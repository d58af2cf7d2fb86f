// Package generator wraps the AI services that enrich memes: tag generation
// from the image and text embeddings for the vector index. Both are
// best-effort dependencies; callers must tolerate their failure without
// losing writes.
package generator

import "context"

// TagGenerator produces descriptive tags for a meme image.
type TagGenerator interface {
	// GenerateTags returns tag texts for the image in the given language.
	// The returned tags are raw model output; callers normalize them.
	GenerateTags(ctx context.Context, imageData []byte, mimeType, language string) ([]string, error)
}

// EmbeddingGenerator turns text into vectors for the similarity index.
// Document and query embeddings may use different task modes, so the two
// are separate methods.
type EmbeddingGenerator interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
