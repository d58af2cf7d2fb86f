// Package index holds the derived search backends. Both are rebuildable
// caches over the primary store: every write here is idempotent and keyed by
// meme id, so replaying a propagation is always safe.
package index

import (
	"context"
	"time"
)

// TextDoc is the flattened text view of a meme handed to the full-text
// backend. It carries every searchable string the meme has, across all
// languages.
type TextDoc struct {
	ID           string    `json:"id"`
	Slug         string    `json:"slug"`
	Tags         []string  `json:"tags"`
	Titles       []string  `json:"titles"`
	Captions     []string  `json:"captions"`
	Descriptions []string  `json:"descriptions"`
	TextOnMeme   []string  `json:"text_on_meme"`
	CreatedAt    time.Time `json:"created_at"`
}

// Hit is a single ranked result from a backend. Scores are backend-native
// and not comparable across backends; the search coordinator normalizes
// them before merging.
type Hit struct {
	ID    string
	Score float64
}

// TextIndex is the full-text backend contract.
type TextIndex interface {
	// Upsert replaces the document for doc.ID.
	Upsert(ctx context.Context, doc *TextDoc) error
	// Delete removes the document; deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// Search runs a relevance-ranked query. An empty result is a valid
	// answer, not an error.
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	Close() error
}

// VectorIndex is the vector-similarity backend contract.
type VectorIndex interface {
	// Upsert replaces the point for the meme id.
	Upsert(ctx context.Context, id string, vector []float32, payload *VectorPayload) error
	// Delete removes the point; deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// Search returns the nearest points to the query vector.
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)
	Close() error
}

// VectorPayload is the metadata stored alongside each vector point.
type VectorPayload struct {
	Slug string
	Tags []string
}
