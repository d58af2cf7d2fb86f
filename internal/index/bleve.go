package index

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/maxp/memexpert/internal/domain"
)

// BleveIndex implements TextIndex on an embedded bleve index. With an empty
// path the index lives in memory, which the tests rely on.
type BleveIndex struct {
	idx bleve.Index
}

// NewBleveIndex opens the index at path, creating it when absent.
// Parameters:
//   - path: index directory; empty selects an in-memory index.
// Returns:
//   - *BleveIndex: ready adapter.
//   - error: non-nil if the index cannot be opened or created.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory text index: %w", err)
		}
		return &BleveIndex{idx: idx}, nil
	}

	idx, err := bleve.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("%w: failed to open text index at %s: %v", domain.ErrConfiguration, path, err)
		}
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create text index at %s: %w", path, err)
		}
	}
	return &BleveIndex{idx: idx}, nil
}

// buildMapping defines the per-field analysis. Everything searchable goes
// through the standard analyzer, which tokenizes unicode text, so Cyrillic
// tags work without extra configuration. The slug is kept out of scoring.
func buildMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Store = false

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Index = false
	keywordField.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("tags", textField)
	doc.AddFieldMappingsAt("titles", textField)
	doc.AddFieldMappingsAt("captions", textField)
	doc.AddFieldMappingsAt("descriptions", textField)
	doc.AddFieldMappingsAt("text_on_meme", textField)
	doc.AddFieldMappingsAt("slug", keywordField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	return b.idx.Close()
}

// Upsert replaces the document stored under doc.ID. Indexing the same id
// twice leaves one document, which makes retries safe.
// Parameters:
//   - ctx: context for cancellation (bleve writes are synchronous).
//   - doc: flattened text view of the meme.
// Returns:
//   - error: domain.ErrAdapterUnavailable if the write fails.
func (b *BleveIndex) Upsert(ctx context.Context, doc *TextDoc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields := map[string]interface{}{
		"slug":         doc.Slug,
		"tags":         doc.Tags,
		"titles":       doc.Titles,
		"captions":     doc.Captions,
		"descriptions": doc.Descriptions,
		"text_on_meme": doc.TextOnMeme,
	}
	if err := b.idx.Index(doc.ID, fields); err != nil {
		return fmt.Errorf("%w: failed to index document: %v", domain.ErrAdapterUnavailable, err)
	}
	return nil
}

// Delete removes the document for a meme. Deleting an absent id succeeds.
// Parameters:
//   - ctx: context for cancellation.
//   - id: meme id.
// Returns:
//   - error: domain.ErrAdapterUnavailable if the write fails.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.idx.Delete(id); err != nil {
		return fmt.Errorf("%w: failed to delete document: %v", domain.ErrAdapterUnavailable, err)
	}
	return nil
}

// Search runs a relevance-ranked match query across all indexed fields.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: raw user query text.
//   - limit: maximum number of hits.
// Returns:
//   - []Hit: scored hits, best first; empty when nothing matches.
//   - error: domain.ErrAdapterUnavailable if the query fails.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)

	res, err := b.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: text search failed: %v", domain.ErrAdapterUnavailable, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}
