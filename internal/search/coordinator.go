// Package search answers hybrid queries by fanning out to the text and
// vector backends, merging their rankings, and confirming every candidate
// against the primary store before it reaches the caller.
package search

import (
	"context"
	"sort"
	"time"

	"github.com/maxp/memexpert/internal/domain"
	"github.com/maxp/memexpert/internal/generator"
	"github.com/maxp/memexpert/internal/index"
	applog "github.com/maxp/memexpert/internal/logger"
	"github.com/maxp/memexpert/internal/repository"
	"golang.org/x/sync/errgroup"
)

const (
	defaultLimit = 20
	maxLimit     = 100

	// candidateBuffer over-fetches beyond the requested page so that
	// candidates dropped during primary-store confirmation (deleted or
	// unpublished since indexing) are backfilled from the ranking.
	candidateBuffer = 20
)

// Config tunes the hybrid merge.
type Config struct {
	TextWeight    float64
	VectorWeight  float64
	Timeout       time.Duration
	FallbackLimit int
}

func (c *Config) applyDefaults() {
	if c.TextWeight == 0 && c.VectorWeight == 0 {
		c.TextWeight = 0.6
		c.VectorWeight = 0.4
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.FallbackLimit <= 0 {
		c.FallbackLimit = 50
	}
}

// Coordinator runs hybrid searches.
type Coordinator struct {
	memes    *repository.MemeRepository
	text     index.TextIndex
	vector   index.VectorIndex
	embedder generator.EmbeddingGenerator
	cfg      Config
}

// NewCoordinator creates a Coordinator.
// Parameters:
//   - memes: primary store used for confirmation and fallback.
//   - text: full-text backend.
//   - vector: vector backend.
//   - embedder: query embedding client; nil disables the vector leg.
//   - cfg: merge weights and limits; zero values get defaults.
// Returns:
//   - *Coordinator: ready coordinator.
func NewCoordinator(memes *repository.MemeRepository, text index.TextIndex, vector index.VectorIndex, embedder generator.EmbeddingGenerator, cfg Config) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		memes:    memes,
		text:     text,
		vector:   vector,
		embedder: embedder,
		cfg:      cfg,
	}
}

// Query is a full hybrid search request.
type Query struct {
	// Text is the user query; empty skips the text leg.
	Text string
	// Vector is an optional reference embedding. When set, the vector leg
	// uses it directly instead of embedding Text.
	Vector []float32
	// TextWeight and VectorWeight override the configured merge weights.
	// Both zero means use the configured defaults.
	TextWeight   float64
	VectorWeight float64
	// Language restricts results to memes carrying a translation or tag in
	// that language. Empty matches everything.
	Language string
	Limit    int
	Offset   int
}

// Result is one confirmed search hit.
type Result struct {
	Meme  domain.Meme `json:"meme"`
	Score float64     `json:"score"`
}

// Response is a full search answer. Degraded reports that at least one
// backend was unavailable and the ranking is partial.
type Response struct {
	Results  []Result `json:"results"`
	Degraded bool     `json:"degraded"`
}

// Search answers a query. Both backends are queried concurrently; a backend
// failure degrades the response instead of failing it. Every candidate is
// confirmed to still exist and be published before it is returned, so the
// caller never sees a meme deleted between indexing and now.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: raw user query text.
//   - limit: page size; clamped to [1, 100], default 20.
//   - offset: pagination offset into the merged ranking.
// Returns:
//   - *Response: ranked, confirmed results.
//   - error: non-nil only on primary-store failures.
func (c *Coordinator) Search(ctx context.Context, query string, limit, offset int) (*Response, error) {
	return c.SearchQuery(ctx, &Query{Text: query, Limit: limit, Offset: offset})
}

// SearchQuery answers a full query, including per-request weights, a
// reference embedding, and a language filter.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - q: query; zero limit and weights get defaults.
// Returns:
//   - *Response: ranked, confirmed results.
//   - error: non-nil only on primary-store failures.
func (c *Coordinator) SearchQuery(ctx context.Context, q *Query) (*Response, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	wText, wVec := q.TextWeight, q.VectorWeight
	if wText == 0 && wVec == 0 {
		wText, wVec = c.cfg.TextWeight, c.cfg.VectorWeight
	}
	candidateLimit := offset + limit + candidateBuffer

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	// Each leg writes only its own locals; degradation is combined after
	// the group is done.
	var (
		textHits       []index.Hit
		vectorHits     []index.Hit
		textDegraded   bool
		vectorDegraded bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if q.Text == "" {
			return nil
		}
		textHits, textDegraded = c.searchText(gctx, q.Text, candidateLimit)
		return nil
	})
	g.Go(func() error {
		vectorHits, vectorDegraded = c.searchVector(gctx, q, candidateLimit)
		return nil
	})
	// The goroutines never return errors.
	_ = g.Wait()
	degraded := textDegraded || vectorDegraded

	merged := mergeHits(textHits, vectorHits, wText, wVec)

	results, err := c.confirm(ctx, merged, q.Language)
	if err != nil {
		return nil, err
	}

	// Final deterministic order: score, then recency, then id.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Meme.CreatedAt.Equal(results[j].Meme.CreatedAt) {
			return results[i].Meme.CreatedAt.After(results[j].Meme.CreatedAt)
		}
		return results[i].Meme.ID < results[j].Meme.ID
	})

	if offset >= len(results) {
		results = []Result{}
	} else {
		results = results[offset:]
		if len(results) > limit {
			results = results[:limit]
		}
	}

	return &Response{Results: results, Degraded: degraded}, nil
}

// searchText queries the full-text backend, falling back to an unranked
// primary-store tag match when it is down. The second return reports whether
// the fallback was taken.
func (c *Coordinator) searchText(ctx context.Context, query string, limit int) ([]index.Hit, bool) {
	hits, err := c.text.Search(ctx, query, limit)
	if err == nil {
		return hits, false
	}
	applog.CtxWarn(ctx, "text backend unavailable, falling back to tag match: %v", err)

	fallbackLimit := limit
	if fallbackLimit > c.cfg.FallbackLimit {
		fallbackLimit = c.cfg.FallbackLimit
	}
	memes, ferr := c.memes.SearchTagsLike(ctx, query, fallbackLimit)
	if ferr != nil {
		applog.CtxError(ctx, "tag fallback failed: %v", ferr)
		return nil, true
	}

	// Uniform scores: the fallback is unranked, so recency decides the
	// order after the tie-break.
	out := make([]index.Hit, len(memes))
	for i, m := range memes {
		out[i] = index.Hit{ID: m.ID, Score: 1.0}
	}
	return out, true
}

// searchVector resolves a query vector and asks the vector backend. Either
// step failing degrades the leg to empty. Without an embedder the leg is
// not configured at all, which is not a degradation.
func (c *Coordinator) searchVector(ctx context.Context, q *Query, limit int) ([]index.Hit, bool) {
	vec := q.Vector
	if vec == nil {
		if q.Text == "" || c.embedder == nil {
			return nil, false
		}
		embedded, err := c.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			applog.CtxWarn(ctx, "query embedding unavailable: %v", err)
			return nil, true
		}
		vec = embedded
	}
	hits, err := c.vector.Search(ctx, vec, limit)
	if err != nil {
		applog.CtxWarn(ctx, "vector backend unavailable: %v", err)
		return nil, true
	}
	return hits, false
}

// confirm resolves merged hits against the primary store, dropping any
// candidate that no longer exists, is being deleted, lost its published
// status, or misses the language filter. Later candidates backfill the
// dropped positions because the merged list was over-fetched.
func (c *Coordinator) confirm(ctx context.Context, merged []index.Hit, language string) ([]Result, error) {
	if len(merged) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, len(merged))
	for i, h := range merged {
		ids[i] = h.ID
	}
	memes, err := c.memes.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Meme, len(memes))
	for i := range memes {
		byID[memes[i].ID] = &memes[i]
	}

	results := make([]Result, 0, len(merged))
	for _, h := range merged {
		meme, ok := byID[h.ID]
		if !ok || !meme.Indexable() {
			continue
		}
		if language != "" && !hasLanguage(meme, language) {
			continue
		}
		results = append(results, Result{Meme: *meme, Score: h.Score})
	}
	return results, nil
}

func hasLanguage(meme *domain.Meme, language string) bool {
	for _, tr := range meme.Translations {
		if tr.Language == language {
			return true
		}
	}
	for _, tag := range meme.Tags {
		if tag.Language == language {
			return true
		}
	}
	return false
}
