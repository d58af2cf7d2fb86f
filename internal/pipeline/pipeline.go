// Package pipeline pushes committed primary-store state into the derived
// index backends. Propagation is asynchronous, idempotent, and per-adapter:
// one backend failing never blocks the other, and never blocks a write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maxp/memexpert/internal/domain"
	"github.com/maxp/memexpert/internal/generator"
	"github.com/maxp/memexpert/internal/index"
	applog "github.com/maxp/memexpert/internal/logger"
	"github.com/maxp/memexpert/internal/repository"
	"github.com/maxp/memexpert/internal/storage"
)

// Config tunes retry behavior and async propagation.
type Config struct {
	MaxAttempts  int
	RetryBase    time.Duration
	RetryCap     time.Duration
	AsyncTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 6
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}
	if c.RetryCap <= 0 {
		c.RetryCap = time.Hour
	}
	if c.AsyncTimeout <= 0 {
		c.AsyncTimeout = 2 * time.Minute
	}
}

// Pipeline propagates meme state to the text and vector backends.
type Pipeline struct {
	memes    *repository.MemeRepository
	text     index.TextIndex
	vector   index.VectorIndex
	embedder generator.EmbeddingGenerator
	store    storage.BlobStore
	cfg      Config
	locks    *keyedMutex
}

// New creates a Pipeline.
// Parameters:
//   - memes: primary store repository.
//   - text: full-text backend.
//   - vector: vector backend.
//   - embedder: embedding client used before vector pushes.
//   - store: blob store; media is removed on hard delete. May be nil.
//   - cfg: retry configuration; zero values get defaults.
// Returns:
//   - *Pipeline: ready pipeline.
func New(memes *repository.MemeRepository, text index.TextIndex, vector index.VectorIndex, embedder generator.EmbeddingGenerator, store storage.BlobStore, cfg Config) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		memes:    memes,
		text:     text,
		vector:   vector,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		locks:    newKeyedMutex(),
	}
}

// PropagateAsync schedules propagation on a detached context so the caller's
// request can return immediately. Failures are recorded in adapter state and
// picked up by reconciliation, so a lost goroutine loses nothing.
func (p *Pipeline) PropagateAsync(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AsyncTimeout)
		defer cancel()
		ctx = applog.WithField(ctx, applog.FieldMemeID, id)
		if err := p.Propagate(ctx, id); err != nil {
			applog.CtxError(ctx, "async propagation failed: %v", err)
		}
	}()
}

// Propagate reads the meme's current state and drives both adapters toward
// it. Concurrent calls for the same meme are serialized; replaying a call is
// always safe because every adapter write is idempotent and every state
// update is version-guarded.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id.
// Returns:
//   - error: non-nil only on primary-store failures. Adapter failures are
//     recorded as per-adapter state, not returned.
func (p *Pipeline) Propagate(ctx context.Context, id string) error {
	p.locks.Lock(id)
	defer p.locks.Unlock(id)

	meme, err := p.memes.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case meme.Deleting():
		return p.propagateDelete(ctx, meme)
	case !meme.Indexable():
		p.propagateAbsence(ctx, meme)
		return nil
	default:
		p.propagatePresence(ctx, meme)
		return nil
	}
}

// propagatePresence pushes the meme into both backends in parallel. Each
// adapter is skipped when it already holds the current version.
func (p *Pipeline) propagatePresence(ctx context.Context, meme *domain.Meme) {
	doc := buildTextDoc(meme)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.pushText(ctx, meme, doc)
	}()
	go func() {
		defer wg.Done()
		p.pushVector(ctx, meme, doc)
	}()
	wg.Wait()
}

func (p *Pipeline) pushText(ctx context.Context, meme *domain.Meme, doc *index.TextDoc) {
	if meme.TextIndex.Status == domain.IndexStatusSynced && meme.TextIndex.SyncedVersion == meme.Version {
		return
	}
	if err := p.text.Upsert(ctx, doc); err != nil {
		p.recordFailure(ctx, meme, domain.AdapterText, err)
		return
	}
	p.confirmSynced(ctx, meme, domain.AdapterText)
}

func (p *Pipeline) pushVector(ctx context.Context, meme *domain.Meme, doc *index.TextDoc) {
	if meme.VectorIndex.Status == domain.IndexStatusSynced && meme.VectorIndex.SyncedVersion == meme.Version {
		return
	}

	vec, err := p.embedder.EmbedDocument(ctx, buildEmbeddingText(doc))
	if err != nil {
		p.recordFailure(ctx, meme, domain.AdapterVector, err)
		return
	}
	if err := p.memes.SetEmbedding(ctx, meme.ID, vec); err != nil {
		applog.CtxWarn(ctx, "failed to cache embedding for meme %s: %v", meme.ID, err)
	}

	payload := &index.VectorPayload{Slug: meme.Slug, Tags: doc.Tags}
	if err := p.vector.Upsert(ctx, meme.ID, vec, payload); err != nil {
		p.recordFailure(ctx, meme, domain.AdapterVector, err)
		return
	}
	p.confirmSynced(ctx, meme, domain.AdapterVector)
}

// propagateAbsence removes an unpublished meme from both backends. A synced
// state here means the backend agrees the meme is absent.
func (p *Pipeline) propagateAbsence(ctx context.Context, meme *domain.Meme) {
	for _, adapter := range []domain.IndexAdapter{domain.AdapterText, domain.AdapterVector} {
		state := stateFor(meme, adapter)
		if state.Status == domain.IndexStatusSynced && state.SyncedVersion == meme.Version {
			continue
		}
		if err := p.adapterDelete(ctx, meme.ID, adapter); err != nil {
			p.recordFailure(ctx, meme, adapter, err)
			continue
		}
		p.confirmSynced(ctx, meme, adapter)
	}
}

// propagateDelete drives adapter removal and hard-deletes the primary row
// once both backends confirmed. A crash between confirmations leaves the
// row in a state reconciliation recognizes and finishes.
func (p *Pipeline) propagateDelete(ctx context.Context, meme *domain.Meme) error {
	both := meme.TextIndex.Status == domain.IndexStatusDeleted &&
		meme.VectorIndex.Status == domain.IndexStatusDeleted

	for _, adapter := range []domain.IndexAdapter{domain.AdapterText, domain.AdapterVector} {
		state := stateFor(meme, adapter)
		if state.Status != domain.IndexStatusPendingDelete {
			continue
		}
		if err := p.adapterDelete(ctx, meme.ID, adapter); err != nil {
			p.recordDeleteFailure(ctx, meme, adapter, err)
			continue
		}
		confirmed, err := p.memes.MarkDeleted(ctx, meme.ID, adapter)
		if err != nil {
			return err
		}
		both = confirmed
	}

	if !both {
		return nil
	}

	if p.store != nil && meme.StorageKey != "" {
		if err := p.store.Delete(ctx, meme.StorageKey); err != nil {
			applog.CtxWarn(ctx, "failed to delete blob %s: %v", meme.StorageKey, err)
		}
	}
	return p.memes.HardDelete(ctx, meme.ID)
}

func (p *Pipeline) adapterDelete(ctx context.Context, id string, adapter domain.IndexAdapter) error {
	if adapter == domain.AdapterVector {
		return p.vector.Delete(ctx, id)
	}
	return p.text.Delete(ctx, id)
}

func (p *Pipeline) confirmSynced(ctx context.Context, meme *domain.Meme, adapter domain.IndexAdapter) {
	ok, err := p.memes.MarkSynced(ctx, meme.ID, adapter, meme.Version)
	if err != nil {
		applog.CtxError(ctx, "failed to mark meme %s synced for %s: %v", meme.ID, adapter, err)
		return
	}
	if !ok {
		// A newer version committed while we were pushing; its own
		// propagation supersedes this one.
		applog.CtxDebug(ctx, "stale sync for meme %s on %s, version moved past %d", meme.ID, adapter, meme.Version)
	}
}

func (p *Pipeline) recordFailure(ctx context.Context, meme *domain.Meme, adapter domain.IndexAdapter, cause error) {
	state := stateFor(meme, adapter)
	attempts := state.Attempts + 1
	next := p.nextRetry(attempts)

	if err := p.memes.MarkFailed(ctx, meme.ID, adapter, meme.Version, cause.Error(), attempts, next); err != nil {
		applog.CtxError(ctx, "failed to record %s failure for meme %s: %v", adapter, meme.ID, err)
		return
	}

	log := applog.FromContext(ctx).WithFields(applog.Fields{
		applog.FieldMemeID:  meme.ID,
		applog.FieldAdapter: string(adapter),
		"attempts":          attempts,
	})
	if next == nil {
		log.WithError(cause).Error("propagation failed, retries exhausted")
	} else {
		log.WithError(cause).Warn("propagation failed, retry scheduled")
	}
}

func (p *Pipeline) recordDeleteFailure(ctx context.Context, meme *domain.Meme, adapter domain.IndexAdapter, cause error) {
	state := stateFor(meme, adapter)
	attempts := state.Attempts + 1
	next := p.nextRetry(attempts)

	if err := p.memes.MarkDeleteFailed(ctx, meme.ID, adapter, cause.Error(), attempts, next); err != nil {
		applog.CtxError(ctx, "failed to record %s delete failure for meme %s: %v", adapter, meme.ID, err)
		return
	}
	applog.CtxWarn(ctx, "delete propagation failed for meme %s on %s (attempt %d): %v", meme.ID, adapter, attempts, cause)
}

// nextRetry computes the capped exponential backoff schedule. Past
// MaxAttempts it returns nil: the meme stays failed and visible to
// reconciliation reporting, never silently dropped.
func (p *Pipeline) nextRetry(attempts int) *time.Time {
	if attempts >= p.cfg.MaxAttempts {
		return nil
	}
	delay := p.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.cfg.RetryCap {
			delay = p.cfg.RetryCap
			break
		}
	}
	t := time.Now().Add(delay)
	return &t
}

func stateFor(meme *domain.Meme, adapter domain.IndexAdapter) domain.IndexState {
	if adapter == domain.AdapterVector {
		return meme.VectorIndex
	}
	return meme.TextIndex
}

// buildTextDoc flattens a meme into its searchable text view.
func buildTextDoc(meme *domain.Meme) *index.TextDoc {
	doc := &index.TextDoc{
		ID:        meme.ID,
		Slug:      meme.Slug,
		CreatedAt: meme.CreatedAt,
	}
	for _, tag := range meme.Tags {
		doc.Tags = append(doc.Tags, tag.Text)
	}
	for _, tr := range meme.Translations {
		if tr.Title != "" {
			doc.Titles = append(doc.Titles, tr.Title)
		}
		if tr.Caption != "" {
			doc.Captions = append(doc.Captions, tr.Caption)
		}
		if tr.Description != "" {
			doc.Descriptions = append(doc.Descriptions, tr.Description)
		}
		if tr.TextOnMeme != "" {
			doc.TextOnMeme = append(doc.TextOnMeme, tr.TextOnMeme)
		}
	}
	return doc
}

// buildEmbeddingText assembles the text fed to the embedding model. Prefixed
// segments keep the signal sources distinguishable for the model.
func buildEmbeddingText(doc *index.TextDoc) string {
	segments := make([]string, 0, 5)
	if len(doc.Tags) > 0 {
		segments = append(segments, "tags: "+strings.Join(doc.Tags, " "))
	}
	if len(doc.Titles) > 0 {
		segments = append(segments, "title: "+strings.Join(doc.Titles, " "))
	}
	if len(doc.Captions) > 0 {
		segments = append(segments, "caption: "+strings.Join(doc.Captions, " "))
	}
	if len(doc.Descriptions) > 0 {
		segments = append(segments, "description: "+strings.Join(doc.Descriptions, " "))
	}
	if len(doc.TextOnMeme) > 0 {
		segments = append(segments, "text: "+strings.Join(doc.TextOnMeme, " "))
	}
	if len(segments) == 0 {
		return fmt.Sprintf("meme %s", doc.Slug)
	}
	return strings.Join(segments, "\n")
}
