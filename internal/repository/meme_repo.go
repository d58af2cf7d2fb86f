package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maxp/memexpert/internal/domain"
	"gorm.io/gorm"
)

// MemeRepository is the primary store for memes: the only authoritative
// state in the system. The index backends are derived views and can always
// be rebuilt from here.
type MemeRepository struct {
	db *gorm.DB
}

// NewMemeRepository creates a new MemeRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *MemeRepository: repository instance bound to db.
func NewMemeRepository(db *gorm.DB) *MemeRepository {
	return &MemeRepository{db: db}
}

// translateErr maps gorm errors onto the domain taxonomy.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	default:
		return err
	}
}

// statePrefix returns the column prefix for one adapter's embedded IndexState.
func statePrefix(adapter domain.IndexAdapter) string {
	if adapter == domain.AdapterVector {
		return "vector_"
	}
	return "text_"
}

// Create inserts a meme, its translations, and its tag associations in one
// transaction. Both adapter states start as pending at version 1. The slug
// is made unique by appending -1, -2, ... when the requested one is taken.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - meme: meme record to persist; ID is generated when empty.
//   - tagIDs: ids of existing tags to associate.
// Returns:
//   - error: domain.ErrNotFound if a tag id is unknown, domain.ErrConflict
//     on a uniqueness violation, otherwise the underlying failure.
func (r *MemeRepository) Create(ctx context.Context, meme *domain.Meme, tagIDs []string) error {
	if meme.ID == "" {
		meme.ID = uuid.New().String()
	}
	meme.Version = 1
	meme.TextIndex = domain.IndexState{Status: domain.IndexStatusPending}
	meme.VectorIndex = domain.IndexState{Status: domain.IndexStatusPending}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tags []domain.Tag
		if len(tagIDs) > 0 {
			if err := tx.Where("id IN ?", tagIDs).Find(&tags).Error; err != nil {
				return err
			}
			if len(tags) != len(dedupeStrings(tagIDs)) {
				return fmt.Errorf("%w: unknown tag id", domain.ErrNotFound)
			}
		}

		slug, err := availableSlug(tx, meme.Slug)
		if err != nil {
			return err
		}
		meme.Slug = slug
		meme.Tags = tags

		return tx.Create(meme).Error
	})
	return translateErr(err)
}

// availableSlug finds a free slug, appending a numeric suffix when the
// requested one is taken.
func availableSlug(tx *gorm.DB, slug string) (string, error) {
	if slug == "" {
		return "", fmt.Errorf("%w: empty slug", domain.ErrConflict)
	}
	var count int64
	if err := tx.Model(&domain.Meme{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return slug, nil
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", slug, i)
		if err := tx.Model(&domain.Meme{}).Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
	}
}

// UpdateTags replaces a meme's tag set in one transaction, bumps the version
// and resets both adapter states to pending so the pipeline re-propagates.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id.
//   - tagIDs: ids of existing tags forming the new tag set.
// Returns:
//   - error: domain.ErrNotFound if the meme is absent, being deleted, or a
//     tag id is unknown.
func (r *MemeRepository) UpdateTags(ctx context.Context, id string, tagIDs []string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meme domain.Meme
		if err := tx.First(&meme, "id = ?", id).Error; err != nil {
			return err
		}
		if meme.Deleting() {
			return fmt.Errorf("%w: meme %s is being deleted", domain.ErrNotFound, id)
		}

		var tags []domain.Tag
		if len(tagIDs) > 0 {
			if err := tx.Where("id IN ?", tagIDs).Find(&tags).Error; err != nil {
				return err
			}
			if len(tags) != len(dedupeStrings(tagIDs)) {
				return fmt.Errorf("%w: unknown tag id", domain.ErrNotFound)
			}
		}

		if err := tx.Model(&meme).Association("Tags").Replace(tags); err != nil {
			return err
		}

		return tx.Model(&domain.Meme{}).Where("id = ?", id).
			Updates(map[string]interface{}{
				"version":              gorm.Expr("version + 1"),
				"needs_retag":          false,
				"text_status":          string(domain.IndexStatusPending),
				"text_attempts":        0,
				"text_last_error":      "",
				"text_next_retry_at":   nil,
				"vector_status":        string(domain.IndexStatusPending),
				"vector_attempts":      0,
				"vector_last_error":    "",
				"vector_next_retry_at": nil,
			}).Error
	})
	return translateErr(err)
}

// SetPublishStatus moves a meme between draft, published, and trash. The
// version is bumped and both adapter states reset to pending so the pipeline
// adds or removes the meme from the indexes accordingly.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id.
//   - status: new publication status.
// Returns:
//   - error: domain.ErrNotFound if the meme is absent or being deleted.
func (r *MemeRepository) SetPublishStatus(ctx context.Context, id string, status domain.PublishStatus) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meme domain.Meme
		if err := tx.First(&meme, "id = ?", id).Error; err != nil {
			return err
		}
		if meme.Deleting() {
			return fmt.Errorf("%w: meme %s is being deleted", domain.ErrNotFound, id)
		}
		if meme.PublishStatus == status {
			return nil
		}
		return tx.Model(&domain.Meme{}).Where("id = ?", id).
			Updates(map[string]interface{}{
				"publish_status":       string(status),
				"version":              gorm.Expr("version + 1"),
				"text_status":          string(domain.IndexStatusPending),
				"text_attempts":        0,
				"text_last_error":      "",
				"text_next_retry_at":   nil,
				"vector_status":        string(domain.IndexStatusPending),
				"vector_attempts":      0,
				"vector_last_error":    "",
				"vector_next_retry_at": nil,
			}).Error
	})
	return translateErr(err)
}

// Delete marks a meme for removal. The row stays in the primary store with
// both adapter states pending_delete until the pipeline confirms removal
// from each index backend; only then is the row hard-deleted. Readers treat
// a pending_delete row as gone.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id to delete.
// Returns:
//   - error: domain.ErrNotFound if no such meme exists.
func (r *MemeRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meme domain.Meme
		if err := tx.First(&meme, "id = ?", id).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Meme{}).Where("id = ?", id).
			Updates(map[string]interface{}{
				"version":              gorm.Expr("version + 1"),
				"text_status":          string(domain.IndexStatusPendingDelete),
				"text_attempts":        0,
				"text_next_retry_at":   nil,
				"vector_status":        string(domain.IndexStatusPendingDelete),
				"vector_attempts":      0,
				"vector_next_retry_at": nil,
			}).Error
	})
	return translateErr(err)
}

// GetByID retrieves a meme with its tags and translations.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id.
// Returns:
//   - *domain.Meme: meme record if found.
//   - error: domain.ErrNotFound if absent.
func (r *MemeRepository) GetByID(ctx context.Context, id string) (*domain.Meme, error) {
	var meme domain.Meme
	if err := r.db.WithContext(ctx).
		Preload("Tags").
		Preload("Translations").
		First(&meme, "id = ?", id).Error; err != nil {
		return nil, translateErr(err)
	}
	return &meme, nil
}

// GetBySlug retrieves a meme by slug.
func (r *MemeRepository) GetBySlug(ctx context.Context, slug string) (*domain.Meme, error) {
	var meme domain.Meme
	if err := r.db.WithContext(ctx).
		Preload("Tags").
		Preload("Translations").
		First(&meme, "slug = ?", slug).Error; err != nil {
		return nil, translateErr(err)
	}
	return &meme, nil
}

// ExistsByMD5Hash checks if a meme with the given MD5 hash exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - md5Hash: MD5 hash of the meme content.
// Returns:
//   - bool: true if a record exists.
//   - error: non-nil if the lookup fails.
func (r *MemeRepository) ExistsByMD5Hash(ctx context.Context, md5Hash string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Meme{}).Where("md5_hash = ?", md5Hash).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetByIDs retrieves memes by a list of IDs with tags and translations.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ids: list of meme IDs.
// Returns:
//   - []domain.Meme: matching meme records.
//   - error: non-nil if the query fails.
func (r *MemeRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Meme, error) {
	if len(ids) == 0 {
		return []domain.Meme{}, nil
	}
	var memes []domain.Meme
	if err := r.db.WithContext(ctx).
		Preload("Tags").
		Preload("Translations").
		Where("id IN ?", ids).Find(&memes).Error; err != nil {
		return nil, fmt.Errorf("failed to get memes by IDs: %w", err)
	}
	return memes, nil
}

// SetEmbedding caches the computed embedding for a meme. The embedding is
// derived from the meme's text content, so this does not bump the version.
func (r *MemeRepository) SetEmbedding(ctx context.Context, id string, vec []float32) error {
	res := r.db.WithContext(ctx).Model(&domain.Meme{}).Where("id = ?", id).
		Update("embedding", domain.FloatArray(vec))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: meme %s", domain.ErrNotFound, id)
	}
	return nil
}

// SetNeedsRetag flags or clears the needs-retag marker.
func (r *MemeRepository) SetNeedsRetag(ctx context.Context, id string, needs bool) error {
	return r.db.WithContext(ctx).Model(&domain.Meme{}).Where("id = ?", id).
		Update("needs_retag", needs).Error
}

// MarkSynced records that an adapter now holds the given committed version.
// The update is guarded by the version so a concurrent newer commit (which
// resets the state to pending) is never overwritten by a stale propagation.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id.
//   - adapter: which adapter synced.
//   - version: the version that was pushed.
// Returns:
//   - bool: true if the state was recorded; false if the version moved on.
//   - error: non-nil if the update fails.
func (r *MemeRepository) MarkSynced(ctx context.Context, id string, adapter domain.IndexAdapter, version int64) (bool, error) {
	p := statePrefix(adapter)
	res := r.db.WithContext(ctx).Model(&domain.Meme{}).
		Where("id = ? AND version = ? AND "+p+"status NOT IN ?", id, version,
			[]string{string(domain.IndexStatusPendingDelete), string(domain.IndexStatusDeleted)}).
		Updates(map[string]interface{}{
			p + "status":         string(domain.IndexStatusSynced),
			p + "synced_version": version,
			p + "attempts":       0,
			p + "last_error":     "",
			p + "next_retry_at":  nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed records a propagation failure with its retry schedule, guarded
// by version the same way MarkSynced is.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id.
//   - adapter: which adapter failed.
//   - version: the version whose push failed.
//   - reason: failure description for operators.
//   - attempts: total attempts so far.
//   - nextRetry: when the next retry is due; nil once attempts are exhausted.
// Returns:
//   - error: non-nil if the update fails.
func (r *MemeRepository) MarkFailed(ctx context.Context, id string, adapter domain.IndexAdapter, version int64, reason string, attempts int, nextRetry *time.Time) error {
	p := statePrefix(adapter)
	return r.db.WithContext(ctx).Model(&domain.Meme{}).
		Where("id = ? AND version = ? AND "+p+"status NOT IN ?", id, version,
			[]string{string(domain.IndexStatusPendingDelete), string(domain.IndexStatusDeleted)}).
		Updates(map[string]interface{}{
			p + "status":        string(domain.IndexStatusFailed),
			p + "attempts":      attempts,
			p + "last_error":    reason,
			p + "next_retry_at": nextRetry,
		}).Error
}

// MarkDeleted records that an adapter confirmed removal of the meme.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id.
//   - adapter: which adapter confirmed.
// Returns:
//   - bool: true when both adapters have now confirmed.
//   - error: non-nil if the update or readback fails.
func (r *MemeRepository) MarkDeleted(ctx context.Context, id string, adapter domain.IndexAdapter) (bool, error) {
	p := statePrefix(adapter)
	var both bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Meme{}).
			Where("id = ? AND "+p+"status = ?", id, string(domain.IndexStatusPendingDelete)).
			Updates(map[string]interface{}{
				p + "status":     string(domain.IndexStatusDeleted),
				p + "last_error": "",
			}).Error; err != nil {
			return err
		}
		var meme domain.Meme
		if err := tx.Select("text_status", "vector_status").First(&meme, "id = ?", id).Error; err != nil {
			return err
		}
		both = meme.TextIndex.Status == domain.IndexStatusDeleted &&
			meme.VectorIndex.Status == domain.IndexStatusDeleted
		return nil
	})
	if err != nil {
		return false, translateErr(err)
	}
	return both, nil
}

// MarkDeleteFailed schedules a retry for a failed adapter delete. The state
// stays pending_delete so the meme remains invisible to readers.
func (r *MemeRepository) MarkDeleteFailed(ctx context.Context, id string, adapter domain.IndexAdapter, reason string, attempts int, nextRetry *time.Time) error {
	p := statePrefix(adapter)
	return r.db.WithContext(ctx).Model(&domain.Meme{}).
		Where("id = ? AND "+p+"status = ?", id, string(domain.IndexStatusPendingDelete)).
		Updates(map[string]interface{}{
			p + "attempts":      attempts,
			p + "last_error":    reason,
			p + "next_retry_at": nextRetry,
		}).Error
}

// HardDelete removes the meme row, its tag associations, and translations.
// Called only after both adapters confirmed deletion.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id to remove.
// Returns:
//   - error: non-nil if the delete fails.
func (r *MemeRepository) HardDelete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		meme := domain.Meme{ID: id}
		if err := tx.Model(&meme).Association("Tags").Clear(); err != nil {
			return err
		}
		if err := tx.Delete(&domain.MemeTranslation{}, "meme_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Meme{}, "id = ?", id).Error
	})
	return translateErr(err)
}

// ListRetryable returns ids of memes whose adapter state is failed with an
// elapsed backoff and remaining attempts.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - adapter: adapter to scan.
//   - now: current time for backoff comparison.
//   - maxAttempts: memes at or past this count are excluded (they are
//     reported via CountPermanentlyFailed instead).
//   - limit: maximum number of ids to return.
// Returns:
//   - []string: meme ids due for retry.
//   - error: non-nil if the query fails.
func (r *MemeRepository) ListRetryable(ctx context.Context, adapter domain.IndexAdapter, now time.Time, maxAttempts, limit int) ([]string, error) {
	p := statePrefix(adapter)
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.Meme{}).
		Where(p+"status = ? AND "+p+"next_retry_at IS NOT NULL AND "+p+"next_retry_at <= ? AND "+p+"attempts < ?",
			string(domain.IndexStatusFailed), now, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ListStalePending returns ids of memes stuck in pending for an adapter
// beyond the staleness threshold.
func (r *MemeRepository) ListStalePending(ctx context.Context, adapter domain.IndexAdapter, olderThan time.Time, limit int) ([]string, error) {
	p := statePrefix(adapter)
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.Meme{}).
		Where(p+"status = ? AND updated_at < ?", string(domain.IndexStatusPending), olderThan).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ListPendingDelete returns ids of memes awaiting adapter removal beyond the
// threshold, including half-confirmed ones left behind by a crash.
func (r *MemeRepository) ListPendingDelete(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	deleting := []string{string(domain.IndexStatusPendingDelete), string(domain.IndexStatusDeleted)}
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.Meme{}).
		Where("(text_status IN ? OR vector_status IN ?) AND updated_at < ?", deleting, deleting, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ListNeedsRetag returns ids of published memes whose tag generation failed
// at ingest and was deferred.
func (r *MemeRepository) ListNeedsRetag(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.Meme{}).
		Where("needs_retag = ? AND publish_status = ?", true, string(domain.PublishStatusPublished)).
		Where("text_status NOT IN ?", []string{string(domain.IndexStatusPendingDelete), string(domain.IndexStatusDeleted)}).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// ListPublishedIDs pages through published meme ids; used for full reindex.
func (r *MemeRepository) ListPublishedIDs(ctx context.Context, limit, offset int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.Meme{}).
		Where("publish_status = ?", string(domain.PublishStatusPublished)).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Pluck("id", &ids).Error
	return ids, err
}

// CountPermanentlyFailed counts memes whose retries are exhausted for at
// least one adapter. These need operator attention; they are never silently
// dropped from the primary store.
func (r *MemeRepository) CountPermanentlyFailed(ctx context.Context, maxAttempts int) (int64, error) {
	var count int64
	failed := string(domain.IndexStatusFailed)
	err := r.db.WithContext(ctx).Model(&domain.Meme{}).
		Where("(text_status = ? AND text_attempts >= ?) OR (vector_status = ? AND vector_attempts >= ?)",
			failed, maxAttempts, failed, maxAttempts).
		Count(&count).Error
	return count, err
}

// ResetIndexStates marks every meme that is not being deleted as pending on
// both adapters without touching versions. Used before a full index rebuild
// so propagation pushes everything again.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: number of memes reset.
//   - error: non-nil if the update fails.
func (r *MemeRepository) ResetIndexStates(ctx context.Context) (int64, error) {
	deleting := []string{string(domain.IndexStatusPendingDelete), string(domain.IndexStatusDeleted)}
	res := r.db.WithContext(ctx).Model(&domain.Meme{}).
		Where("text_status NOT IN ? AND vector_status NOT IN ?", deleting, deleting).
		Updates(map[string]interface{}{
			"text_status":          string(domain.IndexStatusPending),
			"text_synced_version":  0,
			"text_attempts":        0,
			"text_last_error":      "",
			"text_next_retry_at":   nil,
			"vector_status":        string(domain.IndexStatusPending),
			"vector_synced_version": 0,
			"vector_attempts":      0,
			"vector_last_error":    "",
			"vector_next_retry_at": nil,
		})
	return res.RowsAffected, res.Error
}

// SearchTagsLike is the degraded text-search fallback: an unranked substring
// match against the tag table, capped at limit. Used by the search
// coordinator when the full-text adapter is unavailable.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - text: raw query text; normalized like a tag before matching.
//   - limit: maximum number of memes to return.
// Returns:
//   - []domain.Meme: published, not-deleting memes with a matching tag,
//     newest first.
//   - error: non-nil if the query fails.
func (r *MemeRepository) SearchTagsLike(ctx context.Context, text string, limit int) ([]domain.Meme, error) {
	needle := domain.NormalizeTag(text)
	if needle == "" {
		return []domain.Meme{}, nil
	}
	var memes []domain.Meme
	err := r.db.WithContext(ctx).
		Distinct("memes.*").
		Joins("JOIN meme_tags ON meme_tags.meme_id = memes.id").
		Joins("JOIN tags ON tags.id = meme_tags.tag_id").
		Where("tags.text LIKE ?", "%"+needle+"%").
		Where("memes.publish_status = ?", string(domain.PublishStatusPublished)).
		Where("memes.text_status NOT IN ?", []string{string(domain.IndexStatusPendingDelete), string(domain.IndexStatusDeleted)}).
		Order("memes.created_at DESC").
		Limit(limit).
		Find(&memes).Error
	if err != nil {
		return nil, err
	}
	return memes, nil
}
