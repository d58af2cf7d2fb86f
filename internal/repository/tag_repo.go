package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/maxp/memexpert/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TagRepository handles tag rows. Tags are deduplicated by normalized text
// within a language; Ensure is the only way rows are created.
type TagRepository struct {
	db *gorm.DB
}

// NewTagRepository creates a new TagRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *TagRepository: repository instance bound to db.
func NewTagRepository(db *gorm.DB) *TagRepository {
	return &TagRepository{db: db}
}

// Ensure normalizes the given tag texts and returns the matching tag rows,
// creating any that do not exist yet. Texts that normalize to empty are
// dropped; duplicates collapse to one row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - texts: raw tag texts.
//   - language: language the tags belong to.
// Returns:
//   - []domain.Tag: deduplicated tag rows in first-seen order.
//   - error: non-nil if a lookup or insert fails.
func (r *TagRepository) Ensure(ctx context.Context, texts []string, language string) ([]domain.Tag, error) {
	normalized := domain.NormalizeTags(texts)
	tags := make([]domain.Tag, 0, len(normalized))
	for _, text := range normalized {
		tag := domain.Tag{
			ID:       uuid.New().String(),
			Text:     text,
			Language: language,
		}
		// ON CONFLICT DO NOTHING keeps the existing row (and its id) when
		// another writer races us on the same (text, language) pair.
		if err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "text"}, {Name: "language"}},
				DoNothing: true,
			}).
			Create(&tag).Error; err != nil {
			return nil, fmt.Errorf("failed to ensure tag %q: %w", text, err)
		}
		var row domain.Tag
		if err := r.db.WithContext(ctx).
			First(&row, "text = ? AND language = ?", text, language).Error; err != nil {
			return nil, fmt.Errorf("failed to load tag %q: %w", text, err)
		}
		tags = append(tags, row)
	}
	return tags, nil
}

// GetByIDs retrieves tags by id, failing if any id is unknown.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ids: tag ids to resolve.
// Returns:
//   - []domain.Tag: resolved tags.
//   - error: domain.ErrNotFound if any id has no row.
func (r *TagRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Tag, error) {
	if len(ids) == 0 {
		return []domain.Tag{}, nil
	}
	var tags []domain.Tag
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("failed to get tags by ids: %w", err)
	}
	if len(tags) != len(dedupeStrings(ids)) {
		return nil, fmt.Errorf("%w: unknown tag id", domain.ErrNotFound)
	}
	return tags, nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
