package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// MediaKind represents the kind of media a meme holds.
// Values include MediaKindImage, MediaKindVideo, and MediaKindAnimation.
type MediaKind string

const (
	MediaKindImage     MediaKind = "image"
	MediaKindVideo     MediaKind = "video"
	MediaKindAnimation MediaKind = "animation"
)

// PublishStatus represents the publication state of a meme.
// Only published memes are propagated into the search indexes.
type PublishStatus string

const (
	PublishStatusDraft     PublishStatus = "draft"
	PublishStatusPublished PublishStatus = "published"
	PublishStatusTrash     PublishStatus = "trash"
)

// FloatArray is a custom type for storing float32 vectors as JSON in the database.
type FloatArray []float32

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the vector.
//   - error: non-nil if marshaling fails.
func (a FloatArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *FloatArray) Scan(value interface{}) error {
	if value == nil {
		*a = FloatArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan FloatArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Meme represents a stored meme: the authoritative record in the primary
// store. Identity and the image reference (StorageKey) are immutable once
// committed; the tag set and translations are not. Version is bumped on
// every committed mutation and is the freshness token the indexing pipeline
// uses to detect stale adapter writes.
type Meme struct {
	ID            string        `gorm:"type:text;primaryKey" json:"id"`
	Slug          string        `gorm:"type:text;not null;uniqueIndex:idx_memes_slug" json:"slug"`
	StorageKey    string        `gorm:"type:text;not null" json:"storage_key"`
	SourceURL     string        `gorm:"type:text" json:"source_url,omitempty"`
	MediaKind     MediaKind     `gorm:"type:text;not null;default:image" json:"media_kind"`
	MimeType      string        `gorm:"type:text" json:"mime_type"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	FileSize      int64         `json:"file_size"`
	MD5Hash       string        `gorm:"type:text;uniqueIndex:idx_memes_md5" json:"md5_hash"`
	PublishStatus PublishStatus `gorm:"type:text;index:idx_memes_publish;default:draft" json:"publish_status"`
	NeedsRetag    bool          `gorm:"index:idx_memes_needs_retag" json:"needs_retag"`
	Version       int64         `gorm:"not null;default:1" json:"version"`
	Embedding     FloatArray    `gorm:"type:text" json:"-"`

	TextIndex   IndexState `gorm:"embedded;embeddedPrefix:text_" json:"text_index"`
	VectorIndex IndexState `gorm:"embedded;embeddedPrefix:vector_" json:"vector_index"`

	Tags         []Tag             `gorm:"many2many:meme_tags" json:"tags,omitempty"`
	Translations []MemeTranslation `gorm:"foreignKey:MemeID" json:"translations,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_memes_created" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Meme.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Meme) TableName() string {
	return "memes"
}

// Indexable reports whether the meme should currently be represented in the
// derived indexes.
func (m *Meme) Indexable() bool {
	return m.PublishStatus == PublishStatusPublished && !m.Deleting()
}

// Deleting reports whether the meme is awaiting removal from the adapters.
func (m *Meme) Deleting() bool {
	return m.TextIndex.Status == IndexStatusPendingDelete ||
		m.VectorIndex.Status == IndexStatusPendingDelete ||
		m.TextIndex.Status == IndexStatusDeleted ||
		m.VectorIndex.Status == IndexStatusDeleted
}

// MemeTranslation holds the per-language content of a meme.
type MemeTranslation struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	MemeID      string `gorm:"type:text;not null;uniqueIndex:idx_translations_meme_lang" json:"-"`
	Language    string `gorm:"type:text;not null;uniqueIndex:idx_translations_meme_lang" json:"language"`
	Title       string `gorm:"type:text" json:"title"`
	Caption     string `gorm:"type:text" json:"caption"`
	Description string `gorm:"type:text" json:"description"`
	TextOnMeme  string `gorm:"type:text" json:"text_on_meme,omitempty"`
}

// TableName returns the database table name for MemeTranslation.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (MemeTranslation) TableName() string {
	return "meme_translations"
}
