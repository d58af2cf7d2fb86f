package domain

import "strings"

// Tag is a short normalized text label attached to memes. Tags are
// deduplicated by (normalized text, language); two textually identical tags
// never coexist as separate rows.
type Tag struct {
	ID       string `gorm:"type:text;primaryKey" json:"id"`
	Text     string `gorm:"type:text;not null;uniqueIndex:idx_tags_text_lang" json:"text"`
	Language string `gorm:"type:text;not null;uniqueIndex:idx_tags_text_lang" json:"language"`
}

// TableName returns the database table name for Tag.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Tag) TableName() string {
	return "tags"
}

// NormalizeTag lowercases a tag, trims surrounding whitespace and collapses
// inner runs of whitespace to a single space. An empty result means the tag
// should be discarded.
func NormalizeTag(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	return strings.Join(fields, " ")
}

// NormalizeTags applies NormalizeTag to a list, dropping empties and
// duplicates while preserving first-seen order.
func NormalizeTags(texts []string) []string {
	seen := make(map[string]bool, len(texts))
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		n := NormalizeTag(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
