package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"unicode"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/maxp/memexpert/internal/domain"
	"github.com/maxp/memexpert/internal/generator"
	applog "github.com/maxp/memexpert/internal/logger"
	"github.com/maxp/memexpert/internal/repository"
	"github.com/maxp/memexpert/internal/storage"
)

// Ingestor is the write-side service: it commits memes to the primary store
// and hands them to the pipeline. The generators are best-effort; a meme is
// always committed even when tagging fails.
type Ingestor struct {
	memes    *repository.MemeRepository
	tags     *repository.TagRepository
	store    storage.BlobStore
	tagger   generator.TagGenerator
	pipeline *Pipeline
}

// NewIngestor creates an Ingestor.
// Parameters:
//   - memes: primary store repository.
//   - tags: tag repository.
//   - store: blob store for media bytes.
//   - tagger: tag generator; nil disables automatic tagging.
//   - pipeline: propagation pipeline notified after every commit.
// Returns:
//   - *Ingestor: ready service.
func NewIngestor(memes *repository.MemeRepository, tags *repository.TagRepository, store storage.BlobStore, tagger generator.TagGenerator, pipeline *Pipeline) *Ingestor {
	return &Ingestor{
		memes:    memes,
		tags:     tags,
		store:    store,
		tagger:   tagger,
		pipeline: pipeline,
	}
}

// CreateInput carries everything needed to ingest one meme.
type CreateInput struct {
	Data      []byte
	MimeType  string
	SourceURL string

	// Language applies to the generated tags and the translation fields.
	Language    string
	Title       string
	Caption     string
	Description string
	TextOnMeme  string

	Publish bool
}

// Create ingests a meme: stores the media blob content-addressed, generates
// tags, commits the record, and kicks off async propagation. The call
// returns as soon as the primary store commit succeeds; index visibility
// follows eventually.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - input: media bytes and descriptive content.
// Returns:
//   - *domain.Meme: the committed meme.
//   - error: domain.ErrConflict when the same media already exists.
func (s *Ingestor) Create(ctx context.Context, input *CreateInput) (*domain.Meme, error) {
	if len(input.Data) == 0 {
		return nil, fmt.Errorf("empty media payload")
	}
	language := input.Language
	if language == "" {
		language = "en"
	}

	hash := storage.HashBytes(input.Data)
	exists, err := s.memes.ExistsByMD5Hash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: media already ingested (md5 %s)", domain.ErrConflict, hash)
	}

	key := storage.ContentKey(hash, extForMime(input.MimeType))
	if err := s.store.Upload(ctx, key, bytes.NewReader(input.Data), int64(len(input.Data)), input.MimeType); err != nil {
		return nil, fmt.Errorf("failed to store media: %w", err)
	}

	// Tag generation is degraded-mode: a generator outage flags the meme
	// for later retagging instead of failing the write.
	var tagTexts []string
	needsRetag := false
	if s.tagger != nil {
		tagTexts, err = s.tagger.GenerateTags(ctx, input.Data, input.MimeType, language)
		if err != nil {
			applog.CtxWarn(ctx, "tag generation failed, deferring: %v", err)
			tagTexts = nil
			needsRetag = true
		}
	}

	tagRows, err := s.tags.Ensure(ctx, tagTexts, language)
	if err != nil {
		return nil, err
	}
	tagIDs := make([]string, len(tagRows))
	for i, t := range tagRows {
		tagIDs[i] = t.ID
	}

	slug := Slugify(input.Title)
	if slug == "" {
		slug = hash[:8]
	}

	width, height := sniffDimensions(input.Data, input.MimeType)

	status := domain.PublishStatusDraft
	if input.Publish {
		status = domain.PublishStatusPublished
	}

	meme := &domain.Meme{
		Slug:          slug,
		StorageKey:    key,
		SourceURL:     input.SourceURL,
		MediaKind:     mediaKindForMime(input.MimeType),
		MimeType:      input.MimeType,
		Width:         width,
		Height:        height,
		FileSize:      int64(len(input.Data)),
		MD5Hash:       hash,
		PublishStatus: status,
		NeedsRetag:    needsRetag,
	}
	if input.Title != "" || input.Caption != "" || input.Description != "" || input.TextOnMeme != "" {
		meme.Translations = []domain.MemeTranslation{{
			Language:    language,
			Title:       input.Title,
			Caption:     input.Caption,
			Description: input.Description,
			TextOnMeme:  input.TextOnMeme,
		}}
	}

	if err := s.memes.Create(ctx, meme, tagIDs); err != nil {
		return nil, err
	}

	s.pipeline.PropagateAsync(meme.ID)
	return meme, nil
}

// SetTags replaces a meme's tags with curated texts and re-propagates.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id.
//   - texts: raw tag texts; normalized and deduplicated before storage.
//   - language: language of the tags.
// Returns:
//   - error: domain.ErrNotFound when the meme is absent.
func (s *Ingestor) SetTags(ctx context.Context, id string, texts []string, language string) error {
	if language == "" {
		language = "en"
	}
	tagRows, err := s.tags.Ensure(ctx, texts, language)
	if err != nil {
		return err
	}
	tagIDs := make([]string, len(tagRows))
	for i, t := range tagRows {
		tagIDs[i] = t.ID
	}
	if err := s.memes.UpdateTags(ctx, id, tagIDs); err != nil {
		return err
	}
	s.pipeline.PropagateAsync(id)
	return nil
}

// Retag re-runs tag generation for a meme whose ingest-time tagging failed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id.
//   - language: language for the generated tags.
// Returns:
//   - error: domain.ErrGeneratorFailure when the generator is still down.
func (s *Ingestor) Retag(ctx context.Context, id, language string) error {
	if s.tagger == nil {
		return fmt.Errorf("%w: no tagger configured", domain.ErrGeneratorFailure)
	}
	if language == "" {
		language = "en"
	}

	meme, err := s.memes.GetByID(ctx, id)
	if err != nil {
		return err
	}

	data, err := storage.DownloadBytes(ctx, s.store, meme.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to fetch media for retag: %w", err)
	}

	texts, err := s.tagger.GenerateTags(ctx, data, meme.MimeType, language)
	if err != nil {
		return err
	}

	return s.SetTags(ctx, id, texts, language)
}

// SetPublishStatus changes publication state and re-propagates, which adds
// the meme to or removes it from the indexes.
func (s *Ingestor) SetPublishStatus(ctx context.Context, id string, status domain.PublishStatus) error {
	if err := s.memes.SetPublishStatus(ctx, id, status); err != nil {
		return err
	}
	s.pipeline.PropagateAsync(id)
	return nil
}

// Delete starts removal: the meme disappears from readers immediately and
// the row is hard-deleted once both backends confirm.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: meme id.
// Returns:
//   - error: domain.ErrNotFound when the meme is absent.
func (s *Ingestor) Delete(ctx context.Context, id string) error {
	if err := s.memes.Delete(ctx, id); err != nil {
		return err
	}
	s.pipeline.PropagateAsync(id)
	return nil
}

// Slugify turns a title into a URL-safe slug: letters and digits survive
// lowercased, everything else collapses to single hyphens. Unicode letters
// are kept, so Cyrillic titles produce Cyrillic slugs.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteRune('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if runes := []rune(slug); len(runes) > 64 {
		slug = strings.Trim(string(runes[:64]), "-")
	}
	return slug
}

func mediaKindForMime(mimeType string) domain.MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return domain.MediaKindVideo
	case mimeType == "image/gif":
		return domain.MediaKindAnimation
	default:
		return domain.MediaKindImage
	}
}

func extForMime(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "video/mp4":
		return "mp4"
	default:
		return "bin"
	}
}

// sniffDimensions decodes just the image header. Unknown formats and videos
// report zero dimensions.
func sniffDimensions(data []byte, mimeType string) (int, int) {
	if !strings.HasPrefix(mimeType, "image/") {
		return 0, 0
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
