package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/maxp/memexpert/internal/domain"
)

// pngPixel is a valid 1x1 PNG.
var pngPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

func newTestIngestor(t *testing.T) (*testEnv, *Ingestor, *fakeTagger) {
	t.Helper()
	env := newTestEnv(t)
	tagger := &fakeTagger{tags: []string{"Кот", "мем"}}
	ing := NewIngestor(env.memes, env.tags, env.store, tagger, env.pipe)
	return env, ing, tagger
}

func TestIngestCreate(t *testing.T) {
	env, ing, _ := newTestIngestor(t)

	meme, err := ing.Create(context.Background(), &CreateInput{
		Data:     pngPixel,
		MimeType: "image/png",
		Language: "ru",
		Title:    "Грустный кот",
		Publish:  true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if meme.Slug != "грустный-кот" {
		t.Errorf("slug = %q, want грустный-кот", meme.Slug)
	}
	if meme.Width != 1 || meme.Height != 1 {
		t.Errorf("dimensions = %dx%d, want 1x1", meme.Width, meme.Height)
	}
	if meme.NeedsRetag {
		t.Error("successful tagging should not flag retag")
	}
	if !env.store.has(meme.StorageKey) {
		t.Errorf("blob missing under key %s", meme.StorageKey)
	}

	got := env.state(t, meme.ID)
	if len(got.Tags) != 2 {
		t.Errorf("tags = %d, want 2", len(got.Tags))
	}
	for _, tag := range got.Tags {
		if tag.Text != "кот" && tag.Text != "мем" {
			t.Errorf("unexpected tag %q, generated tags should be normalized", tag.Text)
		}
	}
}

func TestIngestDuplicate(t *testing.T) {
	_, ing, _ := newTestIngestor(t)
	ctx := context.Background()

	input := &CreateInput{Data: pngPixel, MimeType: "image/png", Title: "one"}
	if _, err := ing.Create(ctx, input); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	input.Title = "two"
	_, err := ing.Create(ctx, input)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate media Create = %v, want ErrConflict", err)
	}
}

func TestIngestTaggerDownDegrades(t *testing.T) {
	env, ing, tagger := newTestIngestor(t)
	tagger.setFailure(domain.ErrGeneratorFailure)

	// A tagger outage must not block the write.
	meme, err := ing.Create(context.Background(), &CreateInput{
		Data:     pngPixel,
		MimeType: "image/png",
		Language: "ru",
		Title:    "кот",
		Publish:  true,
	})
	if err != nil {
		t.Fatalf("Create during tagger outage failed: %v", err)
	}
	if !meme.NeedsRetag {
		t.Error("meme should be flagged for retagging")
	}

	got := env.state(t, meme.ID)
	if len(got.Tags) != 0 {
		t.Errorf("degraded meme has %d tags, want 0", len(got.Tags))
	}

	ids, err := env.memes.ListNeedsRetag(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListNeedsRetag failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != meme.ID {
		t.Errorf("ListNeedsRetag = %v, want [%s]", ids, meme.ID)
	}

	// Generator recovers; retagging fills tags and clears the flag.
	tagger.setFailure(nil)
	if err := ing.Retag(context.Background(), meme.ID, "ru"); err != nil {
		t.Fatalf("Retag failed: %v", err)
	}
	got = env.state(t, meme.ID)
	if got.NeedsRetag {
		t.Error("retag should clear the flag")
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags after retag = %d, want 2", len(got.Tags))
	}
}

func TestIngestSlugFallback(t *testing.T) {
	_, ing, _ := newTestIngestor(t)

	meme, err := ing.Create(context.Background(), &CreateInput{
		Data:     pngPixel,
		MimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(meme.Slug) != 8 {
		t.Errorf("untitled meme slug = %q, want an 8-char hash prefix", meme.Slug)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Grumpy Cat!", "grumpy-cat"},
		{"Грустный Кот", "грустный-кот"},
		{"  a -- b  ", "a-b"},
		{"***", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
