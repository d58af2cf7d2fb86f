package index

import (
	"context"
	"testing"
	"time"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func doc(id string, tags ...string) *TextDoc {
	return &TextDoc{ID: id, Slug: id, Tags: tags, CreatedAt: time.Now()}
}

func TestBleveSearchCyrillic(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, doc("m1", "кот", "мем")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := idx.Upsert(ctx, doc("m2", "собака")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	hits, err := idx.Search(ctx, "кот", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m1" {
		t.Errorf("Search(кот) = %v, want only m1", hits)
	}
	if hits[0].Score <= 0 {
		t.Errorf("hit score = %v, want positive", hits[0].Score)
	}
}

func TestBleveSearchTranslationFields(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	d := doc("m1", "кот")
	d.Titles = []string{"Грустный кот"}
	d.Captions = []string{"понедельник"}
	d.TextOnMeme = []string{"it is wednesday my dudes"}
	if err := idx.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	for _, q := range []string{"понедельник", "wednesday"} {
		hits, err := idx.Search(ctx, q, 10)
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", q, err)
		}
		if len(hits) != 1 {
			t.Errorf("Search(%q) = %d hits, want 1", q, len(hits))
		}
	}
}

func TestBleveUpsertReplaces(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, doc("m1", "кот")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := idx.Upsert(ctx, doc("m1", "собака")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	hits, err := idx.Search(ctx, "кот", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("old document version still matches: %v", hits)
	}

	hits, err = idx.Search(ctx, "собака", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("new document version missing: %v", hits)
	}
}

func TestBleveDeleteAbsent(t *testing.T) {
	idx := newTestIndex(t)
	if err := idx.Delete(context.Background(), "never-indexed"); err != nil {
		t.Errorf("deleting an absent id should succeed, got %v", err)
	}
}

func TestBleveEmptyResultIsNotError(t *testing.T) {
	idx := newTestIndex(t)
	hits, err := idx.Search(context.Background(), "ничего", 10)
	if err != nil {
		t.Fatalf("Search on empty index failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("empty index returned hits: %v", hits)
	}
}
