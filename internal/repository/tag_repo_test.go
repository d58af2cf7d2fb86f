package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/maxp/memexpert/internal/domain"
)

func TestEnsureDeduplicates(t *testing.T) {
	_, tags := newTestRepos(t)
	ctx := context.Background()

	first, err := tags.Ensure(ctx, []string{"Кот", " кот", "мем"}, "ru")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("Ensure returned %d tags, want 2", len(first))
	}
	if first[0].Text != "кот" || first[1].Text != "мем" {
		t.Errorf("normalized texts = %q, %q", first[0].Text, first[1].Text)
	}

	// A second Ensure returns the same rows, never duplicates.
	second, err := tags.Ensure(ctx, []string{"КОТ"}, "ru")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if len(second) != 1 || second[0].ID != first[0].ID {
		t.Errorf("repeated Ensure returned id %s, want %s", second[0].ID, first[0].ID)
	}

	// Same text in another language is a distinct tag.
	other, err := tags.Ensure(ctx, []string{"кот"}, "en")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if other[0].ID == first[0].ID {
		t.Error("same text in a different language should be a separate row")
	}
}

func TestEnsureEmptyInput(t *testing.T) {
	_, tags := newTestRepos(t)

	got, err := tags.Ensure(context.Background(), []string{"", "   "}, "en")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Ensure of empty texts returned %d tags, want 0", len(got))
	}
}

func TestGetByIDsUnknown(t *testing.T) {
	_, tags := newTestRepos(t)
	ctx := context.Background()

	rows, err := tags.Ensure(ctx, []string{"кот"}, "ru")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	if _, err := tags.GetByIDs(ctx, []string{rows[0].ID}); err != nil {
		t.Errorf("GetByIDs with known id failed: %v", err)
	}

	_, err = tags.GetByIDs(ctx, []string{rows[0].ID, uuid.New().String()})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByIDs with unknown id = %v, want ErrNotFound", err)
	}
}
