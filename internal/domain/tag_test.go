package domain

import (
	"reflect"
	"testing"
)

func TestNormalizeTag(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases", in: "Grumpy Cat", want: "grumpy cat"},
		{name: "trims", in: "  кот  ", want: "кот"},
		{name: "collapses inner whitespace", in: "two\t words", want: "two words"},
		{name: "whitespace only", in: " \t\n", want: ""},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTag(tt.in); got != tt.want {
				t.Errorf("NormalizeTag(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{"Кот", "кот", " КОТ ", "", "мем", "  "})
	want := []string{"кот", "мем"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeTags = %v, want %v", got, want)
	}
}

func TestMemeIndexable(t *testing.T) {
	m := &Meme{PublishStatus: PublishStatusPublished}
	if !m.Indexable() {
		t.Error("published meme should be indexable")
	}

	m.PublishStatus = PublishStatusDraft
	if m.Indexable() {
		t.Error("draft meme should not be indexable")
	}

	m.PublishStatus = PublishStatusPublished
	m.TextIndex.Status = IndexStatusPendingDelete
	if m.Indexable() {
		t.Error("meme awaiting deletion should not be indexable")
	}
	if !m.Deleting() {
		t.Error("pending_delete on one adapter should read as deleting")
	}
}
