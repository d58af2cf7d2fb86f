package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maxp/memexpert/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.Meme{}, &domain.Tag{}, &domain.MemeTranslation{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestRepos(t *testing.T) (*MemeRepository, *TagRepository) {
	t.Helper()
	db := newTestDB(t)
	return NewMemeRepository(db), NewTagRepository(db)
}

func testMeme(slug, hash string, status domain.PublishStatus) *domain.Meme {
	return &domain.Meme{
		Slug:          slug,
		StorageKey:    hash[:2] + "/" + hash + ".jpg",
		MediaKind:     domain.MediaKindImage,
		MimeType:      "image/jpeg",
		MD5Hash:       hash,
		PublishStatus: status,
	}
}

func mustCreate(t *testing.T, repo *MemeRepository, meme *domain.Meme, tagIDs []string) {
	t.Helper()
	if err := repo.Create(context.Background(), meme, tagIDs); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	memes, tags := newTestRepos(t)
	ctx := context.Background()

	tagRows, err := tags.Ensure(ctx, []string{"Кот", "мем"}, "ru")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	tagIDs := []string{tagRows[0].ID, tagRows[1].ID}

	meme := testMeme("grumpy-cat", "aaaa1111aaaa1111aaaa1111aaaa1111", domain.PublishStatusPublished)
	meme.Translations = []domain.MemeTranslation{{Language: "ru", Title: "Грустный кот"}}
	mustCreate(t, memes, meme, tagIDs)

	got, err := memes.GetByID(ctx, meme.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("new meme version = %d, want 1", got.Version)
	}
	if got.TextIndex.Status != domain.IndexStatusPending || got.VectorIndex.Status != domain.IndexStatusPending {
		t.Errorf("new meme adapter states = %s/%s, want pending/pending",
			got.TextIndex.Status, got.VectorIndex.Status)
	}
	if len(got.Tags) != 2 {
		t.Errorf("preloaded tags = %d, want 2", len(got.Tags))
	}
	if len(got.Translations) != 1 || got.Translations[0].Title != "Грустный кот" {
		t.Errorf("preloaded translations wrong: %+v", got.Translations)
	}
}

func TestCreateUnknownTag(t *testing.T) {
	memes, _ := newTestRepos(t)

	meme := testMeme("s", "bbbb1111bbbb1111bbbb1111bbbb1111", domain.PublishStatusDraft)
	err := memes.Create(context.Background(), meme, []string{uuid.New().String()})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Create with unknown tag id = %v, want ErrNotFound", err)
	}
}

func TestCreateDuplicateHash(t *testing.T) {
	memes, _ := newTestRepos(t)

	hash := "cccc1111cccc1111cccc1111cccc1111"
	mustCreate(t, memes, testMeme("one", hash, domain.PublishStatusDraft), nil)

	err := memes.Create(context.Background(), testMeme("two", hash, domain.PublishStatusDraft), nil)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Create with duplicate hash = %v, want ErrConflict", err)
	}
}

func TestSlugAllocation(t *testing.T) {
	memes, _ := newTestRepos(t)

	first := testMeme("cat", "dddd1111dddd1111dddd1111dddd1111", domain.PublishStatusDraft)
	mustCreate(t, memes, first, nil)

	second := testMeme("cat", "dddd2222dddd2222dddd2222dddd2222", domain.PublishStatusDraft)
	mustCreate(t, memes, second, nil)
	if second.Slug != "cat-1" {
		t.Errorf("second slug = %q, want cat-1", second.Slug)
	}

	third := testMeme("cat", "dddd3333dddd3333dddd3333dddd3333", domain.PublishStatusDraft)
	mustCreate(t, memes, third, nil)
	if third.Slug != "cat-2" {
		t.Errorf("third slug = %q, want cat-2", third.Slug)
	}
}

func TestUpdateTagsResetsStates(t *testing.T) {
	memes, tags := newTestRepos(t)
	ctx := context.Background()

	meme := testMeme("m", "eeee1111eeee1111eeee1111eeee1111", domain.PublishStatusPublished)
	mustCreate(t, memes, meme, nil)
	if _, err := memes.MarkSynced(ctx, meme.ID, domain.AdapterText, 1); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	tagRows, err := tags.Ensure(ctx, []string{"собака"}, "ru")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if err := memes.UpdateTags(ctx, meme.ID, []string{tagRows[0].ID}); err != nil {
		t.Fatalf("UpdateTags failed: %v", err)
	}

	got, err := memes.GetByID(ctx, meme.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("version after UpdateTags = %d, want 2", got.Version)
	}
	if got.TextIndex.Status != domain.IndexStatusPending {
		t.Errorf("text status after UpdateTags = %s, want pending", got.TextIndex.Status)
	}
	if len(got.Tags) != 1 || got.Tags[0].Text != "собака" {
		t.Errorf("tags after UpdateTags wrong: %+v", got.Tags)
	}
}

func TestMarkSyncedVersionGuard(t *testing.T) {
	memes, _ := newTestRepos(t)
	ctx := context.Background()

	meme := testMeme("m", "ffff1111ffff1111ffff1111ffff1111", domain.PublishStatusPublished)
	mustCreate(t, memes, meme, nil)

	// Stale propagation: the version moved on before the adapter write
	// completed. The sync for the old version must be rejected.
	ok, err := memes.MarkSynced(ctx, meme.ID, domain.AdapterText, 99)
	if err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	if ok {
		t.Error("MarkSynced with stale version should report false")
	}

	ok, err = memes.MarkSynced(ctx, meme.ID, domain.AdapterText, 1)
	if err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}
	if !ok {
		t.Error("MarkSynced with current version should report true")
	}

	got, _ := memes.GetByID(ctx, meme.ID)
	if got.TextIndex.Status != domain.IndexStatusSynced || got.TextIndex.SyncedVersion != 1 {
		t.Errorf("text state = %s/v%d, want synced/v1", got.TextIndex.Status, got.TextIndex.SyncedVersion)
	}
	if got.VectorIndex.Status != domain.IndexStatusPending {
		t.Errorf("vector state = %s, want pending (adapters are independent)", got.VectorIndex.Status)
	}
}

func TestMarkFailedAndListRetryable(t *testing.T) {
	memes, _ := newTestRepos(t)
	ctx := context.Background()

	meme := testMeme("m", "abab1111abab1111abab1111abab1111", domain.PublishStatusPublished)
	mustCreate(t, memes, meme, nil)

	past := time.Now().Add(-time.Minute)
	if err := memes.MarkFailed(ctx, meme.ID, domain.AdapterVector, 1, "connection refused", 2, &past); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	ids, err := memes.ListRetryable(ctx, domain.AdapterVector, time.Now(), 6, 10)
	if err != nil {
		t.Fatalf("ListRetryable failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != meme.ID {
		t.Errorf("ListRetryable = %v, want [%s]", ids, meme.ID)
	}

	// Not due yet for the other adapter, and attempts at the cap are excluded.
	if ids, _ := memes.ListRetryable(ctx, domain.AdapterText, time.Now(), 6, 10); len(ids) != 0 {
		t.Errorf("text adapter should have no retryables, got %v", ids)
	}
	if ids, _ := memes.ListRetryable(ctx, domain.AdapterVector, time.Now(), 2, 10); len(ids) != 0 {
		t.Errorf("exhausted memes should be excluded, got %v", ids)
	}

	count, err := memes.CountPermanentlyFailed(ctx, 2)
	if err != nil {
		t.Fatalf("CountPermanentlyFailed failed: %v", err)
	}
	if count != 1 {
		t.Errorf("CountPermanentlyFailed = %d, want 1", count)
	}
}

func TestDeleteLifecycle(t *testing.T) {
	memes, tags := newTestRepos(t)
	ctx := context.Background()

	tagRows, err := tags.Ensure(ctx, []string{"кот"}, "ru")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	meme := testMeme("m", "baba1111baba1111baba1111baba1111", domain.PublishStatusPublished)
	meme.Translations = []domain.MemeTranslation{{Language: "ru", Title: "t"}}
	mustCreate(t, memes, meme, []string{tagRows[0].ID})

	if err := memes.Delete(ctx, meme.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := memes.GetByID(ctx, meme.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.Deleting() {
		t.Fatal("deleted meme should read as deleting")
	}
	if got.TextIndex.Status != domain.IndexStatusPendingDelete || got.VectorIndex.Status != domain.IndexStatusPendingDelete {
		t.Fatalf("adapter states = %s/%s, want pending_delete on both",
			got.TextIndex.Status, got.VectorIndex.Status)
	}

	both, err := memes.MarkDeleted(ctx, meme.ID, domain.AdapterText)
	if err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}
	if both {
		t.Error("one confirmation should not report both deleted")
	}

	both, err = memes.MarkDeleted(ctx, meme.ID, domain.AdapterVector)
	if err != nil {
		t.Fatalf("MarkDeleted failed: %v", err)
	}
	if !both {
		t.Error("second confirmation should report both deleted")
	}

	if err := memes.HardDelete(ctx, meme.ID); err != nil {
		t.Fatalf("HardDelete failed: %v", err)
	}
	if _, err := memes.GetByID(ctx, meme.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByID after HardDelete = %v, want ErrNotFound", err)
	}

	// The shared tag row survives the meme.
	if _, err := tags.GetByIDs(ctx, []string{tagRows[0].ID}); err != nil {
		t.Errorf("tag should survive meme deletion: %v", err)
	}
}

func TestSetPublishStatus(t *testing.T) {
	memes, _ := newTestRepos(t)
	ctx := context.Background()

	meme := testMeme("m", "caca1111caca1111caca1111caca1111", domain.PublishStatusDraft)
	mustCreate(t, memes, meme, nil)

	if err := memes.SetPublishStatus(ctx, meme.ID, domain.PublishStatusPublished); err != nil {
		t.Fatalf("SetPublishStatus failed: %v", err)
	}

	got, _ := memes.GetByID(ctx, meme.ID)
	if got.PublishStatus != domain.PublishStatusPublished {
		t.Errorf("status = %s, want published", got.PublishStatus)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}

	// No-op transition leaves the version alone.
	if err := memes.SetPublishStatus(ctx, meme.ID, domain.PublishStatusPublished); err != nil {
		t.Fatalf("SetPublishStatus failed: %v", err)
	}
	got, _ = memes.GetByID(ctx, meme.ID)
	if got.Version != 2 {
		t.Errorf("version after no-op = %d, want 2", got.Version)
	}
}

func TestSearchTagsLike(t *testing.T) {
	memes, tags := newTestRepos(t)
	ctx := context.Background()

	catTag, err := tags.Ensure(ctx, []string{"кот"}, "ru")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	dogTag, err := tags.Ensure(ctx, []string{"собака"}, "ru")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	published := testMeme("cat-pub", "dada1111dada1111dada1111dada1111", domain.PublishStatusPublished)
	mustCreate(t, memes, published, []string{catTag[0].ID})

	draft := testMeme("cat-draft", "dada2222dada2222dada2222dada2222", domain.PublishStatusDraft)
	mustCreate(t, memes, draft, []string{catTag[0].ID})

	dog := testMeme("dog", "dada3333dada3333dada3333dada3333", domain.PublishStatusPublished)
	mustCreate(t, memes, dog, []string{dogTag[0].ID})

	got, err := memes.SearchTagsLike(ctx, "Кот", 10)
	if err != nil {
		t.Fatalf("SearchTagsLike failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != published.ID {
		t.Errorf("SearchTagsLike returned %d memes, want only the published cat", len(got))
	}

	// Deleting memes drop out of the fallback too.
	if err := memes.Delete(ctx, published.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err = memes.SearchTagsLike(ctx, "кот", 10)
	if err != nil {
		t.Fatalf("SearchTagsLike failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("SearchTagsLike after delete = %d memes, want 0", len(got))
	}
}

func TestListStalePendingAndPendingDelete(t *testing.T) {
	memes, _ := newTestRepos(t)
	ctx := context.Background()

	stale := testMeme("stale", "eaea1111eaea1111eaea1111eaea1111", domain.PublishStatusPublished)
	mustCreate(t, memes, stale, nil)
	fresh := testMeme("fresh", "eaea2222eaea2222eaea2222eaea2222", domain.PublishStatusPublished)
	mustCreate(t, memes, fresh, nil)

	// Backdate the stale row past the threshold.
	old := time.Now().Add(-time.Hour)
	if err := memes.db.Model(&domain.Meme{}).Where("id = ?", stale.ID).
		Update("updated_at", old).Error; err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	ids, err := memes.ListStalePending(ctx, domain.AdapterText, time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStalePending failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != stale.ID {
		t.Errorf("ListStalePending = %v, want [%s]", ids, stale.ID)
	}

	if err := memes.Delete(ctx, stale.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := memes.db.Model(&domain.Meme{}).Where("id = ?", stale.ID).
		Update("updated_at", old).Error; err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	ids, err = memes.ListPendingDelete(ctx, time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListPendingDelete failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != stale.ID {
		t.Errorf("ListPendingDelete = %v, want [%s]", ids, stale.ID)
	}
}
