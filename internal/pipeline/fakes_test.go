package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/maxp/memexpert/internal/domain"
	"github.com/maxp/memexpert/internal/index"
)

// fakeTextIndex is an in-memory TextIndex with switchable failures.
type fakeTextIndex struct {
	mu      sync.Mutex
	docs    map[string]*index.TextDoc
	upserts int
	failErr error
}

func newFakeTextIndex() *fakeTextIndex {
	return &fakeTextIndex{docs: make(map[string]*index.TextDoc)}
}

func (f *fakeTextIndex) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *fakeTextIndex) Upsert(_ context.Context, doc *index.TextDoc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.upserts++
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeTextIndex) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeTextIndex) Search(_ context.Context, _ string, _ int) ([]index.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	return nil, nil
}

func (f *fakeTextIndex) Close() error { return nil }

func (f *fakeTextIndex) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[id]
	return ok
}

func (f *fakeTextIndex) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

// fakeVectorIndex is an in-memory VectorIndex with switchable failures.
type fakeVectorIndex struct {
	mu      sync.Mutex
	points  map[string][]float32
	failErr error
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{points: make(map[string][]float32)}
}

func (f *fakeVectorIndex) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *fakeVectorIndex) Upsert(_ context.Context, id string, vector []float32, _ *index.VectorPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.points[id] = vector
	return nil
}

func (f *fakeVectorIndex) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	delete(f.points, id)
	return nil
}

func (f *fakeVectorIndex) Search(_ context.Context, _ []float32, _ int) ([]index.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	return nil, nil
}

func (f *fakeVectorIndex) Close() error { return nil }

func (f *fakeVectorIndex) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.points[id]
	return ok
}

// fakeEmbedder returns a fixed vector.
type fakeEmbedder struct {
	mu      sync.Mutex
	failErr error
}

func (f *fakeEmbedder) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *fakeEmbedder) embed() ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) EmbedDocument(_ context.Context, _ string) ([]float32, error) {
	return f.embed()
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return f.embed()
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

// fakeBlobStore keeps blobs in a map.
type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (f *fakeBlobStore) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = data
	return nil
}

func (f *fakeBlobStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", domain.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobStore) GetURL(key string) string { return "http://blobs.test/" + key }

func (f *fakeBlobStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, key)
	return nil
}

func (f *fakeBlobStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[key]
	return ok, nil
}

func (f *fakeBlobStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[key]
	return ok
}

// fakeTagger returns fixed tags.
type fakeTagger struct {
	mu      sync.Mutex
	tags    []string
	failErr error
}

func (f *fakeTagger) setFailure(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

func (f *fakeTagger) GenerateTags(_ context.Context, _ []byte, _, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	return f.tags, nil
}
