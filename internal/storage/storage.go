// Package storage holds meme media blobs. Keys are content-addressed by the
// MD5 of the bytes, so the same image uploaded twice lands on the same key
// and blob writes are idempotent.
package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
)

// BlobStore is the object storage contract for meme media.
type BlobStore interface {
	// Upload stores an object under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download fetches an object; the caller closes the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the public URL for an object.
	GetURL(key string) string

	// Delete removes an object.
	Delete(ctx context.Context, key string) error

	// Exists checks whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// HashBytes returns the MD5 hex digest of data, the identity blobs are
// addressed by.
func HashBytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ContentKey builds the storage key for a blob: the first two hash chars as
// a directory fan-out, then the full hash and extension.
func ContentKey(md5Hash, ext string) string {
	return fmt.Sprintf("%s/%s.%s", md5Hash[:2], md5Hash, ext)
}

// DownloadBytes fetches a whole object into memory. Meme media is small
// enough that buffering is fine.
func DownloadBytes(ctx context.Context, store BlobStore, key string) ([]byte, error) {
	rc, err := store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
