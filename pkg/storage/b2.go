package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kurin/blazer/b2"
)

// B2Storage keeps export files in a Backblaze B2 bucket.
type B2Storage struct {
	client *b2.Client
	bucket *b2.Bucket
	prefix string
}

// NewB2Storage authorises against B2 and resolves the bucket.
func NewB2Storage(ctx context.Context, accountID, appKey, bucketName string) (*B2Storage, error) {
	if accountID == "" || appKey == "" || bucketName == "" {
		return nil, fmt.Errorf("b2 storage requires account id, application key and bucket")
	}
	client, err := b2.NewClient(ctx, accountID, appKey)
	if err != nil {
		return nil, fmt.Errorf("create b2 client: %w", err)
	}
	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("get b2 bucket: %w", err)
	}
	return &B2Storage{client: client, bucket: bucket, prefix: "exports/"}, nil
}

// Save streams r into the object at key.
func (s *B2Storage) Save(ctx context.Context, key, contentType string, r io.Reader) error {
	w := s.bucket.Object(s.prefix + key).NewWriter(ctx)
	if contentType != "" {
		w = w.WithAttrs(&b2.Attrs{ContentType: contentType})
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write b2 object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close b2 writer: %w", err)
	}
	return nil
}

// Open returns a reader over the stored object.
func (s *B2Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj := s.bucket.Object(s.prefix + key)
	if _, err := obj.Attrs(ctx); err != nil {
		if b2.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat b2 object: %w", err)
	}
	return obj.NewReader(ctx), nil
}

// Delete removes the object if present.
func (s *B2Storage) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Object(s.prefix + key).Delete(ctx); err != nil && !b2.IsNotExist(err) {
		return fmt.Errorf("delete b2 object: %w", err)
	}
	return nil
}

// CleanupOlderThan deletes objects under the export prefix uploaded before now-ttl.
func (s *B2Storage) CleanupOlderThan(ctx context.Context, ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl)
	deleted := make([]string, 0)
	iter := s.bucket.List(ctx, b2.ListPrefix(s.prefix))
	for iter.Next() {
		obj := iter.Object()
		attrs, err := obj.Attrs(ctx)
		if err != nil {
			return deleted, fmt.Errorf("stat b2 object: %w", err)
		}
		if attrs.UploadTimestamp.After(cutoff) {
			continue
		}
		if err := obj.Delete(ctx); err != nil && !b2.IsNotExist(err) {
			return deleted, fmt.Errorf("delete b2 object: %w", err)
		}
		deleted = append(deleted, obj.Name()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("list b2 objects: %w", err)
	}
	return deleted, nil
}
