package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"cloud.google.com/go/storage"
)

// GCSStore keeps photos in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	folder string
}

// NewGCSStore connects with application default credentials and checks
// that bucket is reachable.
func NewGCSStore(ctx context.Context, bucket, folder string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to Google Cloud Storage: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("access bucket %s: %w", bucket, err)
	}
	log.Printf("Bucket %s ready", bucket)
	return &GCSStore{client: client, bucket: bucket, folder: folder}, nil
}

func (s *GCSStore) Put(ctx context.Context, r io.Reader, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	key := NewKey(s.folder, contentType)

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish upload %s: %w", key, err)
	}
	return key, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) URL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
