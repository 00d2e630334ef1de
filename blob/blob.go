// Package blob stores issue photos under opaque keys.
package blob

//go:generate mockgen -destination=blobmock/mock_store.go -package=blobmock civicfix-be/blob Store

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists photo bytes and removes them by key.
type Store interface {
	// Put stores r and returns the key it was stored under.
	Put(ctx context.Context, r io.Reader, contentType string) (string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// URL returns where clients can fetch key.
	URL(key string) string
}

// Extension returns the file extension used for contentType.
func Extension(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	}
	return "jpg"
}

// NewKey builds a unique object key under folder.
func NewKey(folder, contentType string) string {
	return fmt.Sprintf("%s/%s_%d.%s", folder, uuid.NewString(), time.Now().UnixNano(), Extension(contentType))
}
