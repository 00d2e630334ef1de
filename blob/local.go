package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore keeps photos on the local disk, served by the HTTP router
// under baseURL.
type LocalStore struct {
	dir     string
	folder  string
	baseURL string
}

func NewLocalStore(dir, folder, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, folder), 0o750); err != nil {
		return nil, fmt.Errorf("create photo dir: %w", err)
	}
	return &LocalStore{dir: dir, folder: folder, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Dir is the root directory keys are resolved against.
func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Put(ctx context.Context, r io.Reader, contentType string) (string, error) {
	key := NewKey(s.folder, contentType)
	f, err := os.OpenFile(s.path(key), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(s.path(key))
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(s.path(key))
		return "", fmt.Errorf("close %s: %w", key, err)
	}
	return key, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) URL(key string) string {
	return s.baseURL + "/" + key
}

// path confines key to dir.
func (s *LocalStore) path(key string) string {
	clean := path.Clean("/" + key)
	return filepath.Join(s.dir, filepath.FromSlash(clean))
}
