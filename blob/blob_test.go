package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtension(t *testing.T) {
	assert.Equal(t, "png", Extension("image/png"))
	assert.Equal(t, "gif", Extension("IMAGE/GIF"))
	assert.Equal(t, "webp", Extension("image/webp"))
	assert.Equal(t, "jpg", Extension("image/jpeg"))
	assert.Equal(t, "jpg", Extension(""))
}

func TestNewKeyIsUnique(t *testing.T) {
	a := NewKey("photos", "image/png")
	b := NewKey("photos", "image/png")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "photos/"))
	assert.True(t, strings.HasSuffix(a, ".png"))
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "photos", "/photos/")
	require.NoError(t, err)

	key, err := s.Put(ctx, strings.NewReader("fake-jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "/photos/"+key, s.URL(key))

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "fake-jpeg", string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(key)))
	assert.True(t, os.IsNotExist(err))

	// Already gone.
	assert.NoError(t, s.Delete(ctx, key))
}

func TestLocalStorePathStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "photos", "/photos")
	require.NoError(t, err)
	p := s.path("../../etc/passwd")
	assert.True(t, strings.HasPrefix(p, dir), p)
}
