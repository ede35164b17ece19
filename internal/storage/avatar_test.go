package storage

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
	jpegBytes = append([]byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 32)...)
	gifBytes  = []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")
)

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newMemStore() *memStore { return &memStore{files: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, name string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.files[name] = data
	return nil
}

func (m *memStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, name)
	return nil
}

func (m *memStore) List(context.Context) ([]Object, error) { return nil, nil }
func (m *memStore) URL(name string) string                 { return "/x/" + name }

func TestAvatars_Save(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	a := NewAvatars(store, 1<<20)

	png, err := a.Save(context.Background(), pngBytes)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}\.png$`), png)

	jpg, err := a.Save(context.Background(), jpegBytes)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}\.jpg$`), jpg)

	assert.NotEqual(t, png, jpg)
	assert.Len(t, store.files, 2)
	assert.Equal(t, "/x/"+png, a.URL(png))
}

func TestAvatars_SameBytesGetDistinctNames(t *testing.T) {
	t.Parallel()
	a := NewAvatars(newMemStore(), 1<<20)

	first, err := a.Save(context.Background(), pngBytes)
	require.NoError(t, err)
	second, err := a.Save(context.Background(), pngBytes)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestAvatars_Rejects(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	a := NewAvatars(store, 64)

	_, err := a.Save(context.Background(), gifBytes)
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = a.Save(context.Background(), []byte("<svg xmlns='http://www.w3.org/2000/svg'/>"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = a.Save(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = a.Save(context.Background(), append(pngBytes, make([]byte, 64)...))
	assert.ErrorIs(t, err, ErrImageTooLarge)

	assert.Empty(t, store.files)
}

func TestAvatars_StoreFailure(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.err = errors.New("disk full")

	_, err := NewAvatars(store, 1<<20).Save(context.Background(), pngBytes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
