// Package storage persists profile pictures under generated names. Where the
// bytes live is up to the Store backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrImageTooLarge    = errors.New("image is too large")
	ErrEmptyImage       = errors.New("image is empty")
	ErrInvalidName      = errors.New("invalid object name")
)

// allowedImageTypes maps sniffed MIME types to the extension stored on disk.
var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

// Object describes a stored file.
type Object struct {
	Name    string
	ModTime time.Time
}

// Store is a flat namespace of files.
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Object, error)
	URL(name string) string
}

// Avatars validates uploads and writes them to a Store under random names,
// so a stored file never depends on the owner's editable fields.
type Avatars struct {
	store    Store
	maxBytes int64
}

func NewAvatars(store Store, maxBytes int64) *Avatars {
	return &Avatars{store: store, maxBytes: maxBytes}
}

// Save stores data and returns the generated file name.
func (a *Avatars) Save(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if int64(len(data)) > a.maxBytes {
		return "", ErrImageTooLarge
	}

	mime := mimetype.Detect(data)
	ext, ok := allowedImageTypes[mime.String()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mime.String())
	}

	name := strings.ReplaceAll(uuid.NewString(), "-", "") + ext
	if err := a.store.Put(ctx, name, data, mime.String()); err != nil {
		return "", fmt.Errorf("failed to store avatar: %w", err)
	}
	return name, nil
}

// Delete removes a stored avatar. Missing files are not an error.
func (a *Avatars) Delete(ctx context.Context, name string) error {
	return a.store.Delete(ctx, name)
}

// List returns every stored avatar.
func (a *Avatars) List(ctx context.Context) ([]Object, error) {
	return a.store.List(ctx)
}

// URL returns where clients can fetch the avatar.
func (a *Avatars) URL(name string) string {
	return a.store.URL(name)
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
