package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const incomingPrefix = ".incoming-"

// LocalStore keeps files in a directory served as static assets.
type LocalStore struct {
	dir       string
	urlPrefix string
}

// NewLocalStore stores files in dir; URL joins names onto urlPrefix.
func NewLocalStore(dir, urlPrefix string) *LocalStore {
	return &LocalStore{dir: dir, urlPrefix: urlPrefix}
}

func (s *LocalStore) Put(_ context.Context, name string, data []byte, _ string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create avatar directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, incomingPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write avatar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write avatar: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to write avatar: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to move avatar into place: %w", err)
	}
	tmpPath = ""
	return nil
}

func (s *LocalStore) Delete(_ context.Context, name string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete avatar: %w", err)
	}
	return nil
}

// List skips directories and in-flight temp files.
func (s *LocalStore) List(_ context.Context) ([]Object, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list avatars: %w", err)
	}

	objects := make([]Object, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), incomingPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		objects = append(objects, Object{Name: e.Name(), ModTime: info.ModTime()})
	}
	return objects, nil
}

func (s *LocalStore) URL(name string) string {
	return path.Join(s.urlPrefix, name)
}
