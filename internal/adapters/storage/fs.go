package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const backendFS = "fs"

// FSStore keeps images as files in one directory.
type FSStore struct {
	dir string
}

// NewFSStore creates dir if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, errors.New("fs store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fs store: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

// Dir is the backing directory.
func (s *FSStore) Dir() string { return s.dir }

// Put writes data atomically through a temporary file.
func (s *FSStore) Put(_ context.Context, name string, data []byte) (err error) {
	start := time.Now()
	defer func() { observe(backendFS, "put", start, err) }()
	if err = ValidateName(name); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("fs store put %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fs store put %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("fs store put %s: %w", name, err)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("fs store put %s: %w", name, err)
	}
	return nil
}

// Get reads a stored image.
func (s *FSStore) Get(_ context.Context, name string) (data []byte, err error) {
	start := time.Now()
	defer func() { observe(backendFS, "get", start, err) }()
	if err = ValidateName(name); err != nil {
		return nil, err
	}
	data, err = os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("fs store get %s: %w", name, err)
	}
	return data, nil
}

// Close is a no-op.
func (s *FSStore) Close() error { return nil }
