package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
)

const fileExt = ".json"

// File stores each dataset as <dir>/<key>.json.
type File struct {
	dir string
}

// NewFile creates dir if needed and returns a store rooted there.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &File{dir: dir}, nil
}

// Path returns the file a key is stored in.
func (f *File) Path(key string) string {
	return filepath.Join(f.dir, key+fileExt)
}

// Save writes the dataset through a temp file and rename so readers never see
// a partial document.
func (f *File) Save(_ context.Context, key string, ds domain.Dataset) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := encode(ds)
	if err != nil {
		return fmt.Errorf("encode dataset %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(f.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write dataset %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close dataset %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), f.Path(key)); err != nil {
		return fmt.Errorf("rename dataset %s: %w", key, err)
	}
	return nil
}

func (f *File) Load(_ context.Context, key string) (domain.Dataset, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", key, err)
	}
	return decode(key, data)
}

func (f *File) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list store dir: %w", err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileExt))
	}
	slices.Sort(keys)
	return keys, nil
}

func (f *File) Close() error { return nil }
