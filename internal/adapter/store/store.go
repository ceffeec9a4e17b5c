// Package store persists datasets as JSON documents keyed by name.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
)

// ErrNotFound is returned by Load for an unknown key.
var ErrNotFound = errors.New("dataset not found")

// Store is a dataset blob store. Keys are box geohashes or other short names
// made of letters, digits, '_', '-' and '.'.
type Store interface {
	Save(ctx context.Context, key string, ds domain.Dataset) error
	Load(ctx context.Context, key string) (domain.Dataset, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]*$`)

func checkKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid dataset key %q", key)
	}
	return nil
}

func encode(ds domain.Dataset) ([]byte, error) {
	if ds == nil {
		ds = domain.Dataset{}
	}
	return json.MarshalIndent(ds, "", "    ")
}

func decode(key string, data []byte) (domain.Dataset, error) {
	var ds domain.Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", key, err)
	}
	return ds, nil
}
