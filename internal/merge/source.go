package merge

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
)

// KeyedRecord is a record under the key its source file stored it at.
type KeyedRecord struct {
	Key    string
	Record domain.CellRecord
}

// Source is one input to a merge: a named, ordered list of records.
type Source struct {
	Name    string
	Records []KeyedRecord
}

// FromDataset lists a dataset's records in key order.
func FromDataset(name string, ds domain.Dataset) Source {
	src := Source{Name: name, Records: make([]KeyedRecord, 0, len(ds))}
	for _, k := range ds.Keys() {
		src.Records = append(src.Records, KeyedRecord{Key: k, Record: ds[k]})
	}
	return src
}

// ReadSource decodes a JSON object of key -> CellRecord. Records are ordered
// by key so a file always folds the same way.
func ReadSource(name string, r io.Reader) (Source, error) {
	var ds domain.Dataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return Source{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return FromDataset(name, ds), nil
}

// Rekey re-keys every record by its own geohashCenter, preserving order.
// Legacy sweep files were keyed by "(x, y)".
func Rekey(src Source) Source {
	out := Source{Name: src.Name, Records: make([]KeyedRecord, len(src.Records))}
	for i, kr := range src.Records {
		out.Records[i] = KeyedRecord{Key: kr.Record.GeohashCenter, Record: kr.Record}
	}
	return out
}

// SortSources orders sources by name so the first-seen record of a key does
// not depend on the order files were listed in.
func SortSources(sources []Source) {
	slices.SortStableFunc(sources, func(a, b Source) int {
		return strings.Compare(a.Name, b.Name)
	})
}

// WriteDataset encodes ds as an indented JSON object.
func WriteDataset(w io.Writer, ds domain.Dataset) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(ds)
}
