// Package merge folds keyed cell datasets into one, classifying repeated keys
// and keeping the first occurrence of each.
package merge

import (
	"log/slog"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
)

// Duplicate classes recorded in metrics.
const (
	ClassUnique      = "unique"
	ClassExact       = "exact"
	ClassGeohashOnly = "geohash_only"
	ClassMismatch    = "mismatch"
)

// Engine merges sources.
type Engine struct {
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewEngine creates a merge Engine.
func NewEngine(metrics *observability.Metrics, logger *slog.Logger) *Engine {
	return &Engine{metrics: metrics, logger: logger}
}

// Merge folds sources left to right, records in source order. The first
// record seen for a key is kept. A later record under the same key is an
// exact duplicate when identical, a geohash-only duplicate when it differs
// only in geohashCenter, and otherwise a mismatch that is recorded as a
// conflict. Nothing is ever overwritten, so the result depends on the order
// of sources.
func (e *Engine) Merge(sources ...Source) (domain.Dataset, domain.MergeReport) {
	unique := make(domain.Dataset)
	keptFrom := make(map[string]string)
	var report domain.MergeReport

	for _, src := range sources {
		for _, kr := range src.Records {
			report.Total++
			class := e.classify(unique, keptFrom, src.Name, kr, &report)
			e.metrics.MergeRecords.WithLabelValues(class).Inc()
		}
	}

	report.Unique = len(unique)
	e.logger.Info("merge complete",
		"sources", len(sources),
		"total", report.Total,
		"unique", report.Unique,
		"exact_duplicates", report.ExactDuplicates,
		"geohash_only_duplicates", report.GeohashOnlyDuplicates,
		"mismatches", report.Mismatches,
	)
	return unique, report
}

func (e *Engine) classify(unique domain.Dataset, keptFrom map[string]string, source string, kr KeyedRecord, report *domain.MergeReport) string {
	kept, ok := unique[kr.Key]
	switch {
	case !ok:
		unique[kr.Key] = kr.Record
		keptFrom[kr.Key] = source
		return ClassUnique
	case kept.Equal(kr.Record):
		report.ExactDuplicates++
		return ClassExact
	case kept.EqualExceptGeohash(kr.Record):
		report.GeohashOnlyDuplicates++
		return ClassGeohashOnly
	default:
		report.Mismatches++
		report.Conflicts = append(report.Conflicts, domain.MergeConflict{
			Key:        kr.Key,
			KeptSource: keptFrom[kr.Key],
			Source:     source,
			Kept:       kept,
			Rejected:   kr.Record,
		})
		e.logger.Warn("merge conflict, keeping first record",
			"key", kr.Key, "kept_source", keptFrom[kr.Key], "source", source)
		return ClassMismatch
	}
}
