package grid

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
	"golang.org/x/sync/errgroup"
)

// SweepResult is the outcome of fetching every cell of a grid range.
type SweepResult struct {
	GridID    string         `json:"gridId"`
	Dataset   domain.Dataset `json:"-"`
	Attempted int            `json:"attempted"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`

	// BoxGeohash names the output artifact; empty when no cell succeeded.
	BoxGeohash string `json:"boxGeohash"`

	// Collisions counts cells dropped because an earlier cell rounded to the
	// same center. Attempted = Succeeded + Failed + Collisions.
	Collisions int `json:"collisions"`

	// Partial is set when the sweep was cancelled before every cell was tried.
	Partial bool `json:"partial"`
}

// Aggregator sweeps a grid range into a Dataset.
type Aggregator struct {
	fetcher     *Fetcher
	concurrency int
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewAggregator creates an Aggregator running up to concurrency fetches at
// once. The fetcher's throttle is shared by all of them.
func NewAggregator(fetcher *Fetcher, concurrency int, metrics *observability.Metrics, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		fetcher:     fetcher,
		concurrency: max(concurrency, 1),
		metrics:     metrics,
		logger:      logger,
	}
}

type cellOutcome struct {
	attempted bool
	record    *domain.CellRecord
	err       error
}

// Sweep fetches every cell in rng and builds a record for each success.
// Failed cells are skipped. Cancelling ctx stops issuing new fetches; the
// cells already gathered are returned with Partial set and a nil error.
func (a *Aggregator) Sweep(ctx context.Context, rng domain.GridRange, fields []string) (SweepResult, error) {
	cells := rng.Cells()
	if len(cells) == 0 {
		return SweepResult{}, fmt.Errorf("sweep %s: empty grid range", rng.GridID)
	}

	outcomes := make([]cellOutcome, len(cells))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, cell := range cells {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcomes[i] = a.processCell(ctx, cell, fields)
			return nil
		})
	}
	// Outcomes carry per-cell errors, so Wait never returns one.
	_ = g.Wait()

	// Fold in request order so the first of two cells sharing a center wins
	// regardless of completion order.
	acc := newAccumulator(rng.GridID)
	for i, o := range outcomes {
		acc.add(cells[i], o, a.logger)
	}
	result := acc.result()
	result.Partial = result.Attempted < len(cells)

	a.logger.Info("sweep complete",
		"grid_id", result.GridID,
		"attempted", result.Attempted,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"collisions", result.Collisions,
		"partial", result.Partial,
		"box_geohash", result.BoxGeohash,
	)
	return result, nil
}

func (a *Aggregator) processCell(ctx context.Context, cell domain.GridCell, fields []string) cellOutcome {
	gp, values, err := a.fetcher.Fetch(ctx, cell, fields)
	if err != nil {
		if ctx.Err() != nil {
			return cellOutcome{}
		}
		a.logger.Warn("cell fetch failed, skipping", "grid_id", cell.GridID, "x", cell.X, "y", cell.Y, "error", err)
		a.metrics.Cells.WithLabelValues("failed").Inc()
		return cellOutcome{attempted: true, err: err}
	}

	lat, lon, ok := domain.RingCenter(gp.Ring)
	if !ok {
		err := fmt.Errorf("cell %s has no boundary polygon: %w", cell, domain.ErrSchemaExtraction)
		a.logger.Warn("cell geometry missing, skipping", "grid_id", cell.GridID, "x", cell.X, "y", cell.Y, "error", err)
		a.metrics.Cells.WithLabelValues("failed").Inc()
		return cellOutcome{attempted: true, err: err}
	}

	rec := domain.NewCellRecord(cell, lat, lon, domain.Availability(values, fields))
	a.metrics.Cells.WithLabelValues("success").Inc()
	return cellOutcome{attempted: true, record: &rec}
}

// accumulator folds cell outcomes into a dataset and counters.
type accumulator struct {
	res SweepResult
}

func newAccumulator(gridID string) *accumulator {
	return &accumulator{res: SweepResult{GridID: gridID, Dataset: make(domain.Dataset)}}
}

func (acc *accumulator) add(cell domain.GridCell, o cellOutcome, logger *slog.Logger) {
	if !o.attempted {
		return
	}
	acc.res.Attempted++
	if o.err != nil || o.record == nil {
		acc.res.Failed++
		return
	}

	key := o.record.GeohashCenter
	if prev, ok := acc.res.Dataset[key]; ok {
		acc.res.Collisions++
		logger.Warn("cell center collides with earlier cell, keeping first",
			"geohash", key, "kept_x", prev.GridX, "kept_y", prev.GridY, "x", cell.X, "y", cell.Y)
		return
	}
	acc.res.Dataset[key] = *o.record
	acc.res.Succeeded++
}

func (acc *accumulator) result() SweepResult {
	if bound, ok := acc.res.Dataset.Envelope(); ok {
		acc.res.BoxGeohash = domain.BoundGeohash(bound, domain.BoxGeohashPrecision)
	}
	return acc.res
}
