package grid

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// RetryPolicy governs corner lookups. A failed lookup moves the corner with
// Adjust and tries again after Delay, up to MaxAttempts attempts in total.
type RetryPolicy struct {
	MaxAttempts int // per corner; 0 means unlimited
	Adjust      func(domain.Corner) domain.Corner
	Delay       time.Duration
	Clock       clockwork.Clock
}

// DefaultRetryPolicy retries forever, stepping 0.01 degrees south-east every
// 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Adjust: ShiftSouthEast(0.01),
		Delay:  500 * time.Millisecond,
		Clock:  domain.Clock(),
	}
}

// ShiftSouthEast moves a corner eps degrees south and eps degrees east.
func ShiftSouthEast(eps float64) func(domain.Corner) domain.Corner {
	return func(c domain.Corner) domain.Corner {
		return domain.Corner{Lat: c.Lat - eps, Lon: c.Lon + eps}
	}
}

func (p RetryPolicy) exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// CornerResolution records how one corner was resolved.
type CornerResolution struct {
	Name      string           `json:"name"`
	Requested domain.Corner    `json:"requested"`
	Resolved  domain.Corner    `json:"resolved"`
	Attempts  int              `json:"attempts"`
	Cell      *domain.GridCell `json:"cell,omitempty"` // nil when the lookup lacked grid fields
}

// Resolution is the grid range covering a bounding box.
type Resolution struct {
	Range   domain.GridRange    `json:"range"`
	Corners [4]CornerResolution `json:"corners"`
}

// Resolver maps a bounding box to an inclusive grid range.
type Resolver struct {
	api     domain.GridAPI
	policy  RetryPolicy
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewResolver creates a Resolver. Zero-valued policy fields fall back to
// DefaultRetryPolicy.
func NewResolver(api domain.GridAPI, policy RetryPolicy, metrics *observability.Metrics, logger *slog.Logger) *Resolver {
	def := DefaultRetryPolicy()
	if policy.Adjust == nil {
		policy.Adjust = def.Adjust
	}
	if policy.Clock == nil {
		policy.Clock = def.Clock
	}
	return &Resolver{api: api, policy: policy, metrics: metrics, logger: logger}
}

// Resolve looks up each corner, retrying failed lookups under the retry
// policy. Corners whose response lacks gridId/gridX/gridY are left out of the
// bounds. All remaining corners must share one gridId.
func (r *Resolver) Resolve(ctx context.Context, box domain.BoundingBox) (Resolution, error) {
	if err := domain.ValidateBox(box); err != nil {
		return Resolution{}, err
	}

	var res Resolution
	var cells []domain.GridCell
	for i, corner := range box.Corners() {
		cr, err := r.resolveCorner(ctx, domain.CornerNames[i], corner)
		if err != nil {
			return Resolution{}, err
		}
		res.Corners[i] = cr
		if cr.Cell != nil {
			cells = append(cells, *cr.Cell)
		}
	}

	rng, err := bounds(cells)
	if err != nil {
		return Resolution{}, err
	}
	res.Range = rng

	r.logger.Info("grid range resolved",
		"grid_id", rng.GridID,
		"min_x", rng.MinX, "max_x", rng.MaxX,
		"min_y", rng.MinY, "max_y", rng.MaxY,
		"cells", rng.Len(),
	)
	return res, nil
}

func (r *Resolver) resolveCorner(ctx context.Context, name string, corner domain.Corner) (CornerResolution, error) {
	cr := CornerResolution{Name: name, Requested: corner}
	current := corner

	for {
		cr.Attempts++
		info, err := r.api.LookupPoint(ctx, current.Lat, current.Lon)
		if err == nil {
			cr.Resolved = current
			cell, cellErr := info.Cell()
			if cellErr != nil {
				r.logger.Warn("corner lookup missing grid fields, excluding from bounds",
					"corner", name, "lat", current.Lat, "lon", current.Lon, "error", cellErr)
				return cr, nil
			}
			cr.Cell = &cell
			return cr, nil
		}

		if ctx.Err() != nil {
			return cr, ctx.Err()
		}
		if r.policy.exhausted(cr.Attempts) {
			return cr, fmt.Errorf("%w: %s corner after %d attempts: %w", domain.ErrCornerResolution, name, cr.Attempts, err)
		}

		next := r.policy.Adjust(current)
		r.logger.Warn("corner lookup failed, shifting corner",
			"corner", name, "attempt", cr.Attempts,
			"lat", current.Lat, "lon", current.Lon,
			"next_lat", next.Lat, "next_lon", next.Lon,
			"error", err,
		)
		r.metrics.CornerRetries.Inc()
		current = next

		if err := sleep(ctx, r.policy.Clock, r.policy.Delay); err != nil {
			return cr, err
		}
	}
}

// bounds computes the inclusive range spanned by cells, which must share a
// grid identifier.
func bounds(cells []domain.GridCell) (domain.GridRange, error) {
	if len(cells) == 0 {
		return domain.GridRange{}, domain.ErrNoCornersResolved
	}

	rng := domain.GridRange{
		GridID: cells[0].GridID,
		MinX:   cells[0].X,
		MaxX:   cells[0].X,
		MinY:   cells[0].Y,
		MaxY:   cells[0].Y,
	}
	for _, c := range cells[1:] {
		if c.GridID != rng.GridID {
			return domain.GridRange{}, fmt.Errorf("%w: %s", domain.ErrGridMismatch, gridIDs(cells))
		}
		rng.MinX = min(rng.MinX, c.X)
		rng.MaxX = max(rng.MaxX, c.X)
		rng.MinY = min(rng.MinY, c.Y)
		rng.MaxY = max(rng.MaxY, c.Y)
	}
	return rng, nil
}

func gridIDs(cells []domain.GridCell) string {
	ids := make([]string, 0, len(cells))
	for _, c := range cells {
		ids = append(ids, c.GridID)
	}
	slices.Sort(ids)
	return strings.Join(slices.Compact(ids), ", ")
}
