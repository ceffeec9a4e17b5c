// Package search finds, for each requested field, the nearest grid cell
// reporting a value, by expanding square rings around an origin cell.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/couchcryptid/marine-grid-etl/internal/grid"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
	"golang.org/x/sync/errgroup"
)

// State is a step of a search run.
type State int

const (
	StateInit State = iota
	StateResolveOrigin
	StateExpandRing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateResolveOrigin:
		return "RESOLVE_ORIGIN"
	case StateExpandRing:
		return "EXPAND_RING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the legal successor states.
var transitions = map[State][]State{
	StateInit:          {StateResolveOrigin, StateFailed},
	StateResolveOrigin: {StateExpandRing, StateFailed},
	StateExpandRing:    {StateExpandRing, StateDone, StateFailed},
}

// Options configures a Searcher.
type Options struct {
	// MaxRadius is the largest ring, in grid units, to expand to.
	MaxRadius int
	Fields    []string

	// CellSizeKm converts grid distance into approximate kilometres.
	CellSizeKm float64

	// MaxDistanceKm skips cells farther than this; 0 disables the cutoff.
	MaxDistanceKm float64

	// RevisitCells re-fetches interior cells on every ring instead of
	// skipping cells already fetched. Failed cells are retried on the next
	// ring under both policies, so results are identical either way.
	RevisitCells bool

	// KeepZeroValues counts an exact 0 as an observation. By default zero is
	// the upstream's no-data marker and is treated as absent.
	KeepZeroValues bool

	// Concurrency bounds parallel fetches within one ring.
	Concurrency int
}

// DefaultOptions returns the surf-report search configuration.
func DefaultOptions() Options {
	return Options{
		MaxRadius:   8,
		Fields:      domain.SurfFields,
		CellSizeKm:  2.5,
		Concurrency: 1,
	}
}

// Searcher runs nearest-value searches.
type Searcher struct {
	api     domain.GridAPI
	fetcher *grid.Fetcher
	opts    Options
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a Searcher. The origin is resolved through api directly; ring
// cells go through fetcher and its throttle.
func New(api domain.GridAPI, fetcher *grid.Fetcher, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Searcher {
	opts.Concurrency = max(opts.Concurrency, 1)
	return &Searcher{api: api, fetcher: fetcher, opts: opts, metrics: metrics, logger: logger}
}

// Nearest resolves origin to its grid cell and expands rings r = 1..MaxRadius
// around it. For each field it keeps the observation at the smallest grid
// distance; on ties the first cell in ring order wins. Fields never observed
// map to nil. A failed origin lookup aborts with ErrOriginResolution; failed
// ring cells contribute nothing. Cancelling ctx after the origin is resolved
// stops expansion and returns what was found so far with Partial set.
func (s *Searcher) Nearest(ctx context.Context, origin domain.Corner) (domain.NearestValueResult, error) {
	r := &run{Searcher: s, state: StateInit, origin: origin}
	res, err := r.execute(ctx)
	if err != nil {
		r.transition(StateFailed)
		return domain.NearestValueResult{}, err
	}
	r.transition(StateDone)
	return res, nil
}

// observation is one field value seen during expansion.
type observation struct {
	cell     domain.GridCell
	value    float64
	distance float64
	dx, dy   int
}

type run struct {
	*Searcher
	state   State
	origin  domain.Corner
	center  domain.GridCell
	best    map[string]*observation
	visited map[domain.GridCell]bool
	result  domain.NearestValueResult
}

func (r *run) transition(to State) {
	if !legal(r.state, to) {
		panic(fmt.Sprintf("search: illegal transition %s -> %s", r.state, to))
	}
	r.logger.Debug("search state", "from", r.state.String(), "to", to.String())
	r.state = to
}

func legal(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (r *run) execute(ctx context.Context) (domain.NearestValueResult, error) {
	if err := domain.ValidateCorner(r.origin); err != nil {
		return domain.NearestValueResult{}, fmt.Errorf("search origin: %w", err)
	}
	if r.opts.MaxRadius < 1 {
		return domain.NearestValueResult{}, fmt.Errorf("search radius must be at least 1, got %d", r.opts.MaxRadius)
	}

	r.transition(StateResolveOrigin)
	center, err := r.resolveOrigin(ctx)
	if err != nil {
		return domain.NearestValueResult{}, err
	}
	r.center = center
	r.best = make(map[string]*observation, len(r.opts.Fields))
	r.visited = make(map[domain.GridCell]bool)
	r.result = domain.NearestValueResult{
		Origin:     r.origin,
		OriginCell: center,
		MaxRadius:  r.opts.MaxRadius,
	}

	for radius := 1; radius <= r.opts.MaxRadius; radius++ {
		r.transition(StateExpandRing)
		if !r.expandRing(ctx, radius) {
			r.result.Partial = true
			r.logger.Warn("nearest search cancelled, returning partial result",
				"radius", radius, "error", ctx.Err())
			break
		}
	}

	r.result.Fields = r.finish()
	r.logger.Info("nearest search complete",
		"grid_id", center.GridID, "x", center.X, "y", center.Y,
		"max_radius", r.opts.MaxRadius,
		"visited", len(r.result.Visited),
		"failed", r.result.Failed,
		"resolved", countResolved(r.result.Fields),
		"partial", r.result.Partial,
	)
	return r.result, nil
}

func (r *run) resolveOrigin(ctx context.Context) (domain.GridCell, error) {
	info, err := r.api.LookupPoint(ctx, r.origin.Lat, r.origin.Lon)
	if err != nil {
		return domain.GridCell{}, fmt.Errorf("%w: lookup %s: %w", domain.ErrOriginResolution, r.origin, err)
	}
	cell, err := info.Cell()
	if err != nil {
		return domain.GridCell{}, fmt.Errorf("%w: %w", domain.ErrOriginResolution, err)
	}
	return cell, nil
}

type ringCell struct {
	cell     domain.GridCell
	dx, dy   int
	distance float64
}

// ringCells lists the square ring of radius around the center, x outer and
// y inner, minus cells skipped by the visited set or the km cutoff.
func (r *run) ringCells(radius int) []ringCell {
	var cells []ringCell
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			cell := domain.GridCell{GridID: r.center.GridID, X: r.center.X + dx, Y: r.center.Y + dy}
			if cell.X < 0 || cell.Y < 0 {
				continue
			}
			if !r.opts.RevisitCells && r.visited[cell] {
				continue
			}
			d := math.Hypot(float64(dx), float64(dy))
			if r.opts.MaxDistanceKm > 0 && d*r.opts.CellSizeKm > r.opts.MaxDistanceKm {
				continue
			}
			cells = append(cells, ringCell{cell: cell, dx: dx, dy: dy, distance: d})
		}
	}
	return cells
}

type fetched struct {
	values map[string]*float64
	err    error
	done   bool
}

// expandRing fetches and folds one ring. It reports false when ctx was
// cancelled; fetches that completed before the cancellation are still folded.
func (r *run) expandRing(ctx context.Context, radius int) bool {
	cells := r.ringCells(radius)
	results := make([]fetched, len(cells))

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, rc := range cells {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, values, err := r.fetcher.Fetch(ctx, rc.cell, r.opts.Fields)
			results[i] = fetched{values: values, err: err, done: err == nil || ctx.Err() == nil}
			return nil
		})
	}
	// Workers record their own errors, so Wait never returns one.
	_ = g.Wait()

	folded := 0
	for i, rc := range cells {
		res := results[i]
		if !res.done {
			continue
		}
		folded++
		r.result.Visited = append(r.result.Visited, domain.VisitedCell{
			Cell:     rc.cell,
			Distance: rc.distance,
			Fetched:  res.err == nil,
		})
		if res.err != nil {
			r.result.Failed++
			r.logger.Warn("search cell fetch failed, will retry on next ring",
				"grid_id", rc.cell.GridID, "x", rc.cell.X, "y", rc.cell.Y, "radius", radius, "error", res.err)
			continue
		}
		r.visited[rc.cell] = true
		r.observe(rc, res.values)
	}
	r.metrics.SearchCellsVisited.Add(float64(folded))
	return ctx.Err() == nil
}

func (r *run) observe(rc ringCell, values map[string]*float64) {
	for _, field := range r.opts.Fields {
		v := values[field]
		if v == nil || (*v == 0 && !r.opts.KeepZeroValues) {
			continue
		}
		if cur := r.best[field]; cur != nil && cur.distance <= rc.distance {
			continue
		}
		r.best[field] = &observation{cell: rc.cell, value: *v, distance: rc.distance, dx: rc.dx, dy: rc.dy}
	}
}

// finish fixes distance and bearing for each field's nearest cell.
func (r *run) finish() map[string]*domain.NearestValue {
	out := make(map[string]*domain.NearestValue, len(r.opts.Fields))
	for _, field := range r.opts.Fields {
		obs := r.best[field]
		if obs == nil {
			out[field] = nil
			continue
		}
		out[field] = &domain.NearestValue{
			Cell:       obs.cell,
			Value:      obs.value,
			Distance:   obs.distance,
			Bearing:    Bearing(obs.dx, obs.dy),
			DistanceKm: obs.distance * r.opts.CellSizeKm,
		}
	}
	return out
}

// Bearing is atan2(dy, dx) in degrees: 0 along +x, 90 along +y.
func Bearing(dx, dy int) float64 {
	return math.Atan2(float64(dy), float64(dx)) * 180 / math.Pi
}

func countResolved(fields map[string]*domain.NearestValue) int {
	n := 0
	for _, v := range fields {
		if v != nil {
			n++
		}
	}
	return n
}
