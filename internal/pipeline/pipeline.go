// Package pipeline runs a bounding-box sweep end to end: resolve the box to a
// grid range, aggregate every cell, then store and publish the dataset.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/couchcryptid/marine-grid-etl/internal/grid"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
	"github.com/google/uuid"
)

// ErrNoCellsCollected is returned when a sweep finished without a single
// successful cell, so there is nothing to load.
var ErrNoCellsCollected = errors.New("no cells collected")

// Resolver maps a bounding box to a grid range.
type Resolver interface {
	Resolve(ctx context.Context, box domain.BoundingBox) (grid.Resolution, error)
}

// Sweeper fetches every cell of a grid range.
type Sweeper interface {
	Sweep(ctx context.Context, rng domain.GridRange, fields []string) (grid.SweepResult, error)
}

// DatasetStore persists a dataset under a key.
type DatasetStore interface {
	Save(ctx context.Context, key string, ds domain.Dataset) error
}

// Publisher streams the records of a dataset downstream.
type Publisher interface {
	Publish(ctx context.Context, runID, boxGeohash string, ds domain.Dataset) error
}

// Options tunes a Pipeline.
type Options struct {
	// SweepTimeout bounds the aggregation phase; 0 means no limit. When it
	// fires the cells gathered so far are still loaded.
	SweepTimeout time.Duration

	// LoadTimeout bounds the load phase once the caller's context is gone.
	LoadTimeout time.Duration

	// LoadAttempts is how many times a failed store write is tried.
	LoadAttempts int
}

// DefaultOptions returns the options used by cmd/sweep.
func DefaultOptions() Options {
	return Options{LoadTimeout: 30 * time.Second, LoadAttempts: 3}
}

// Report summarizes one pipeline run.
type Report struct {
	RunID      string             `json:"runId"`
	Box        domain.BoundingBox `json:"box"`
	Resolution grid.Resolution    `json:"resolution"`
	Sweep      grid.SweepResult   `json:"sweep"`
	StoredKey  string             `json:"storedKey,omitempty"`
	Published  bool               `json:"published"`
	Duration   time.Duration      `json:"duration"`
}

// Phase is the stage a run is in.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseResolving Phase = "resolving"
	PhaseSweeping  Phase = "sweeping"
	PhaseLoading   Phase = "loading"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// Status is a point-in-time snapshot for the ops server.
type Status struct {
	Phase     Phase     `json:"phase"`
	RunID     string    `json:"runId,omitempty"`
	StartedAt time.Time `json:"startedAt,omitzero"`
	Error     string    `json:"error,omitempty"`
	Last      *Report   `json:"last,omitempty"`
}

// Pipeline orchestrates the resolve-aggregate-load run.
type Pipeline struct {
	resolver  Resolver
	sweeper   Sweeper
	store     DatasetStore
	publisher Publisher
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool

	mu     sync.Mutex
	status Status
}

// New creates a Pipeline. publisher may be nil to skip publishing.
func New(r Resolver, s Sweeper, store DatasetStore, publisher Publisher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.LoadAttempts < 1 {
		opts.LoadAttempts = 1
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultOptions().LoadTimeout
	}
	return &Pipeline{
		resolver:  r,
		sweeper:   s,
		store:     store,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
		status:    Status{Phase: PhaseIdle},
	}
}

// CheckReadiness returns nil once the current run has resolved its grid
// range and started fetching cells.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("sweep has not resolved its grid range yet")
	}
	return nil
}

// Status returns a snapshot of the current run.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	if s.Last != nil {
		last := *s.Last
		s.Last = &last
	}
	return s
}

func (p *Pipeline) setPhase(phase Phase) {
	p.mu.Lock()
	p.status.Phase = phase
	p.mu.Unlock()
}

// Run sweeps box for fields. Cancelling ctx during aggregation still stores
// the partial dataset; cancelling it during resolution aborts the run.
func (p *Pipeline) Run(ctx context.Context, box domain.BoundingBox, fields []string) (Report, error) {
	start := time.Now()
	report := Report{RunID: uuid.NewString(), Box: box}
	logger := p.logger.With("run_id", report.RunID)

	p.mu.Lock()
	p.status = Status{Phase: PhaseResolving, RunID: report.RunID, StartedAt: start, Last: p.status.Last}
	p.mu.Unlock()
	p.ready.Store(false)

	p.metrics.SweepRunning.Set(1)
	defer p.metrics.SweepRunning.Set(0)

	logger.Info("sweep started", "nw", box.NW.String(), "se", box.SE.String(), "fields", len(fields))

	err := p.run(ctx, &report, fields, logger)
	report.Duration = time.Since(start)
	p.metrics.SweepDuration.Observe(report.Duration.Seconds())
	p.finish(report, err)

	if err != nil {
		logger.Error("sweep failed", "error", err, "duration", report.Duration)
		return report, err
	}
	logger.Info("sweep finished",
		"grid_id", report.Sweep.GridID,
		"stored_key", report.StoredKey,
		"published", report.Published,
		"partial", report.Sweep.Partial,
		"duration", report.Duration,
	)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, report *Report, fields []string, logger *slog.Logger) error {
	res, err := p.resolver.Resolve(ctx, report.Box)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	report.Resolution = res

	p.setPhase(PhaseSweeping)
	p.ready.Store(true)

	sweepCtx := ctx
	if p.opts.SweepTimeout > 0 {
		var cancel context.CancelFunc
		sweepCtx, cancel = context.WithTimeout(ctx, p.opts.SweepTimeout)
		defer cancel()
	}
	sweep, err := p.sweeper.Sweep(sweepCtx, res.Range, fields)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	report.Sweep = sweep
	if sweep.Succeeded == 0 {
		return fmt.Errorf("sweep %s: %w (%d attempted)", sweep.GridID, ErrNoCellsCollected, sweep.Attempted)
	}

	p.setPhase(PhaseLoading)
	// Loading must survive the cancellation that ended a partial sweep.
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.LoadTimeout)
	defer cancel()
	return p.load(loadCtx, report, logger)
}

func (p *Pipeline) load(ctx context.Context, report *Report, logger *slog.Logger) error {
	key := report.Sweep.BoxGeohash
	ds := report.Sweep.Dataset

	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second
	var err error
	for attempt := 1; attempt <= p.opts.LoadAttempts; attempt++ {
		if err = p.store.Save(ctx, key, ds); err == nil {
			break
		}
		logger.Warn("store dataset failed", "key", key, "attempt", attempt, "error", err)
		if attempt == p.opts.LoadAttempts || !sleepWithContext(ctx, backoff) {
			break
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
	if err != nil {
		return fmt.Errorf("store dataset %s: %w", key, err)
	}
	report.StoredKey = key

	if p.publisher == nil {
		return nil
	}
	if err := p.publisher.Publish(ctx, report.RunID, key, ds); err != nil {
		// The dataset is already stored; a failed publish is reported but
		// does not fail the run.
		logger.Error("publish records failed", "key", key, "error", err)
		return nil
	}
	report.Published = true
	return nil
}

func (p *Pipeline) finish(report Report, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Last = &report
	if err != nil {
		p.status.Phase = PhaseFailed
		p.status.Error = err.Error()
		return
	}
	p.status.Phase = PhaseDone
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
