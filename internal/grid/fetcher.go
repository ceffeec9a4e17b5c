package grid

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
)

// Fetcher retrieves one cell's forecast document under a throttle and
// extracts the first value of each requested field.
type Fetcher struct {
	api      domain.GridAPI
	throttle Throttle
}

// NewFetcher creates a Fetcher. A nil throttle means no pacing.
func NewFetcher(api domain.GridAPI, throttle Throttle) *Fetcher {
	if throttle == nil {
		throttle = NoThrottle{}
	}
	return &Fetcher{api: api, throttle: throttle}
}

// Fetch waits for the throttle, then fetches the cell. On any failure every
// field maps to nil and the error tells the caller to skip the cell; the
// error wraps ErrTransientFetch unless ctx was cancelled.
func (f *Fetcher) Fetch(ctx context.Context, cell domain.GridCell, fields []string) (domain.Gridpoint, map[string]*float64, error) {
	if err := f.throttle.Wait(ctx); err != nil {
		return domain.Gridpoint{}, domain.AbsentValues(fields), err
	}

	gp, err := f.api.FetchGridpoint(ctx, cell)
	if err != nil {
		if !errors.Is(err, domain.ErrTransientFetch) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", domain.ErrTransientFetch, err)
		}
		return domain.Gridpoint{}, domain.AbsentValues(fields), fmt.Errorf("fetch cell %s: %w", cell, err)
	}
	return gp, domain.FieldValues(gp, fields), nil
}
