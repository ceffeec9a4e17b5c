package grid_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/couchcryptid/marine-grid-etl/internal/domain/gridtest"
	"github.com/couchcryptid/marine-grid-etl/internal/grid"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// maineLayout is a 3x3 grid spanning the envelope of mainBox.
var maineLayout = gridtest.Layout{
	GridID:  "CAR",
	Lat0:    44.2204,
	Lon0:    -68.3069,
	LatStep: (44.8804 - 44.2204) / 3,
	LonStep: (-66.9769 - -68.3069) / 3,
	MinX:    10,
	MaxX:    12,
	MinY:    20,
	MaxY:    22,
}

var maineBox = domain.BoundingBox{
	NW: domain.Corner{Lat: 44.8804, Lon: -67.0136},
	SW: domain.Corner{Lat: 44.2204, Lon: -68.1855},
	SE: domain.Corner{Lat: 44.4123, Lon: -66.9769},
	NE: domain.Corner{Lat: 44.6519, Lon: -68.3069},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func immediatePolicy() grid.RetryPolicy {
	return grid.RetryPolicy{Adjust: grid.ShiftSouthEast(0.01)}
}

func newResolver(api domain.GridAPI, policy grid.RetryPolicy) (*grid.Resolver, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return grid.NewResolver(api, policy, m, discardLogger()), m
}

func TestResolver_MaineBox(t *testing.T) {
	api := gridtest.NewFakeAPI(maineLayout, nil)
	r, _ := newResolver(api, immediatePolicy())

	res, err := r.Resolve(context.Background(), maineBox)
	require.NoError(t, err)

	assert.Equal(t, domain.GridRange{GridID: "CAR", MinX: 10, MaxX: 12, MinY: 20, MaxY: 22}, res.Range)
	assert.Equal(t, 9, res.Range.Len())
	for _, c := range res.Corners {
		assert.Equal(t, 1, c.Attempts, c.Name)
		assert.Equal(t, c.Requested, c.Resolved, c.Name)
	}
}

func TestResolver_RangeBoundsEveryCorner(t *testing.T) {
	boxes := []domain.BoundingBox{
		maineBox,
		{
			NW: domain.Corner{Lat: 44.5, Lon: -68.0},
			NE: domain.Corner{Lat: 44.5, Lon: -67.5},
			SW: domain.Corner{Lat: 44.3, Lon: -68.0},
			SE: domain.Corner{Lat: 44.3, Lon: -67.5},
		},
		{
			NW: domain.Corner{Lat: 44.6, Lon: -67.2},
			NE: domain.Corner{Lat: 44.6, Lon: -67.1},
			SW: domain.Corner{Lat: 44.59, Lon: -67.2},
			SE: domain.Corner{Lat: 44.59, Lon: -67.1},
		},
	}

	for _, box := range boxes {
		api := gridtest.NewFakeAPI(maineLayout, nil)
		r, _ := newResolver(api, immediatePolicy())

		res, err := r.Resolve(context.Background(), box)
		require.NoError(t, err)
		for _, c := range res.Corners {
			require.NotNil(t, c.Cell, c.Name)
			assert.True(t, res.Range.Contains(*c.Cell), "%s cell %s outside %+v", c.Name, c.Cell, res.Range)
		}
	}
}

func TestResolver_RetriesWithShift(t *testing.T) {
	api := gridtest.NewFakeAPI(maineLayout, nil)
	api.FailLookups = 2
	r, m := newResolver(api, immediatePolicy())

	res, err := r.Resolve(context.Background(), maineBox)
	require.NoError(t, err)

	nw := res.Corners[0]
	assert.Equal(t, "northwest", nw.Name)
	assert.Equal(t, 3, nw.Attempts)
	assert.InDelta(t, maineBox.NW.Lat-0.02, nw.Resolved.Lat, 1e-9)
	assert.InDelta(t, maineBox.NW.Lon+0.02, nw.Resolved.Lon, 1e-9)

	lookups := api.Lookups()
	require.Len(t, lookups, 6)
	assert.InDelta(t, maineBox.NW.Lat-0.01, lookups[1].Lat, 1e-9)
	assert.InDelta(t, maineBox.NW.Lon+0.01, lookups[1].Lon, 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.CornerRetries), 0)

	for _, c := range res.Corners[1:] {
		assert.Equal(t, 1, c.Attempts, "retry must only move the failing corner")
	}
}

func TestResolver_RetryWaitsOnClock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clk := clockwork.NewFakeClock()
	api := gridtest.NewFakeAPI(maineLayout, nil)
	api.FailLookups = 2
	r, _ := newResolver(api, grid.RetryPolicy{
		Adjust: grid.ShiftSouthEast(0.01),
		Delay:  time.Second,
		Clock:  clk,
	})

	type outcome struct {
		res grid.Resolution
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.Resolve(ctx, maineBox)
		done <- outcome{res, err}
	}()

	for range 2 {
		require.NoError(t, clk.BlockUntilContext(ctx, 1))
		clk.Advance(time.Second)
	}

	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, 3, out.res.Corners[0].Attempts)
}

func TestResolver_RetryBudgetExhausted(t *testing.T) {
	api := gridtest.NewFakeAPI(maineLayout, nil)
	api.Locate = func(float64, float64) (domain.PointInfo, bool) { return domain.PointInfo{}, false }
	r, _ := newResolver(api, grid.RetryPolicy{MaxAttempts: 3, Adjust: grid.ShiftSouthEast(0.01)})

	_, err := r.Resolve(context.Background(), maineBox)
	require.ErrorIs(t, err, domain.ErrCornerResolution)
	assert.ErrorIs(t, err, domain.ErrTransientFetch)
	assert.Contains(t, err.Error(), "northwest")
	assert.Len(t, api.Lookups(), 3)
}

func TestResolver_CancelledDuringRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := gridtest.NewFakeAPI(maineLayout, nil)
	api.Locate = func(float64, float64) (domain.PointInfo, bool) {
		cancel()
		return domain.PointInfo{}, false
	}
	r, _ := newResolver(api, immediatePolicy())

	_, err := r.Resolve(ctx, maineBox)
	require.ErrorIs(t, err, context.Canceled)
}

func TestResolver_MissingFieldsExcludedFromBounds(t *testing.T) {
	api := gridtest.NewFakeAPI(maineLayout, nil)
	locate := api.Locate
	api.Locate = func(lat, lon float64) (domain.PointInfo, bool) {
		info, ok := locate(lat, lon)
		if lat == maineBox.SE.Lat && lon == maineBox.SE.Lon {
			info.GridX = nil
		}
		return info, ok
	}
	r, _ := newResolver(api, immediatePolicy())

	res, err := r.Resolve(context.Background(), maineBox)
	require.NoError(t, err)

	assert.Nil(t, res.Corners[3].Cell)
	assert.Equal(t, 1, res.Corners[3].Attempts, "extraction failure is not retried")
	// NW(12,22), SW(10,20), NE(10,21) remain.
	assert.Equal(t, domain.GridRange{GridID: "CAR", MinX: 10, MaxX: 12, MinY: 20, MaxY: 22}, res.Range)
}

func TestResolver_GridMismatch(t *testing.T) {
	api := gridtest.NewFakeAPI(maineLayout, nil)
	locate := api.Locate
	api.Locate = func(lat, lon float64) (domain.PointInfo, bool) {
		info, ok := locate(lat, lon)
		if lat == maineBox.NE.Lat && lon == maineBox.NE.Lon {
			other := "GYX"
			info.GridID = &other
		}
		return info, ok
	}
	r, _ := newResolver(api, immediatePolicy())

	_, err := r.Resolve(context.Background(), maineBox)
	require.ErrorIs(t, err, domain.ErrGridMismatch)
	assert.Contains(t, err.Error(), "CAR, GYX")
}

func TestResolver_NoCornersResolved(t *testing.T) {
	api := gridtest.NewFakeAPI(maineLayout, nil)
	api.Locate = func(float64, float64) (domain.PointInfo, bool) { return domain.PointInfo{}, true }
	r, _ := newResolver(api, immediatePolicy())

	_, err := r.Resolve(context.Background(), maineBox)
	require.ErrorIs(t, err, domain.ErrNoCornersResolved)
}

func TestResolver_InvalidBox(t *testing.T) {
	api := gridtest.NewFakeAPI(maineLayout, nil)
	r, _ := newResolver(api, immediatePolicy())

	box := maineBox
	box.SW.Lat = 95
	_, err := r.Resolve(context.Background(), box)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "southwest")
	assert.Empty(t, api.Lookups())
}

func TestShiftSouthEast(t *testing.T) {
	c := grid.ShiftSouthEast(0.01)(domain.Corner{Lat: 44.0, Lon: -68.0})
	assert.InDelta(t, 43.99, c.Lat, 1e-9)
	assert.InDelta(t, -67.99, c.Lon, 1e-9)
}
