package grid_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/couchcryptid/marine-grid-etl/internal/domain/gridtest"
	"github.com/couchcryptid/marine-grid-etl/internal/grid"
	"github.com/couchcryptid/marine-grid-etl/internal/observability"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sweepFields = []string{"waveHeight", "windSpeed", "temperature"}

func waveValues(domain.GridCell) map[string]float64 {
	return map[string]float64{"waveHeight": 1.2, "windSpeed": 0}
}

func newAggregator(api domain.GridAPI, th grid.Throttle, concurrency int) (*grid.Aggregator, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return grid.NewAggregator(grid.NewFetcher(api, th), concurrency, m, discardLogger()), m
}

// cancelAfter lets n waits through, then cancels the sweep.
type cancelAfter struct {
	n      int32
	calls  atomic.Int32
	cancel context.CancelFunc
}

func (c *cancelAfter) Wait(ctx context.Context) error {
	if c.calls.Add(1) > c.n {
		c.cancel()
		return ctx.Err()
	}
	return nil
}

func TestAggregator_MaineBoxEndToEnd(t *testing.T) {
	api := gridtest.NewFakeAPI(maineLayout, waveValues)
	r, _ := newResolver(api, immediatePolicy())
	res, err := r.Resolve(context.Background(), maineBox)
	require.NoError(t, err)

	agg, m := newAggregator(api, grid.NoThrottle{}, 1)
	result, err := agg.Sweep(context.Background(), res.Range, sweepFields)
	require.NoError(t, err)

	assert.Len(t, result.Dataset, 9)
	assert.Equal(t, "CAR", result.GridID)
	assert.Equal(t, 9, result.Attempted)
	assert.Equal(t, 9, result.Succeeded)
	assert.Zero(t, result.Failed)
	assert.False(t, result.Partial)
	assert.Len(t, result.BoxGeohash, domain.BoxGeohashPrecision)

	env := maineBox.Envelope()
	for key, rec := range result.Dataset {
		assert.Len(t, key, domain.CellGeohashPrecision)
		assert.Equal(t, key, rec.GeohashCenter)
		assert.True(t, env.Contains(orb.Point{rec.Longitude, rec.Latitude}), "center of %s outside envelope", key)
		assert.Equal(t, map[string]bool{"waveHeight": true, "windSpeed": false, "temperature": false}, rec.Layers)
	}
	assert.InDelta(t, 9, testutil.ToFloat64(m.Cells.WithLabelValues("success")), 0)
}

func TestAggregator_FetchesInRequestOrder(t *testing.T) {
	api := gridtest.NewFakeAPI(testLayout, nil)
	agg, _ := newAggregator(api, grid.NoThrottle{}, 1)

	_, err := agg.Sweep(context.Background(), testLayout.Range(), sweepFields)
	require.NoError(t, err)
	assert.Equal(t, testLayout.Range().Cells(), api.Fetches())
}

func TestAggregator_PartialFailure(t *testing.T) {
	api := gridtest.NewFakeAPI(testLayout, waveValues)
	api.FailCells[domain.GridCell{GridID: "GYX", X: 70, Y: 51}] = true
	delete(api.Gridpoints, domain.GridCell{GridID: "GYX", X: 72, Y: 52})

	agg, m := newAggregator(api, grid.NoThrottle{}, 1)
	result, err := agg.Sweep(context.Background(), testLayout.Range(), sweepFields)
	require.NoError(t, err)

	assert.Equal(t, 9, result.Attempted)
	assert.Equal(t, 7, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Len(t, result.Dataset, 7)
	assert.False(t, result.Partial)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Cells.WithLabelValues("failed")), 0)

	for _, rec := range result.Dataset {
		assert.NotEqual(t, domain.GridCell{GridID: "GYX", X: 70, Y: 51}, rec.Cell())
	}
}

func TestAggregator_MissingGeometrySkipped(t *testing.T) {
	api := gridtest.NewFakeAPI(testLayout, waveValues)
	cell := domain.GridCell{GridID: "GYX", X: 71, Y: 51}
	gp := api.Gridpoints[cell]
	gp.Ring = nil
	api.Gridpoints[cell] = gp

	agg, _ := newAggregator(api, grid.NoThrottle{}, 1)
	result, err := agg.Sweep(context.Background(), testLayout.Range(), sweepFields)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Len(t, result.Dataset, 8)
}

func TestAggregator_AllFailed(t *testing.T) {
	api := gridtest.NewFakeAPI(testLayout, nil)
	for _, c := range testLayout.Range().Cells() {
		api.FailCells[c] = true
	}

	agg, _ := newAggregator(api, grid.NoThrottle{}, 2)
	result, err := agg.Sweep(context.Background(), testLayout.Range(), sweepFields)
	require.NoError(t, err)

	assert.Empty(t, result.Dataset)
	assert.Equal(t, 9, result.Failed)
	assert.Empty(t, result.BoxGeohash)
}

func TestAggregator_CollisionKeepsFirstInRequestOrder(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		api := gridtest.NewFakeAPI(testLayout, waveValues)
		first := domain.GridCell{GridID: "GYX", X: 70, Y: 50}
		dup := domain.GridCell{GridID: "GYX", X: 72, Y: 52}
		gp := api.Gridpoints[dup]
		gp.Ring = api.Gridpoints[first].Ring
		api.Gridpoints[dup] = gp

		agg, _ := newAggregator(api, grid.NoThrottle{}, concurrency)
		result, err := agg.Sweep(context.Background(), testLayout.Range(), sweepFields)
		require.NoError(t, err)

		assert.Equal(t, 1, result.Collisions, "concurrency %d", concurrency)
		assert.Equal(t, 8, result.Succeeded)
		assert.Len(t, result.Dataset, 8)

		lat, lon, _ := domain.RingCenter(api.Gridpoints[first].Ring)
		rec := result.Dataset[domain.Geohash(lat, lon, domain.CellGeohashPrecision)]
		assert.Equal(t, first, rec.Cell(), "concurrency %d", concurrency)
	}
}

func TestAggregator_ConcurrentMatchesSequential(t *testing.T) {
	api := gridtest.NewFakeAPI(testLayout, waveValues)

	seq, _ := newAggregator(api, grid.NoThrottle{}, 1)
	want, err := seq.Sweep(context.Background(), testLayout.Range(), sweepFields)
	require.NoError(t, err)

	par, _ := newAggregator(api, grid.NewRateThrottle(1000), 4)
	got, err := par.Sweep(context.Background(), testLayout.Range(), sweepFields)
	require.NoError(t, err)

	assert.Equal(t, want.Dataset, got.Dataset)
	assert.Equal(t, want.BoxGeohash, got.BoxGeohash)
}

func TestAggregator_CancelReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := gridtest.NewFakeAPI(testLayout, waveValues)
	agg, _ := newAggregator(api, &cancelAfter{n: 3, cancel: cancel}, 1)

	result, err := agg.Sweep(ctx, testLayout.Range(), sweepFields)
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.Equal(t, 3, result.Attempted)
	assert.Len(t, result.Dataset, 3)
	assert.Zero(t, result.Failed, "cancelled cells are not failures")
	assert.NotEmpty(t, result.BoxGeohash)
}

func TestAggregator_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	api := gridtest.NewFakeAPI(testLayout, waveValues)
	agg, _ := newAggregator(api, grid.NoThrottle{}, 1)

	result, err := agg.Sweep(ctx, testLayout.Range(), sweepFields)
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Zero(t, result.Attempted)
	assert.Empty(t, api.Fetches())
}

func TestAggregator_EmptyRange(t *testing.T) {
	agg, _ := newAggregator(gridtest.NewFakeAPI(testLayout, nil), grid.NoThrottle{}, 1)

	_, err := agg.Sweep(context.Background(), domain.GridRange{GridID: "GYX", MinX: 2, MaxX: 1}, sweepFields)
	require.Error(t, err)
}
