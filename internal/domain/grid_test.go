package domain

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestGeohash_KnownValue(t *testing.T) {
	assert.Equal(t, "u4pruyd", Geohash(57.64911, 10.40744, 7))
	assert.Equal(t, "u4pr", Geohash(57.64911, 10.40744, 4))
}

func TestGeohash_Deterministic(t *testing.T) {
	a := Geohash(44.5512, -67.6543, CellGeohashPrecision)
	b := Geohash(44.5512, -67.6543, CellGeohashPrecision)
	assert.Equal(t, a, b)
	assert.Len(t, a, 7)
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 44.5513, Round4(44.55126))
	assert.Equal(t, -67.6543, Round4(-67.65434))
	assert.Equal(t, 1.0, Round4(1))
}

func TestRingCenter(t *testing.T) {
	t.Run("closed square", func(t *testing.T) {
		// The closing vertex repeats the first one and is averaged in.
		ring := orb.Ring{{-68, 44}, {-67, 44}, {-67, 45}, {-68, 45}, {-68, 44}}
		lat, lon, ok := RingCenter(ring)
		require.True(t, ok)
		assert.Equal(t, 44.4, lat)
		assert.Equal(t, -67.6, lon)
	})

	t.Run("rounded to four places", func(t *testing.T) {
		ring := orb.Ring{{-67.00001, 44.00001}, {-67.00002, 44.00002}, {-67.00004, 44.00004}}
		lat, lon, ok := RingCenter(ring)
		require.True(t, ok)
		assert.Equal(t, 44.0, lat)
		assert.Equal(t, -67.0, lon)
	})

	t.Run("empty ring", func(t *testing.T) {
		_, _, ok := RingCenter(nil)
		assert.False(t, ok)
	})
}

func TestGridRange_Cells(t *testing.T) {
	r := GridRange{GridID: "GYX", MinX: 10, MaxX: 11, MinY: 5, MaxY: 7}

	cells := r.Cells()
	require.Len(t, cells, 6)
	assert.Equal(t, 6, r.Len())
	assert.Equal(t, GridCell{GridID: "GYX", X: 10, Y: 5}, cells[0])
	assert.Equal(t, GridCell{GridID: "GYX", X: 10, Y: 7}, cells[2])
	assert.Equal(t, GridCell{GridID: "GYX", X: 11, Y: 5}, cells[3])

	for _, c := range cells {
		assert.True(t, r.Contains(c))
	}
	assert.False(t, r.Contains(GridCell{GridID: "CAR", X: 10, Y: 5}))
	assert.False(t, r.Contains(GridCell{GridID: "GYX", X: 12, Y: 5}))
}

func TestGridRange_Empty(t *testing.T) {
	r := GridRange{GridID: "GYX", MinX: 3, MaxX: 2, MinY: 0, MaxY: 0}
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Cells())
}

func TestPointInfo_Cell(t *testing.T) {
	cell, err := PointInfo{GridID: ptr("GYX"), GridX: ptr(81), GridY: ptr(43)}.Cell()
	require.NoError(t, err)
	assert.Equal(t, GridCell{GridID: "GYX", X: 81, Y: 43}, cell)

	missing := []PointInfo{
		{GridX: ptr(81), GridY: ptr(43)},
		{GridID: ptr(""), GridX: ptr(81), GridY: ptr(43)},
		{GridID: ptr("GYX"), GridY: ptr(43)},
		{GridID: ptr("GYX"), GridX: ptr(81)},
	}
	for _, p := range missing {
		_, err := p.Cell()
		assert.ErrorIs(t, err, ErrSchemaExtraction)
	}
}

func TestGridpoint_FirstValue(t *testing.T) {
	gp := Gridpoint{Layers: map[string][]LayerValue{
		"waveHeight":  {{ValidTime: "t0", Value: ptr(1.2)}, {ValidTime: "t1", Value: ptr(1.5)}},
		"windSpeed":   {},
		"temperature": {{ValidTime: "t0"}},
	}}

	require.NotNil(t, gp.FirstValue("waveHeight"))
	assert.Equal(t, 1.2, *gp.FirstValue("waveHeight"))
	assert.Nil(t, gp.FirstValue("windSpeed"))
	assert.Nil(t, gp.FirstValue("temperature"))
	assert.Nil(t, gp.FirstValue("skyCover"))
}

func TestAvailability_ZeroIsAbsent(t *testing.T) {
	values := map[string]*float64{
		"waveHeight":  ptr(0.0),
		"wavePeriod":  ptr(7.0),
		"temperature": ptr(-1.5),
		"windSpeed":   nil,
	}
	fields := []string{"waveHeight", "wavePeriod", "temperature", "windSpeed", "skyCover"}

	got := Availability(values, fields)

	assert.Equal(t, map[string]bool{
		"waveHeight":  false,
		"wavePeriod":  true,
		"temperature": true,
		"windSpeed":   false,
		"skyCover":    false,
	}, got)
}

func TestNewCellRecord(t *testing.T) {
	layers := map[string]bool{"waveHeight": true}
	rec := NewCellRecord(GridCell{GridID: "GYX", X: 1, Y: 2}, 44.123456, -67.987654, layers)

	assert.Equal(t, 44.1235, rec.Latitude)
	assert.Equal(t, -67.9877, rec.Longitude)
	assert.Equal(t, Geohash(44.1235, -67.9877, 7), rec.GeohashCenter)
	assert.Equal(t, GridCell{GridID: "GYX", X: 1, Y: 2}, rec.Cell())

	layers["waveHeight"] = false
	assert.True(t, rec.Layers["waveHeight"], "record must not alias caller's map")
}

func TestCellRecord_Equality(t *testing.T) {
	base := NewCellRecord(GridCell{GridID: "GYX", X: 1, Y: 2}, 44.1, -67.9, map[string]bool{"waveHeight": true})

	same := base
	same.Layers = map[string]bool{"waveHeight": true}
	assert.True(t, base.Equal(same))

	rekeyed := base
	rekeyed.GeohashCenter = "drxxxxx"
	assert.False(t, base.Equal(rekeyed))
	assert.True(t, base.EqualExceptGeohash(rekeyed))

	changed := base
	changed.Layers = map[string]bool{"waveHeight": false}
	assert.False(t, base.EqualExceptGeohash(changed))
}

func TestDataset_EnvelopeAndKeys(t *testing.T) {
	ds := Dataset{
		"b": {Latitude: 44.2, Longitude: -68.0},
		"a": {Latitude: 44.8, Longitude: -67.0},
	}
	bound, ok := ds.Envelope()
	require.True(t, ok)
	assert.Equal(t, orb.Point{-68.0, 44.2}, bound.Min)
	assert.Equal(t, orb.Point{-67.0, 44.8}, bound.Max)
	assert.Equal(t, []string{"a", "b"}, ds.Keys())

	_, ok = Dataset{}.Envelope()
	assert.False(t, ok)
}

func TestValidateBox(t *testing.T) {
	box := BoundingBox{
		NW: Corner{Lat: 44.6519, Lon: -68.3069},
		NE: Corner{Lat: 44.8804, Lon: -67.0136},
		SW: Corner{Lat: 44.2204, Lon: -68.1855},
		SE: Corner{Lat: 44.4123, Lon: -66.9769},
	}
	require.NoError(t, ValidateBox(box))

	box.SE.Lat = 95
	err := ValidateBox(box)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "southeast")
}

func TestFetchError_Is(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&FetchError{Kind: FetchNetwork, Op: "gridpoints", Err: cause})

	assert.ErrorIs(t, err, ErrTransientFetch)
	assert.ErrorIs(t, err, cause)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, FetchNetwork, fe.Kind)

	status := &FetchError{Kind: FetchStatus, Op: "points", Status: 404, Err: errors.New("not found")}
	assert.Contains(t, status.Error(), "404")
}

func TestParseCorner(t *testing.T) {
	c, err := ParseCorner("44.8804, -67.0136")
	require.NoError(t, err)
	assert.Equal(t, Corner{Lat: 44.8804, Lon: -67.0136}, c)

	for _, bad := range []string{"", "44.8", "north,-67", "44,west", "91,0", "0,181"} {
		_, err := ParseCorner(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"waveHeight", "windSpeed"}, SplitList(" waveHeight, ,windSpeed "))
	assert.Empty(t, SplitList(""))
}
