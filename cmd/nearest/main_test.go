package main

import (
	"bytes"
	"testing"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReport(t *testing.T) {
	cell := domain.GridCell{GridID: "GYX", X: 5, Y: 5}
	res := domain.NearestValueResult{
		Origin:     domain.Corner{Lat: 43.0712, Lon: -70.7095},
		OriginCell: cell,
		MaxRadius:  2,
		Fields: map[string]*domain.NearestValue{
			"waveHeight": {Cell: domain.GridCell{GridID: "GYX", X: 6, Y: 5}, Value: 1.2, Distance: 1, Bearing: 0, DistanceKm: 2.5},
			"windSpeed":  nil,
		},
		Visited: []domain.VisitedCell{
			{Cell: domain.GridCell{GridID: "GYX", X: 6, Y: 6}, Distance: 1.4142, Fetched: true},
			{Cell: domain.GridCell{GridID: "GYX", X: 6, Y: 5}, Distance: 1, Fetched: true},
		},
		Failed: 1,
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, res, []string{"waveHeight", "windSpeed"}, true))

	out := buf.String()
	assert.Contains(t, out, "waveHeight: 1.2 at ")
	assert.Contains(t, out, "(~2.5 km) bearing 0°")
	assert.Contains(t, out, "windSpeed: no data within radius")
	assert.Contains(t, out, "1 cells could not be fetched")
	assert.Contains(t, out, "Grid points checked: 2")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("distance 1.00")), bytes.Index(buf.Bytes(), []byte("distance 1.41")))
}

func TestWriteReport_Partial(t *testing.T) {
	res := domain.NearestValueResult{
		OriginCell: domain.GridCell{GridID: "GYX", X: 5, Y: 5},
		MaxRadius:  8,
		Fields:     map[string]*domain.NearestValue{"waveHeight": nil},
		Partial:    true,
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, res, []string{"waveHeight"}, false))
	assert.Contains(t, buf.String(), "Search interrupted")
}
