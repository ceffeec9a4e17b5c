// Package gridtest provides an in-memory domain.GridAPI for tests.
package gridtest

import (
	"context"
	"errors"
	"math"
	"net/http"
	"slices"
	"sync"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/paulmach/orb"
)

// Layout is a regular grid laid over a lat/lon rectangle. Cell (MinX, MinY)
// has its south-west corner at (Lat0, Lon0); x grows east and y grows north.
type Layout struct {
	GridID     string
	Lat0, Lon0 float64
	LatStep    float64
	LonStep    float64
	MinX, MaxX int
	MinY, MaxY int
}

// Range returns the layout's full cell range.
func (l Layout) Range() domain.GridRange {
	return domain.GridRange{GridID: l.GridID, MinX: l.MinX, MaxX: l.MaxX, MinY: l.MinY, MaxY: l.MaxY}
}

// Locate maps a coordinate to its cell. Points on the far edges belong to the
// last row or column; points outside the layout are not found.
func (l Layout) Locate(lat, lon float64) (domain.GridCell, bool) {
	fx := (lon - l.Lon0) / l.LonStep
	fy := (lat - l.Lat0) / l.LatStep
	nx := float64(l.MaxX - l.MinX + 1)
	ny := float64(l.MaxY - l.MinY + 1)
	const eps = 1e-9
	if fx < -eps || fy < -eps || fx > nx+eps || fy > ny+eps {
		return domain.GridCell{}, false
	}
	x := l.MinX + clamp(int(math.Floor(fx)), 0, l.MaxX-l.MinX)
	y := l.MinY + clamp(int(math.Floor(fy)), 0, l.MaxY-l.MinY)
	return domain.GridCell{GridID: l.GridID, X: x, Y: y}, true
}

// Ring returns the closed boundary ring of cell.
func (l Layout) Ring(cell domain.GridCell) orb.Ring {
	west := l.Lon0 + float64(cell.X-l.MinX)*l.LonStep
	south := l.Lat0 + float64(cell.Y-l.MinY)*l.LatStep
	east, north := west+l.LonStep, south+l.LatStep
	return orb.Ring{
		{west, south}, {east, south}, {east, north}, {west, north}, {west, south},
	}
}

// FakeAPI is a scriptable, concurrency-safe domain.GridAPI.
type FakeAPI struct {
	mu sync.Mutex

	// Locate answers point lookups. A false result is reported as a 404.
	Locate func(lat, lon float64) (domain.PointInfo, bool)

	// Gridpoints holds the documents served by FetchGridpoint. Cells not
	// present are reported as a 404.
	Gridpoints map[domain.GridCell]domain.Gridpoint

	// FailCells makes FetchGridpoint return a 500 for these cells.
	FailCells map[domain.GridCell]bool

	// FailCellTimes makes the next n fetches of a cell return a 500.
	FailCellTimes map[domain.GridCell]int

	// FailLookups makes the first n point lookups return a 500.
	FailLookups int

	lookups []domain.Corner
	fetches []domain.GridCell
}

// NewFakeAPI returns a FakeAPI whose lookups and gridpoints follow layout.
// values supplies each cell's layer values; nil means no layers.
func NewFakeAPI(layout Layout, values func(domain.GridCell) map[string]float64) *FakeAPI {
	api := &FakeAPI{
		Gridpoints:    make(map[domain.GridCell]domain.Gridpoint),
		FailCells:     make(map[domain.GridCell]bool),
		FailCellTimes: make(map[domain.GridCell]int),
	}
	api.Locate = func(lat, lon float64) (domain.PointInfo, bool) {
		cell, ok := layout.Locate(lat, lon)
		if !ok {
			return domain.PointInfo{}, false
		}
		return PointInfo(cell), true
	}
	for _, cell := range layout.Range().Cells() {
		var v map[string]float64
		if values != nil {
			v = values(cell)
		}
		api.Gridpoints[cell] = Gridpoint(cell, layout.Ring(cell), v)
	}
	return api
}

func (f *FakeAPI) LookupPoint(ctx context.Context, lat, lon float64) (domain.PointInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.PointInfo{}, err
	}
	f.lookups = append(f.lookups, domain.Corner{Lat: lat, Lon: lon})
	if f.FailLookups > 0 {
		f.FailLookups--
		return domain.PointInfo{}, statusError("points", http.StatusInternalServerError)
	}
	if f.Locate == nil {
		return domain.PointInfo{}, statusError("points", http.StatusNotFound)
	}
	info, ok := f.Locate(lat, lon)
	if !ok {
		return domain.PointInfo{}, statusError("points", http.StatusNotFound)
	}
	return info, nil
}

func (f *FakeAPI) FetchGridpoint(ctx context.Context, cell domain.GridCell) (domain.Gridpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Gridpoint{}, err
	}
	f.fetches = append(f.fetches, cell)
	if f.FailCells[cell] {
		return domain.Gridpoint{}, statusError("gridpoints", http.StatusInternalServerError)
	}
	if f.FailCellTimes[cell] > 0 {
		f.FailCellTimes[cell]--
		return domain.Gridpoint{}, statusError("gridpoints", http.StatusInternalServerError)
	}
	gp, ok := f.Gridpoints[cell]
	if !ok {
		return domain.Gridpoint{}, statusError("gridpoints", http.StatusNotFound)
	}
	return gp, nil
}

// Lookups returns the coordinates of every point lookup so far.
func (f *FakeAPI) Lookups() []domain.Corner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.lookups)
}

// Fetches returns every cell fetched so far, in call order.
func (f *FakeAPI) Fetches() []domain.GridCell {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.fetches)
}

// PointInfo returns a complete lookup answer for cell.
func PointInfo(cell domain.GridCell) domain.PointInfo {
	id, x, y := cell.GridID, cell.X, cell.Y
	return domain.PointInfo{GridID: &id, GridX: &x, GridY: &y}
}

// Gridpoint builds a document with one value per layer.
func Gridpoint(cell domain.GridCell, ring orb.Ring, values map[string]float64) domain.Gridpoint {
	layers := make(map[string][]domain.LayerValue, len(values))
	for name, v := range values {
		layers[name] = []domain.LayerValue{{ValidTime: "2024-06-01T12:00:00+00:00/PT1H", Value: &v}}
	}
	return domain.Gridpoint{Cell: cell, Ring: ring, Layers: layers}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func statusError(op string, status int) error {
	return &domain.FetchError{
		Kind:   domain.FetchStatus,
		Op:     op,
		Status: status,
		Err:    errors.New(http.StatusText(status)),
	}
}
