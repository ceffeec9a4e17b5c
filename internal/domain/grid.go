package domain

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/paulmach/orb"
)

// Corner is a WGS-84 latitude/longitude pair.
type Corner struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lon float64 `json:"lon" validate:"longitude"`
}

func (c Corner) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lon)
}

// BoundingBox is the rectangle described by four corner coordinates.
type BoundingBox struct {
	NW Corner `json:"nw"`
	NE Corner `json:"ne"`
	SW Corner `json:"sw"`
	SE Corner `json:"se"`
}

// CornerNames labels the corners in the order returned by Corners.
var CornerNames = [4]string{"northwest", "northeast", "southwest", "southeast"}

// Corners returns NW, NE, SW, SE.
func (b BoundingBox) Corners() [4]Corner {
	return [4]Corner{b.NW, b.NE, b.SW, b.SE}
}

// Envelope returns the geographic bounds spanned by the four corners.
func (b BoundingBox) Envelope() orb.Bound {
	cs := b.Corners()
	bound := orb.Bound{Min: cs[0].Point(), Max: cs[0].Point()}
	for _, c := range cs[1:] {
		bound = bound.Extend(c.Point())
	}
	return bound
}

// Point converts the corner to an orb point (lon, lat order).
func (c Corner) Point() orb.Point {
	return orb.Point{c.Lon, c.Lat}
}

// GridCell identifies one forecast cell in an office's native grid.
type GridCell struct {
	GridID string `json:"gridId"`
	X      int    `json:"gridX"`
	Y      int    `json:"gridY"`
}

func (c GridCell) String() string {
	return fmt.Sprintf("%s/%d,%d", c.GridID, c.X, c.Y)
}

// GridRange is an inclusive rectangle of cells sharing one grid identifier.
type GridRange struct {
	GridID string `json:"gridId"`
	MinX   int    `json:"minX"`
	MaxX   int    `json:"maxX"`
	MinY   int    `json:"minY"`
	MaxY   int    `json:"maxY"`
}

// Len is the number of cells in the range.
func (r GridRange) Len() int {
	if r.MaxX < r.MinX || r.MaxY < r.MinY {
		return 0
	}
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// Contains reports whether the cell lies inside the range.
func (r GridRange) Contains(c GridCell) bool {
	return c.GridID == r.GridID &&
		c.X >= r.MinX && c.X <= r.MaxX &&
		c.Y >= r.MinY && c.Y <= r.MaxY
}

// Cells lists every cell in the range, x-major then y.
func (r GridRange) Cells() []GridCell {
	cells := make([]GridCell, 0, r.Len())
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			cells = append(cells, GridCell{GridID: r.GridID, X: x, Y: y})
		}
	}
	return cells
}

// PointInfo is the decoded subset of a point lookup. Fields are pointers
// because the upstream omits or nulls them for points it cannot place.
type PointInfo struct {
	GridID *string
	GridX  *int
	GridY  *int
}

// Cell extracts the grid cell, failing with ErrSchemaExtraction when any of
// the three identifying fields is missing.
func (p PointInfo) Cell() (GridCell, error) {
	if p.GridID == nil || *p.GridID == "" || p.GridX == nil || p.GridY == nil {
		return GridCell{}, fmt.Errorf("point lookup missing gridId/gridX/gridY: %w", ErrSchemaExtraction)
	}
	return GridCell{GridID: *p.GridID, X: *p.GridX, Y: *p.GridY}, nil
}

// LayerValue is one value-at-time of a forecast layer.
type LayerValue struct {
	ValidTime string
	Value     *float64
}

// Gridpoint is the decoded gridpoint document for one cell.
type Gridpoint struct {
	Cell GridCell
	// Ring is the first ring of the cell boundary polygon; nil when the
	// response carried no polygon geometry.
	Ring   orb.Ring
	Layers map[string][]LayerValue
}

// FirstValue returns the first value of the named layer, or nil when the
// layer is missing, its series is empty, or the first value is null.
func (g Gridpoint) FirstValue(field string) *float64 {
	values := g.Layers[field]
	if len(values) == 0 {
		return nil
	}
	return values[0].Value
}

// GridAPI is the upstream fetch capability.
type GridAPI interface {
	// LookupPoint resolves a coordinate to its grid cell.
	LookupPoint(ctx context.Context, lat, lon float64) (PointInfo, error)

	// FetchGridpoint retrieves the forecast document for a cell.
	FetchGridpoint(ctx context.Context, cell GridCell) (Gridpoint, error)
}

// CellRecord is the persisted, immutable summary of one processed cell.
type CellRecord struct {
	GridID        string          `json:"gridId"`
	GeohashCenter string          `json:"geohashCenter"`
	GridX         int             `json:"gridX"`
	GridY         int             `json:"gridY"`
	Latitude      float64         `json:"latitude"`
	Longitude     float64         `json:"longitude"`
	Layers        map[string]bool `json:"layers"`
}

// NewCellRecord builds a record for cell centered at (lat, lon). The center is
// rounded to 4 decimals before the geohash is taken so identical rounded
// centers always share a key.
func NewCellRecord(cell GridCell, lat, lon float64, layers map[string]bool) CellRecord {
	lat, lon = Round4(lat), Round4(lon)
	return CellRecord{
		GridID:        cell.GridID,
		GeohashCenter: Geohash(lat, lon, CellGeohashPrecision),
		GridX:         cell.X,
		GridY:         cell.Y,
		Latitude:      lat,
		Longitude:     lon,
		Layers:        maps.Clone(layers),
	}
}

// Cell returns the record's grid cell.
func (r CellRecord) Cell() GridCell {
	return GridCell{GridID: r.GridID, X: r.GridX, Y: r.GridY}
}

// Equal reports whether two records are identical in every field.
func (r CellRecord) Equal(o CellRecord) bool {
	return r.GeohashCenter == o.GeohashCenter && r.EqualExceptGeohash(o)
}

// EqualExceptGeohash compares every field but GeohashCenter, which mirrors
// the dataset key and is redundant once a record is keyed.
func (r CellRecord) EqualExceptGeohash(o CellRecord) bool {
	return r.GridID == o.GridID &&
		r.GridX == o.GridX &&
		r.GridY == o.GridY &&
		r.Latitude == o.Latitude &&
		r.Longitude == o.Longitude &&
		maps.Equal(r.Layers, o.Layers)
}

// Dataset maps geohashCenter to CellRecord.
type Dataset map[string]CellRecord

// Keys returns the dataset keys in sorted order.
func (d Dataset) Keys() []string {
	return slices.Sorted(maps.Keys(d))
}

// Envelope returns the bounds of all record centers. ok is false for an empty
// dataset.
func (d Dataset) Envelope() (bound orb.Bound, ok bool) {
	for _, rec := range d {
		p := orb.Point{rec.Longitude, rec.Latitude}
		if !ok {
			bound = orb.Bound{Min: p, Max: p}
			ok = true
			continue
		}
		bound = bound.Extend(p)
	}
	return bound, ok
}

// MergeConflict records a key seen twice with materially different payloads.
// The first-seen record is kept; the conflict is surfaced for review.
type MergeConflict struct {
	Key        string     `json:"key"`
	KeptSource string     `json:"keptSource"`
	Source     string     `json:"source"`
	Kept       CellRecord `json:"kept"`
	Rejected   CellRecord `json:"rejected"`
}

// MergeReport summarizes a merge run.
type MergeReport struct {
	Total                 int             `json:"total"`
	Unique                int             `json:"unique"`
	ExactDuplicates       int             `json:"exactDuplicates"`
	GeohashOnlyDuplicates int             `json:"geohashOnlyDuplicates"`
	Mismatches            int             `json:"mismatches"`
	Conflicts             []MergeConflict `json:"conflicts,omitempty"`
}

// NearestValue is the closest observation of one field.
type NearestValue struct {
	Cell       GridCell `json:"cell"`
	Value      float64  `json:"value"`
	Distance   float64  `json:"distance"`
	Bearing    float64  `json:"bearing"`
	DistanceKm float64  `json:"distanceKm"`
}

// VisitedCell is one cell evaluated during a nearest-value search.
type VisitedCell struct {
	Cell     GridCell `json:"cell"`
	Distance float64  `json:"distance"`
	Fetched  bool     `json:"fetched"`
}

// NearestValueResult holds, per requested field, the nearest observation or
// nil when no cell within the search radius reported the field.
type NearestValueResult struct {
	Origin     Corner                   `json:"origin"`
	OriginCell GridCell                 `json:"originCell"`
	MaxRadius  int                      `json:"maxRadius"`
	Fields     map[string]*NearestValue `json:"fields"`
	Visited    []VisitedCell            `json:"visited,omitempty"`
	Failed     int                      `json:"failed"`

	// Partial is set when the search was cancelled before its last ring.
	Partial bool `json:"partial,omitempty"`
}
