// Package domain models National Weather Service (NWS) forecast grid data for
// marine locations.
//
// # Data Source
//
// The NWS API (https://api.weather.gov) addresses forecasts by grid cell. A
// point lookup (/points/{lat},{lon}) maps a coordinate to the Weather Forecast
// Office that owns it and an integer offset inside that office's grid:
//
//	{"properties": {"gridId": "GYX", "gridX": 81, "gridY": 43, ...}}
//
// A gridpoint request (/gridpoints/{gridId}/{x},{y}) returns a GeoJSON feature
// whose geometry is the cell boundary polygon and whose properties hold one
// time series per forecast layer:
//
//	"waveHeight": {"uom": "wmoUnit:m", "values": [{"validTime": "...", "value": 0.9}]}
//
// # Conventions
//
// Field availability:
//
//	A layer is "available" for a cell when its first value-at-time is present
//	and not exactly zero. Zero is the upstream no-data sentinel for most marine
//	layers, so a genuine zero reading (flat sea) is indistinguishable from a
//	missing one and is treated as missing.
//
// Cell center:
//
//	The arithmetic mean of the vertices of the boundary polygon's first ring,
//	closing vertex included, rounded to 4 decimal places.
//
// Keys:
//
//	CellRecords are keyed by the geohash of their rounded center at precision 7
//	(~150 m). A sweep's output artifact is named by the precision-4 geohash of
//	the midpoint of the envelope of all processed cell centers. Geohashes are
//	lookup keys only; nothing here relies on their prefix-proximity property.
//
// Grid distance:
//
//	Distances between cells are Euclidean in grid-index space, not geographic.
//	A marine grid cell is roughly 2.5 km on a side, which is the factor used for
//	approximate kilometre figures. Bearings are atan2(dy, dx) in degrees with 0°
//	along positive grid-x, not compass bearings.
package domain
