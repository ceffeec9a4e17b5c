package domain

import (
	"math"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
)

const (
	// CellGeohashPrecision keys individual cells (~153 m x 153 m).
	CellGeohashPrecision = 7
	// BoxGeohashPrecision names a sweep's output artifact (~39 km x 20 km).
	BoxGeohashPrecision = 4
)

// Geohash encodes (lat, lon) at the given precision in characters.
func Geohash(lat, lon float64, precision uint) string {
	return geohash.EncodeWithPrecision(lat, lon, precision)
}

// Round4 rounds to 4 decimal places, half away from zero.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// RingCenter returns the arithmetic mean of the ring's vertices. A closed
// ring's repeated first vertex is counted twice, matching how the upstream
// geometry is averaged everywhere else in this system. ok is false for an
// empty ring.
func RingCenter(ring orb.Ring) (lat, lon float64, ok bool) {
	if len(ring) == 0 {
		return 0, 0, false
	}
	var sumLat, sumLon float64
	for _, p := range ring {
		sumLon += p.Lon()
		sumLat += p.Lat()
	}
	n := float64(len(ring))
	return Round4(sumLat / n), Round4(sumLon / n), true
}

// BoundGeohash encodes the midpoint of a bound at the given precision.
func BoundGeohash(b orb.Bound, precision uint) string {
	c := b.Center()
	return Geohash(c.Lat(), c.Lon(), precision)
}
