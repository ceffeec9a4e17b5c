package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateCorner checks the coordinate is a valid latitude/longitude.
func ValidateCorner(c Corner) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid coordinate %s: %w", c, err)
	}
	return nil
}

// ValidateBox checks every corner of the box.
func ValidateBox(b BoundingBox) error {
	for i, c := range b.Corners() {
		if err := ValidateCorner(c); err != nil {
			return fmt.Errorf("%s corner: %w", CornerNames[i], err)
		}
	}
	return nil
}

// ParseCorner parses "lat,lon" and validates the result.
func ParseCorner(s string) (Corner, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return Corner{}, fmt.Errorf("coordinate %q: want lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Corner{}, fmt.Errorf("coordinate %q: latitude: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Corner{}, fmt.Errorf("coordinate %q: longitude: %w", s, err)
	}
	c := Corner{Lat: lat, Lon: lon}
	if err := ValidateCorner(c); err != nil {
		return Corner{}, err
	}
	return c, nil
}

// SplitList splits a comma-separated flag value, dropping blank entries.
func SplitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
