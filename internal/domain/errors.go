package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientFetch marks a single-cell upstream failure. Callers skip the
	// cell and continue.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrCornerResolution is returned only when a finite corner retry budget
	// is exhausted. With the default unlimited budget it never surfaces.
	ErrCornerResolution = errors.New("corner resolution failed")

	// ErrOriginResolution aborts a nearest-value search.
	ErrOriginResolution = errors.New("origin resolution failed")

	// ErrSchemaExtraction marks a decoded payload lacking expected fields.
	ErrSchemaExtraction = errors.New("schema extraction failed")

	// ErrGridMismatch is returned when corners resolve to different grids.
	ErrGridMismatch = errors.New("corners resolve to different grid ids")

	// ErrNoCornersResolved is returned when no corner yielded a usable cell.
	ErrNoCornersResolved = errors.New("no corner produced a grid cell")
)

// FetchErrorKind classifies an upstream failure.
type FetchErrorKind string

const (
	FetchNetwork     FetchErrorKind = "network"
	FetchStatus      FetchErrorKind = "status"
	FetchDecode      FetchErrorKind = "decode"
	FetchCircuitOpen FetchErrorKind = "circuit_open"
)

// FetchError is the typed failure returned by a GridAPI implementation.
type FetchError struct {
	Kind   FetchErrorKind
	Op     string // "points" or "gridpoints"
	Status int    // HTTP status for FetchStatus, 0 otherwise
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchStatus {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the cause and ErrTransientFetch so callers can test
// either with errors.Is.
func (e *FetchError) Unwrap() []error {
	return []error{ErrTransientFetch, e.Err}
}
