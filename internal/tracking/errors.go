package tracking

import "errors"

var (
	// ErrNotFound is returned for single-resource lookups of unknown devices or points.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by stores when a collection point already covers the same stop.
	ErrConflict = errors.New("collection point already recorded for this stop")
)
