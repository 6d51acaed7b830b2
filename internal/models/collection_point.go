package models

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// CollectionSource tells how a collection point came to exist.
type CollectionSource string

const (
	SourceExplicit CollectionSource = "explicit" // operator or device "mark collection" command
	SourceInferred CollectionSource = "inferred" // stop detected in the location trace
)

// GeoPoint is a GeoJSON point: {"type": "Point", "coordinates": [lon, lat]}.
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates orb.Point `json:"coordinates"`
}

func NewGeoPoint(p orb.Point) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: p}
}

// UnmarshalJSON rejects anything that is not a two-element coordinate array.
func (g *GeoPoint) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Type != "" && raw.Type != "Point" {
		return NewValidationError("location.type", "must be Point")
	}
	if len(raw.Coordinates) != 2 {
		return NewValidationError("location.coordinates", "must have exactly 2 elements")
	}
	g.Type = "Point"
	g.Coordinates = orb.Point{raw.Coordinates[0], raw.Coordinates[1]}
	return nil
}

// CollectionPoint marks where and when bins were gathered.
// Only Notes and Photos may change after creation.
type CollectionPoint struct {
	ID        string           `json:"id"`
	DriverID  string           `json:"driverId"`
	Location  GeoPoint         `json:"location"`
	Timestamp time.Time        `json:"timestamp"`
	BinIDs    []string         `json:"binIds"`
	BinCount  int              `json:"binCount"`
	Notes     *string          `json:"notes,omitempty"`
	Photos    []string         `json:"photos"`
	Source    CollectionSource `json:"source"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (cp *CollectionPoint) Validate() error {
	cp.DriverID = strings.TrimSpace(cp.DriverID)
	if cp.DriverID == "" {
		return NewValidationError("driverId", "is required")
	}
	if err := ValidateCoordinates(cp.Location.Coordinates); err != nil {
		return err
	}
	if cp.BinCount < 0 {
		return NewValidationError("binCount", "cannot be negative")
	}
	return validatePhotos(cp.Photos)
}

// CollectionAnnotation carries the operator-editable fields of a point.
type CollectionAnnotation struct {
	Notes  *string  `json:"notes"`
	Photos []string `json:"photos"`
}

// Validate requires every photo to be an absolute http(s) URL.
func (a CollectionAnnotation) Validate() error {
	return validatePhotos(a.Photos)
}

func validatePhotos(photos []string) error {
	for _, p := range photos {
		u, err := url.ParseRequestURI(p)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return NewValidationError("photos", "must be absolute http(s) URLs")
		}
	}
	return nil
}
