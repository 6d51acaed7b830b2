package models

import (
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// DeviceLocationReport is a single position ping sent by a tracker.
// Reports are append-only; nothing mutates them after they are stored.
type DeviceLocationReport struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"deviceId"`
	Coordinates  orb.Point `json:"coordinates"` // [longitude, latitude]
	Timestamp    time.Time `json:"timestamp"`
	Battery      int       `json:"battery"`
	Speed        float64   `json:"speed"` // km/h
	IsCollecting bool      `json:"isCollecting"`
	Altitude     *float64  `json:"altitude,omitempty"`
}

// Validate checks the report invariants. DeviceID is trimmed in place.
func (r *DeviceLocationReport) Validate() error {
	r.DeviceID = strings.TrimSpace(r.DeviceID)
	if r.DeviceID == "" {
		return NewValidationError("deviceId", "is required")
	}
	if err := ValidateCoordinates(r.Coordinates); err != nil {
		return err
	}
	if r.Battery < 0 || r.Battery > 100 {
		return NewValidationError("battery", "must be between 0 and 100")
	}
	if math.IsNaN(r.Speed) || r.Speed < 0 {
		return NewValidationError("speed", "must be zero or positive")
	}
	return nil
}

// IsActive reports whether the device was moving or collecting at this sample.
func (r DeviceLocationReport) IsActive() bool {
	return r.Speed > 0 || r.IsCollecting
}

// DeviceState is the last known state of a device, used for liveness and map markers.
// It is a value: stores replace it wholesale on every ingest.
type DeviceState struct {
	DeviceID     string    `json:"deviceId"`
	Coordinates  orb.Point `json:"coordinates"`
	Timestamp    time.Time `json:"timestamp"`
	Battery      int       `json:"battery"`
	Speed        float64   `json:"speed"`
	IsCollecting bool      `json:"isCollecting"`
	Altitude     *float64  `json:"altitude,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// StateFromReport builds the snapshot a report produces.
func StateFromReport(r DeviceLocationReport, now time.Time) DeviceState {
	return DeviceState{
		DeviceID:     r.DeviceID,
		Coordinates:  r.Coordinates,
		Timestamp:    r.Timestamp,
		Battery:      r.Battery,
		Speed:        r.Speed,
		IsCollecting: r.IsCollecting,
		Altitude:     r.Altitude,
		UpdatedAt:    now,
	}
}

// DeviceStatus is the API view of a device: its snapshot plus liveness.
type DeviceStatus struct {
	DeviceState
	IsOnline        bool  `json:"isOnline"`
	LastSeenSeconds int64 `json:"lastSeenSeconds"`
}

// ValidateCoordinates enforces WGS84 ranges on a [lon, lat] pair.
func ValidateCoordinates(p orb.Point) error {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return NewValidationError("coordinates", "longitude must be between -180 and 180")
	}
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return NewValidationError("coordinates", "latitude must be between -90 and 90")
	}
	return nil
}
