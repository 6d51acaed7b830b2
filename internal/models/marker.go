package models

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// MarkerKind is the closed set of things drawn on the tracking map.
type MarkerKind int

const (
	MarkerBin MarkerKind = iota
	MarkerDevice
	MarkerCheckpoint
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerBin:
		return "bin"
	case MarkerDevice:
		return "device"
	case MarkerCheckpoint:
		return "checkpoint"
	}
	return fmt.Sprintf("MarkerKind(%d)", int(k))
}

func (k MarkerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Marker is one map pin. Online is only meaningful for kinds with a liveness window.
type Marker struct {
	Kind      MarkerKind `json:"kind"`
	ID        string     `json:"id"`
	Position  orb.Point  `json:"position"`
	Timestamp time.Time  `json:"timestamp"`
	Online    *bool      `json:"online,omitempty"`
	Label     string     `json:"label,omitempty"`
}
