package websocket

import (
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

const (
	// MinPositionDelta is the distance in meters that always warrants a broadcast.
	MinPositionDelta = 1.0

	// MaxBroadcastInterval forces a broadcast for slow or stopped devices.
	MaxBroadcastInterval = 2 * time.Second
)

type lastBroadcast struct {
	position orb.Point
	at       time.Time
}

// Throttle filters dashboard position updates per device: a device is
// re-broadcast once it moved MinDelta meters or MaxInterval has passed.
type Throttle struct {
	MinDelta    float64
	MaxInterval time.Duration

	mu   sync.Mutex
	last map[string]lastBroadcast
}

func NewThrottle() *Throttle {
	return &Throttle{
		MinDelta:    MinPositionDelta,
		MaxInterval: MaxBroadcastInterval,
		last:        make(map[string]lastBroadcast),
	}
}

// Allow reports whether the position should be broadcast and, if so,
// remembers it as the device's last broadcast.
func (t *Throttle) Allow(deviceID string, p orb.Point, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.last[deviceID]
	if ok && at.Before(last.at) {
		// out-of-order report; the dashboard already shows something newer
		return false
	}
	if ok && geo.DistanceHaversine(last.position, p) < t.MinDelta && at.Sub(last.at) <= t.MaxInterval {
		return false
	}
	t.last[deviceID] = lastBroadcast{position: p, at: at}
	return true
}

// Forget drops the remembered position so the next update always goes out.
func (t *Throttle) Forget(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, deviceID)
}
