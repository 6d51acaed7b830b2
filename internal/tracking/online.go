package tracking

import (
	"time"

	"medbin-backend/internal/models"
)

// Liveness windows. Bin sensors and tracking devices are configured independently.
const (
	BinOnlineWindowMS    = 60_000
	DeviceOnlineWindowMS = 300_000

	BinOnlineWindow    = BinOnlineWindowMS * time.Millisecond
	DeviceOnlineWindow = DeviceOnlineWindowMS * time.Millisecond
)

// IsOnline reports whether a report at last is recent enough at now.
// The comparison is strict: exactly window old is offline.
func IsOnline(last, now time.Time, window time.Duration) bool {
	return now.Sub(last) < window
}

func IsDeviceOnline(last, now time.Time) bool {
	return IsOnline(last, now, DeviceOnlineWindow)
}

func IsBinOnline(last, now time.Time) bool {
	return IsOnline(last, now, BinOnlineWindow)
}

// OnlineWindow returns the liveness window for a marker kind.
// Checkpoints are historical records and have none.
func OnlineWindow(kind models.MarkerKind) (time.Duration, bool) {
	switch kind {
	case models.MarkerBin:
		return BinOnlineWindow, true
	case models.MarkerDevice:
		return DeviceOnlineWindow, true
	}
	return 0, false
}

// DeviceStatus decorates a snapshot with its liveness at now.
func DeviceStatus(state models.DeviceState, now time.Time) models.DeviceStatus {
	lastSeen := int64(now.Sub(state.Timestamp) / time.Second)
	if lastSeen < 0 {
		lastSeen = 0
	}
	return models.DeviceStatus{
		DeviceState:     state,
		IsOnline:        IsDeviceOnline(state.Timestamp, now),
		LastSeenSeconds: lastSeen,
	}
}
