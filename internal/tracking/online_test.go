package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"medbin-backend/internal/models"
)

func TestIsOnline(t *testing.T) {
	window := 5 * time.Minute
	tests := []struct {
		name     string
		age      time.Duration
		expected bool
	}{
		{"fresh", 0, true},
		{"just inside", window - time.Millisecond, true},
		{"boundary is offline", window, false},
		{"stale", window + time.Second, false},
		{"future report", -time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsOnline(t0, t0.Add(tt.age), window))
		})
	}
}

func TestOnlineWindows(t *testing.T) {
	assert.Equal(t, 60*time.Second, BinOnlineWindow)
	assert.Equal(t, 5*time.Minute, DeviceOnlineWindow)

	assert.True(t, IsBinOnline(t0, t0.Add(59*time.Second)))
	assert.False(t, IsBinOnline(t0, t0.Add(60*time.Second)))
	assert.True(t, IsDeviceOnline(t0, t0.Add(60*time.Second)))
	assert.False(t, IsDeviceOnline(t0, t0.Add(300*time.Second)))

	w, ok := OnlineWindow(models.MarkerBin)
	assert.True(t, ok)
	assert.Equal(t, BinOnlineWindow, w)
	w, ok = OnlineWindow(models.MarkerDevice)
	assert.True(t, ok)
	assert.Equal(t, DeviceOnlineWindow, w)
	_, ok = OnlineWindow(models.MarkerCheckpoint)
	assert.False(t, ok)
}

func TestDeviceStatus_LastSeen(t *testing.T) {
	st := models.DeviceState{DeviceID: "DEV-1", Timestamp: t0}

	status := DeviceStatus(st, t0.Add(90*time.Second))
	assert.True(t, status.IsOnline)
	assert.Equal(t, int64(90), status.LastSeenSeconds)

	status = DeviceStatus(st, t0.Add(-time.Minute))
	assert.Equal(t, int64(0), status.LastSeenSeconds)
}
