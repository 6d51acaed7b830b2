package tracking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medbin-backend/internal/models"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type recorder struct {
	mu        sync.Mutex
	locations []models.DeviceState
	points    []models.CollectionPoint
	modes     map[string]bool
}

func (r *recorder) LocationIngested(_ context.Context, st models.DeviceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations = append(r.locations, st)
}

func (r *recorder) CollectionPointCreated(_ context.Context, cp models.CollectionPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, cp)
}

func (r *recorder) CollectingModeChanged(_ context.Context, id string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.modes == nil {
		r.modes = map[string]bool{}
	}
	r.modes[id] = on
}

// newTestService returns a service on a memory store whose clock reads *now.
func newTestService(opts Options, now *time.Time) (*Service, *recorder) {
	rec := &recorder{}
	var seq int64
	svc := NewService(NewMemoryStore(), opts,
		WithNotifier(rec),
		WithClock(func() time.Time { return *now }),
		WithIDGenerator(func() string {
			return fmt.Sprintf("cp-%d", atomic.AddInt64(&seq, 1))
		}),
	)
	return svc, rec
}

func report(device string, at time.Duration, speed float64, collecting bool) models.DeviceLocationReport {
	return models.DeviceLocationReport{
		DeviceID:     device,
		Coordinates:  orb.Point{76.9457, 43.2364},
		Timestamp:    t0.Add(at),
		Battery:      80,
		Speed:        speed,
		IsCollecting: collecting,
	}
}

func TestIngest_CoordinateValidation(t *testing.T) {
	now := t0
	svc, _ := newTestService(DefaultOptions(), &now)
	ctx := context.Background()

	valid := []orb.Point{{0, 0}, {-180, -90}, {180, 90}, {76.9457, 43.2364}, {-73.98, 40.75}}
	for _, p := range valid {
		r := report("DEV-1", 0, 0, false)
		r.Coordinates = p
		_, err := svc.Ingest(ctx, r)
		assert.NoError(t, err, "coordinates %v", p)
	}

	invalid := []orb.Point{{180.0001, 0}, {-180.5, 0}, {0, 90.1}, {0, -91}, {200, 100}}
	for _, p := range invalid {
		r := report("DEV-1", 0, 0, false)
		r.Coordinates = p
		_, err := svc.Ingest(ctx, r)
		assert.ErrorIs(t, err, models.ErrValidation, "coordinates %v", p)
	}
}

func TestIngest_RejectsBadFields(t *testing.T) {
	now := t0
	svc, _ := newTestService(DefaultOptions(), &now)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*models.DeviceLocationReport)
		field  string
	}{
		{"missing device", func(r *models.DeviceLocationReport) { r.DeviceID = "  " }, "deviceId"},
		{"battery high", func(r *models.DeviceLocationReport) { r.Battery = 101 }, "battery"},
		{"battery negative", func(r *models.DeviceLocationReport) { r.Battery = -1 }, "battery"},
		{"negative speed", func(r *models.DeviceLocationReport) { r.Speed = -3 }, "speed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := report("DEV-1", 0, 0, false)
			tt.mutate(&r)
			_, err := svc.Ingest(ctx, r)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestIngest_OutOfOrderReportsAreSortedOnRead(t *testing.T) {
	now := t0.Add(time.Hour)
	svc, rec := newTestService(DefaultOptions(), &now)
	ctx := context.Background()

	for _, at := range []time.Duration{10 * time.Minute, 0, 5 * time.Minute, 5 * time.Minute} {
		_, err := svc.Ingest(ctx, report("DEV-1", at, 10, false))
		require.NoError(t, err)
	}

	history, err := svc.History(ctx, "DEV-1", t0, now, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}
	// equal timestamps keep insertion order
	assert.Less(t, history[1].ID, history[2].ID)

	// the late report did not roll the snapshot back
	st, err := svc.DeviceStatus(ctx, "DEV-1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(10*time.Minute), st.Timestamp)
	assert.Len(t, rec.locations, 4)
}

func TestIngest_DefaultsTimestampToNow(t *testing.T) {
	now := t0
	svc, _ := newTestService(DefaultOptions(), &now)
	r := report("DEV-1", 0, 0, false)
	r.Timestamp = time.Time{}

	st, err := svc.Ingest(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, now, st.Timestamp)
}

func TestHistory_LimitKeepsMostRecent(t *testing.T) {
	now := t0.Add(time.Hour)
	svc, _ := newTestService(DefaultOptions(), &now)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := svc.Ingest(ctx, report("DEV-1", time.Duration(i)*time.Minute, 5, false))
		require.NoError(t, err)
	}

	history, err := svc.History(ctx, "DEV-1", t0, now, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, t0.Add(3*time.Minute), history[0].Timestamp)
	assert.Equal(t, t0.Add(4*time.Minute), history[1].Timestamp)

	empty, err := svc.History(ctx, "UNKNOWN", t0, now, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)
}

func TestDeviceStatus_UnknownDevice(t *testing.T) {
	now := t0
	svc, _ := newTestService(DefaultOptions(), &now)
	_, err := svc.DeviceStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetCollectingMode(t *testing.T) {
	now := t0
	svc, rec := newTestService(DefaultOptions(), &now)
	ctx := context.Background()

	_, err := svc.SetCollectingMode(ctx, "DEV-1", true)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Ingest(ctx, report("DEV-1", 0, 0, false))
	require.NoError(t, err)

	st, err := svc.SetCollectingMode(ctx, "DEV-1", true)
	require.NoError(t, err)
	assert.True(t, st.IsCollecting)
	assert.True(t, rec.modes["DEV-1"])
}

func TestMarkers(t *testing.T) {
	now := t0.Add(time.Minute)
	svc, _ := newTestService(DefaultOptions(), &now)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, report("DEV-1", 0, 0, false))
	require.NoError(t, err)
	_, _, err = svc.RecordCollection(ctx, CollectionInput{DriverID: "DEV-1", Location: orb.Point{76.9, 43.2}})
	require.NoError(t, err)

	markers, err := svc.Markers(ctx, t0.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, markers, 2)
	assert.Equal(t, models.MarkerDevice, markers[0].Kind)
	require.NotNil(t, markers[0].Online)
	assert.True(t, *markers[0].Online)
	assert.Equal(t, models.MarkerCheckpoint, markers[1].Kind)
	assert.Nil(t, markers[1].Online)
}
