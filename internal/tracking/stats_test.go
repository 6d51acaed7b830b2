package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medbin-backend/internal/models"
)

func TestComputeStats_ActiveTimeScenario(t *testing.T) {
	now := t0.Add(time.Hour)
	svc, _ := newTestService(DefaultOptions(), &now)
	ctx := context.Background()

	speeds := []float64{0, 20, 20, 0, 0}
	collecting := []bool{false, true, true, true, false}
	for i := range speeds {
		_, err := svc.Ingest(ctx, report("DRV-1", time.Duration(i*5)*time.Minute, speeds[i], collecting[i]))
		require.NoError(t, err)
	}

	stats, err := svc.ComputeStats(ctx, "DRV-1", t0, t0.Add(20*time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 10.0/60.0, stats.ActiveTimeHours, 1e-9)
	require.NotNil(t, stats.LastActive)
	assert.Equal(t, t0.Add(15*time.Minute), *stats.LastActive)
	assert.Equal(t, 0.0, stats.TotalKilometers)
}

func TestComputeStats_IdenticalCoordinatesZeroDistance(t *testing.T) {
	now := t0.Add(time.Hour)
	svc, _ := newTestService(DefaultOptions(), &now)
	ctx := context.Background()

	for _, at := range []time.Duration{0, time.Minute} {
		r := report("DRV-1", at, 0, false)
		r.Coordinates = orb.Point{43.2364, 76.9457}
		_, err := svc.Ingest(ctx, r)
		require.NoError(t, err)
	}

	stats, err := svc.ComputeStats(ctx, "DRV-1", t0, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0.0, stats.TotalKilometers)
}

func TestComputeStats_DistanceMonotonic(t *testing.T) {
	a := models.DeviceLocationReport{Coordinates: orb.Point{76.90, 43.20}, Timestamp: t0}
	b := models.DeviceLocationReport{Coordinates: orb.Point{76.95, 43.25}, Timestamp: t0.Add(10 * time.Minute)}
	direct := pathKilometers([]models.DeviceLocationReport{a, b})
	assert.Greater(t, direct, 0.0)

	detours := []orb.Point{
		{76.925, 43.225}, // on the way
		{76.80, 43.30},   // off to the side
		{76.95, 43.20},
		{76.90, 43.20}, // same as a
	}
	for _, p := range detours {
		mid := models.DeviceLocationReport{Coordinates: p, Timestamp: t0.Add(5 * time.Minute)}
		withMid := pathKilometers([]models.DeviceLocationReport{a, mid, b})
		assert.GreaterOrEqual(t, withMid+1e-9, direct, "intermediate %v", p)
	}
}

func TestComputeStats_KnownDistance(t *testing.T) {
	// one degree of latitude is roughly 111 km
	legs := []models.DeviceLocationReport{
		{Coordinates: orb.Point{0, 0}},
		{Coordinates: orb.Point{0, 1}},
	}
	assert.InDelta(t, 111.3, pathKilometers(legs), 0.5)
}

func TestComputeStats_Collections(t *testing.T) {
	now := t0
	svc, _ := newTestService(DefaultOptions(), &now)
	ctx := context.Background()

	inputs := []CollectionInput{
		{DriverID: "DRV-1", Location: orb.Point{76.90, 43.20}, BinIDs: []string{"MED-001", "MED-002"}, Timestamp: t0},
		{DriverID: "DRV-1", Location: orb.Point{76.91, 43.21}, BinIDs: []string{"MED-003"}, Timestamp: t0.Add(10 * time.Minute)},
		{DriverID: "DRV-1", Location: orb.Point{76.92, 43.22}, Timestamp: t0.Add(20 * time.Minute)},
		{DriverID: "DRV-1", Location: orb.Point{76.93, 43.23}, BinIDs: []string{"MED-004"}, Timestamp: t0.Add(3 * time.Hour)},
		{DriverID: "DRV-9", Location: orb.Point{76.90, 43.20}, BinIDs: []string{"MED-005"}, Timestamp: t0},
	}
	for _, in := range inputs {
		_, _, err := svc.RecordCollection(ctx, in)
		require.NoError(t, err)
	}

	stats, err := svc.ComputeStats(ctx, "DRV-1", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalCollections)
	assert.Equal(t, 3, stats.TotalBinsCollected)
}

func TestComputeStats_GapIsCapped(t *testing.T) {
	now := t0.Add(2 * time.Hour)
	svc, _ := newTestService(DefaultOptions(), &now)
	ctx := context.Background()

	for _, at := range []time.Duration{0, time.Hour} {
		_, err := svc.Ingest(ctx, report("DRV-1", at, 15, false))
		require.NoError(t, err)
	}
	stats, err := svc.ComputeStats(ctx, "DRV-1", t0, now)
	require.NoError(t, err)
	assert.InDelta(t, (10 * time.Minute).Hours(), stats.ActiveTimeHours, 1e-9)
}

func TestComputeStats_EmptyRange(t *testing.T) {
	now := t0
	svc, _ := newTestService(DefaultOptions(), &now)

	stats, err := svc.ComputeStats(context.Background(), "NOBODY", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalCollections)
	assert.Equal(t, 0, stats.TotalBinsCollected)
	assert.Equal(t, 0.0, stats.TotalKilometers)
	assert.Equal(t, 0.0, stats.ActiveTimeHours)
	assert.Nil(t, stats.LastActive)
}

func TestComputeStats_InvalidInput(t *testing.T) {
	now := t0
	svc, _ := newTestService(DefaultOptions(), &now)
	ctx := context.Background()

	_, err := svc.ComputeStats(ctx, "", t0, t0.Add(time.Hour))
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.ComputeStats(ctx, "DRV-1", t0.Add(time.Hour), t0)
	assert.ErrorIs(t, err, models.ErrValidation)
}
