package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"medbin-backend/internal/models"
)

// ComputeStats aggregates a driver's activity over [from, to].
// Points and reports load concurrently; an empty range yields zeros.
func (s *Service) ComputeStats(ctx context.Context, driverID string, from, to time.Time) (models.DriverStatistics, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return models.DriverStatistics{}, models.NewValidationError("driverId", "is required")
	}
	if err := checkRange(from, to); err != nil {
		return models.DriverStatistics{}, err
	}

	var (
		points  []models.CollectionPoint
		reports []models.DeviceLocationReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		points, err = s.store.CollectionPoints(gctx, driverID, from, to)
		if err != nil {
			return fmt.Errorf("failed to load collection points: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		reports, err = s.store.Reports(gctx, driverID, from, to)
		if err != nil {
			return fmt.Errorf("failed to load reports: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.DriverStatistics{}, err
	}

	stats := models.DriverStatistics{
		DriverID:        driverID,
		From:            from,
		To:              to,
		TotalKilometers: pathKilometers(reports),
		ActiveTimeHours: activeTime(reports, s.opts.MaxActiveGap).Hours(),
		LastActive:      lastActive(reports),
	}
	stats.TotalCollections, stats.TotalBinsCollected = collectionTotals(points)
	return stats, nil
}

func collectionTotals(points []models.CollectionPoint) (count, bins int) {
	for _, cp := range points {
		count++
		bins += cp.BinCount
	}
	return count, bins
}

// activeTime sums the gaps between consecutive reports whose endpoints are both
// active, each gap capped at maxGap so an offline spell is not counted.
func activeTime(reports []models.DeviceLocationReport, maxGap time.Duration) time.Duration {
	var total time.Duration
	for i := 1; i < len(reports); i++ {
		a, b := reports[i-1], reports[i]
		if !a.IsActive() || !b.IsActive() {
			continue
		}
		gap := b.Timestamp.Sub(a.Timestamp)
		if maxGap > 0 && gap > maxGap {
			gap = maxGap
		}
		total += gap
	}
	return total
}

func lastActive(reports []models.DeviceLocationReport) *time.Time {
	for i := len(reports) - 1; i >= 0; i-- {
		if reports[i].IsActive() {
			t := reports[i].Timestamp
			return &t
		}
	}
	return nil
}
