package tracking

import (
	"context"
	"fmt"
	"log"

	"medbin-backend/internal/models"
)

// Ingest validates and stores a report, refreshes the device snapshot and,
// for collecting devices, looks for a fresh stop in the recent trace.
// A zero timestamp is replaced with the engine clock.
func (s *Service) Ingest(ctx context.Context, report models.DeviceLocationReport) (models.DeviceState, error) {
	if err := report.Validate(); err != nil {
		return models.DeviceState{}, err
	}
	now := s.now()
	if report.Timestamp.IsZero() {
		report.Timestamp = now
	}

	if err := s.store.AppendReport(ctx, &report); err != nil {
		return models.DeviceState{}, fmt.Errorf("failed to append report: %w", err)
	}
	state, err := s.store.UpsertState(ctx, models.StateFromReport(report, now))
	if err != nil {
		return models.DeviceState{}, fmt.Errorf("failed to update device state: %w", err)
	}

	s.notifier.LocationIngested(ctx, state)

	if report.IsCollecting && s.opts.InferredDetection {
		from := report.Timestamp.Add(-s.opts.InferredLookback)
		if _, err := s.DetectStops(ctx, report.DeviceID, from, report.Timestamp); err != nil {
			// The report itself is stored; a failed scan is retried by the next ping.
			log.Printf("⚠️  Stop detection failed for device %s: %v", report.DeviceID, err)
		}
	}

	return state, nil
}

// SetCollectingMode flips the device-declared collecting flag on the snapshot
// and tells listeners (dashboards, the device itself) about it.
func (s *Service) SetCollectingMode(ctx context.Context, deviceID string, isCollecting bool) (models.DeviceState, error) {
	if deviceID == "" {
		return models.DeviceState{}, models.NewValidationError("deviceId", "is required")
	}
	state, err := s.store.SetCollecting(ctx, deviceID, isCollecting, s.now())
	if err != nil {
		return models.DeviceState{}, err
	}
	s.notifier.CollectingModeChanged(ctx, deviceID, isCollecting)
	return state, nil
}
