package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"medbin-backend/internal/models"
)

// CollectionInput is an explicit "mark collection" command.
type CollectionInput struct {
	DriverID  string
	Location  orb.Point
	BinIDs    []string
	Timestamp time.Time // zero means now
	Notes     *string
	Photos    []string
}

// Stop is a stationary run of a collecting device.
type Stop struct {
	Start    models.DeviceLocationReport
	End      models.DeviceLocationReport
	Duration time.Duration
}

// RecordCollection creates a collection point from an explicit command.
// When the same stop already has an explicit point, that point is returned with
// created=false. A point the detector inferred for the stop is upgraded to this
// mark, keeping its ID, and reported as created.
func (s *Service) RecordCollection(ctx context.Context, in CollectionInput) (models.CollectionPoint, bool, error) {
	binIDs := append([]string{}, in.BinIDs...)
	cp := models.CollectionPoint{
		DriverID:  in.DriverID,
		Location:  models.NewGeoPoint(in.Location),
		Timestamp: in.Timestamp,
		BinIDs:    binIDs,
		BinCount:  len(binIDs),
		Notes:     in.Notes,
		Photos:    append([]string{}, in.Photos...),
		Source:    models.SourceExplicit,
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now()
	}
	return s.record(ctx, cp)
}

// DetectStops scans the device trace in [from, to] and records a point for
// every stop not already covered. It returns only the newly created points.
func (s *Service) DetectStops(ctx context.Context, deviceID string, from, to time.Time) ([]models.CollectionPoint, error) {
	if deviceID == "" {
		return nil, models.NewValidationError("deviceId", "is required")
	}
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	reports, err := s.store.Reports(ctx, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load reports: %w", err)
	}

	var created []models.CollectionPoint
	for _, stop := range FindStops(reports, s.opts.StopSpeedEpsilon, s.opts.StopDuration) {
		cp := models.CollectionPoint{
			DriverID:  deviceID,
			Location:  models.NewGeoPoint(stop.Start.Coordinates),
			Timestamp: stop.Start.Timestamp,
			BinIDs:    []string{},
			BinCount:  0,
			Photos:    []string{},
			Source:    models.SourceInferred,
		}
		stored, ok, err := s.record(ctx, cp)
		if err != nil {
			return created, err
		}
		if ok {
			log.Printf("📍 Inferred collection stop for %s at %v (%s stationary)", deviceID, stop.Start.Timestamp, stop.Duration)
			created = append(created, stored)
		}
	}
	return created, nil
}

// FindStops returns the stops in an ordered trace. A stop is a maximal run of
// collecting samples slower than epsilon, entered from a moving sample, whose
// first and last samples are at least minDuration apart.
func FindStops(reports []models.DeviceLocationReport, epsilon float64, minDuration time.Duration) []Stop {
	var stops []Stop
	runStart := -1
	moved := false

	closeRun := func(end int) {
		if runStart < 0 {
			return
		}
		d := reports[end].Timestamp.Sub(reports[runStart].Timestamp)
		if d >= minDuration {
			stops = append(stops, Stop{Start: reports[runStart], End: reports[end], Duration: d})
		}
		runStart = -1
	}

	for i, r := range reports {
		if r.IsCollecting && r.Speed < epsilon {
			if runStart < 0 && moved {
				runStart = i
			}
			continue
		}
		closeRun(i - 1)
		moved = r.Speed >= epsilon
	}
	closeRun(len(reports) - 1)
	return stops
}

func (s *Service) record(ctx context.Context, cp models.CollectionPoint) (models.CollectionPoint, bool, error) {
	if err := cp.Validate(); err != nil {
		return models.CollectionPoint{}, false, err
	}
	cp.ID = s.newID()
	cp.CreatedAt = s.now()

	stored, err := s.store.CreateCollectionPointIfAbsent(ctx, cp, s.opts.dedupRule())
	if errors.Is(err, ErrConflict) {
		return stored, false, nil
	}
	if err != nil {
		return models.CollectionPoint{}, false, fmt.Errorf("failed to create collection point: %w", err)
	}
	if stored.ID != cp.ID {
		log.Printf("📍 Inferred collection point %s confirmed by %s with %d bins", stored.ID, cp.DriverID, stored.BinCount)
	}

	s.notifier.CollectionPointCreated(ctx, stored)
	return stored, true, nil
}

// CollectionPoint returns a single point.
func (s *Service) CollectionPoint(ctx context.Context, id string) (models.CollectionPoint, error) {
	return s.store.CollectionPoint(ctx, id)
}

// CollectionPoints lists a driver's points in [from, to]; unknown drivers yield none.
func (s *Service) CollectionPoints(ctx context.Context, driverID string, from, to time.Time) ([]models.CollectionPoint, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	points, err := s.store.CollectionPoints(ctx, driverID, from, to)
	if err != nil {
		return nil, err
	}
	if points == nil {
		points = []models.CollectionPoint{}
	}
	return points, nil
}

// AnnotateCollectionPoint updates the operator-editable notes and photos.
func (s *Service) AnnotateCollectionPoint(ctx context.Context, id string, a models.CollectionAnnotation) (models.CollectionPoint, error) {
	if err := a.Validate(); err != nil {
		return models.CollectionPoint{}, err
	}
	return s.store.AnnotateCollectionPoint(ctx, id, a)
}

func newPointID() string {
	return uuid.New().String()
}
