package tracking

import (
	"context"
	"time"

	"medbin-backend/internal/models"
)

// DedupRule describes when two collection points belong to the same stop.
type DedupRule struct {
	RadiusMeters float64
	Window       time.Duration
}

// Covers reports whether existing already accounts for candidate.
func (r DedupRule) Covers(existing, candidate models.CollectionPoint) bool {
	if existing.DriverID != candidate.DriverID {
		return false
	}
	dt := existing.Timestamp.Sub(candidate.Timestamp)
	if dt < 0 {
		dt = -dt
	}
	if dt >= r.Window {
		return false
	}
	return distanceMeters(existing.Location.Coordinates, candidate.Location.Coordinates) < r.RadiusMeters
}

// Match finds the point among existing that accounts for candidate. An
// explicit candidate covered only by inferred points matches the first of
// them with promote set: the caller upgrades that point instead of skipping.
func (r DedupRule) Match(existing []models.CollectionPoint, candidate models.CollectionPoint) (match models.CollectionPoint, promote, found bool) {
	var inferred *models.CollectionPoint
	for i := range existing {
		if !r.Covers(existing[i], candidate) {
			continue
		}
		if existing[i].Source == models.SourceInferred && candidate.Source == models.SourceExplicit {
			if inferred == nil {
				inferred = &existing[i]
			}
			continue
		}
		return existing[i], false, true
	}
	if inferred != nil {
		return *inferred, true, true
	}
	return models.CollectionPoint{}, false, false
}

// Promote turns an inferred point into the explicit mark made at the same stop.
// The point keeps its ID and creation time; notes and photos survive unless
// the mark brings its own.
func Promote(inferred, explicit models.CollectionPoint) models.CollectionPoint {
	cp := explicit
	cp.ID = inferred.ID
	cp.CreatedAt = inferred.CreatedAt
	if cp.Notes == nil {
		cp.Notes = inferred.Notes
	}
	if len(cp.Photos) == 0 {
		cp.Photos = inferred.Photos
	}
	return cp
}

// Store persists reports, device snapshots and collection points.
// Every read of reports returns them in (timestamp, id) order.
type Store interface {
	// AppendReport stores the report and assigns its ID.
	AppendReport(ctx context.Context, report *models.DeviceLocationReport) error
	// Reports returns the device's reports within [from, to].
	Reports(ctx context.Context, deviceID string, from, to time.Time) ([]models.DeviceLocationReport, error)

	// UpsertState replaces the snapshot unless the stored one is newer.
	// It returns the snapshot in effect afterwards.
	UpsertState(ctx context.Context, state models.DeviceState) (models.DeviceState, error)
	State(ctx context.Context, deviceID string) (models.DeviceState, error)
	States(ctx context.Context) ([]models.DeviceState, error)
	SetCollecting(ctx context.Context, deviceID string, isCollecting bool, at time.Time) (models.DeviceState, error)

	// CreateCollectionPointIfAbsent inserts cp unless rule covers an existing point
	// of the same driver, in which case it returns that point and ErrConflict.
	// When rule.Match asks for a promotion, the inferred point is overwritten
	// with Promote and returned without error.
	// The check and the write are atomic per driver.
	CreateCollectionPointIfAbsent(ctx context.Context, cp models.CollectionPoint, rule DedupRule) (models.CollectionPoint, error)
	CollectionPoint(ctx context.Context, id string) (models.CollectionPoint, error)
	CollectionPoints(ctx context.Context, driverID string, from, to time.Time) ([]models.CollectionPoint, error)
	AnnotateCollectionPoint(ctx context.Context, id string, a models.CollectionAnnotation) (models.CollectionPoint, error)
}
