package tracking

import (
	"context"
	"time"

	"medbin-backend/internal/models"
)

// Options are the tunables of the detector and the aggregator.
type Options struct {
	// StopDuration is how long a collecting device must stand still to count as a stop.
	StopDuration time.Duration
	// StopSpeedEpsilon is the speed (km/h) below which a sample counts as stationary.
	StopSpeedEpsilon float64
	// DedupRadiusMeters and DedupWindow bound what counts as the same stop.
	DedupRadiusMeters float64
	DedupWindow       time.Duration
	// MaxActiveGap caps a single interval counted as active time.
	MaxActiveGap time.Duration
	// InferredDetection runs stop detection after each collecting ingest.
	InferredDetection bool
	// InferredLookback is how much history that detection rescans.
	InferredLookback time.Duration
}

func DefaultOptions() Options {
	return Options{
		StopDuration:      30 * time.Second,
		StopSpeedEpsilon:  1.0,
		DedupRadiusMeters: 10,
		DedupWindow:       2 * time.Minute,
		MaxActiveGap:      10 * time.Minute,
		InferredDetection: true,
		InferredLookback:  10 * time.Minute,
	}
}

func (o Options) dedupRule() DedupRule {
	return DedupRule{RadiusMeters: o.DedupRadiusMeters, Window: o.DedupWindow}
}

// Notifier receives engine events. Implementations must not block for long;
// delivery failures are theirs to log.
type Notifier interface {
	LocationIngested(ctx context.Context, state models.DeviceState)
	CollectionPointCreated(ctx context.Context, cp models.CollectionPoint)
	CollectingModeChanged(ctx context.Context, deviceID string, isCollecting bool)
}

// Notifiers fans an event out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) LocationIngested(ctx context.Context, state models.DeviceState) {
	for _, n := range ns {
		n.LocationIngested(ctx, state)
	}
}

func (ns Notifiers) CollectionPointCreated(ctx context.Context, cp models.CollectionPoint) {
	for _, n := range ns {
		n.CollectionPointCreated(ctx, cp)
	}
}

func (ns Notifiers) CollectingModeChanged(ctx context.Context, deviceID string, isCollecting bool) {
	for _, n := range ns {
		n.CollectingModeChanged(ctx, deviceID, isCollecting)
	}
}

// Service is the tracking engine: ingest, liveness, collection points and statistics.
type Service struct {
	store    Store
	opts     Options
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

// Option customizes a Service.
type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(store Store, opts Options, options ...Option) *Service {
	s := &Service{
		store:    store,
		opts:     opts,
		notifier: Notifiers(nil),
		now:      time.Now,
		newID:    newPointID,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Service) Options() Options {
	return s.opts
}

// Now is the engine clock, exposed so handlers classify liveness consistently.
func (s *Service) Now() time.Time {
	return s.now()
}

// DeviceStatus returns the device's snapshot with its liveness.
func (s *Service) DeviceStatus(ctx context.Context, deviceID string) (models.DeviceStatus, error) {
	st, err := s.store.State(ctx, deviceID)
	if err != nil {
		return models.DeviceStatus{}, err
	}
	return DeviceStatus(st, s.now()), nil
}

// DeviceStatuses lists every known device.
func (s *Service) DeviceStatuses(ctx context.Context) ([]models.DeviceStatus, error) {
	states, err := s.store.States(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]models.DeviceStatus, len(states))
	for i, st := range states {
		out[i] = DeviceStatus(st, now)
	}
	return out, nil
}

// History returns at most limit of the most recent reports in [from, to], oldest first.
// Unknown devices yield an empty slice.
func (s *Service) History(ctx context.Context, deviceID string, from, to time.Time, limit int) ([]models.DeviceLocationReport, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	reports, err := s.store.Reports(ctx, deviceID, from, to)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(reports) > limit {
		reports = reports[len(reports)-limit:]
	}
	if reports == nil {
		reports = []models.DeviceLocationReport{}
	}
	return reports, nil
}

// Markers builds the map layer: one marker per device and one per checkpoint
// recorded in [from, to].
func (s *Service) Markers(ctx context.Context, from, to time.Time) ([]models.Marker, error) {
	statuses, err := s.DeviceStatuses(ctx)
	if err != nil {
		return nil, err
	}
	markers := make([]models.Marker, 0, len(statuses))
	for _, st := range statuses {
		online := st.IsOnline
		markers = append(markers, models.Marker{
			Kind:      models.MarkerDevice,
			ID:        st.DeviceID,
			Position:  st.Coordinates,
			Timestamp: st.Timestamp,
			Online:    &online,
		})
		points, err := s.store.CollectionPoints(ctx, st.DeviceID, from, to)
		if err != nil {
			return nil, err
		}
		for _, cp := range points {
			markers = append(markers, models.Marker{
				Kind:      models.MarkerCheckpoint,
				ID:        cp.ID,
				Position:  cp.Location.Coordinates,
				Timestamp: cp.Timestamp,
				Label:     cp.DriverID,
			})
		}
	}
	return markers, nil
}

func checkRange(from, to time.Time) error {
	if from.After(to) {
		return models.NewValidationError("from", "must not be after to")
	}
	return nil
}
