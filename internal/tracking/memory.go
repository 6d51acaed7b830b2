package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"medbin-backend/internal/models"
)

// MemoryStore is an in-process Store. It backs the engine tests and local runs
// without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	seq     int64
	reports map[string][]models.DeviceLocationReport // deviceID -> insertion order
	states  map[string]models.DeviceState
	points  map[string]models.CollectionPoint
	byOwner map[string][]string // driverID -> point IDs
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports: make(map[string][]models.DeviceLocationReport),
		states:  make(map[string]models.DeviceState),
		points:  make(map[string]models.CollectionPoint),
		byOwner: make(map[string][]string),
	}
}

func (s *MemoryStore) AppendReport(ctx context.Context, report *models.DeviceLocationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	report.ID = s.seq
	s.reports[report.DeviceID] = append(s.reports[report.DeviceID], *report)
	return nil
}

func (s *MemoryStore) Reports(ctx context.Context, deviceID string, from, to time.Time) ([]models.DeviceLocationReport, error) {
	s.mu.RLock()
	var out []models.DeviceLocationReport
	for _, r := range s.reports[deviceID] {
		if inRange(r.Timestamp, from, to) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	SortReports(out)
	return out, nil
}

func (s *MemoryStore) UpsertState(ctx context.Context, state models.DeviceState) (models.DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.states[state.DeviceID]; ok && cur.Timestamp.After(state.Timestamp) {
		return cur, nil
	}
	s.states[state.DeviceID] = state
	return state, nil
}

func (s *MemoryStore) State(ctx context.Context, deviceID string) (models.DeviceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[deviceID]
	if !ok {
		return models.DeviceState{}, ErrNotFound
	}
	return st, nil
}

func (s *MemoryStore) States(ctx context.Context) ([]models.DeviceState, error) {
	s.mu.RLock()
	out := make([]models.DeviceState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (s *MemoryStore) SetCollecting(ctx context.Context, deviceID string, isCollecting bool, at time.Time) (models.DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[deviceID]
	if !ok {
		return models.DeviceState{}, ErrNotFound
	}
	st.IsCollecting = isCollecting
	st.UpdatedAt = at
	s.states[deviceID] = st
	return st, nil
}

func (s *MemoryStore) CreateCollectionPointIfAbsent(ctx context.Context, cp models.CollectionPoint, rule DedupRule) (models.CollectionPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := make([]models.CollectionPoint, 0, len(s.byOwner[cp.DriverID]))
	for _, id := range s.byOwner[cp.DriverID] {
		owned = append(owned, s.points[id])
	}
	if existing, promote, found := rule.Match(owned, cp); found {
		if !promote {
			return clonePoint(existing), ErrConflict
		}
		promoted := clonePoint(Promote(existing, cp))
		s.points[promoted.ID] = promoted
		return clonePoint(promoted), nil
	}
	cp = clonePoint(cp)
	s.points[cp.ID] = cp
	s.byOwner[cp.DriverID] = append(s.byOwner[cp.DriverID], cp.ID)
	return clonePoint(cp), nil
}

func (s *MemoryStore) CollectionPoint(ctx context.Context, id string) (models.CollectionPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.points[id]
	if !ok {
		return models.CollectionPoint{}, ErrNotFound
	}
	return clonePoint(cp), nil
}

func (s *MemoryStore) CollectionPoints(ctx context.Context, driverID string, from, to time.Time) ([]models.CollectionPoint, error) {
	s.mu.RLock()
	var out []models.CollectionPoint
	for _, id := range s.byOwner[driverID] {
		if cp := s.points[id]; inRange(cp.Timestamp, from, to) {
			out = append(out, clonePoint(cp))
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) AnnotateCollectionPoint(ctx context.Context, id string, a models.CollectionAnnotation) (models.CollectionPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.points[id]
	if !ok {
		return models.CollectionPoint{}, ErrNotFound
	}
	if a.Notes != nil {
		notes := *a.Notes
		cp.Notes = &notes
	}
	if a.Photos != nil {
		cp.Photos = append([]string(nil), a.Photos...)
	}
	s.points[id] = cp
	return clonePoint(cp), nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func clonePoint(cp models.CollectionPoint) models.CollectionPoint {
	cp.BinIDs = append([]string{}, cp.BinIDs...)
	cp.Photos = append([]string{}, cp.Photos...)
	if cp.Notes != nil {
		notes := *cp.Notes
		cp.Notes = &notes
	}
	return cp
}
