package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/paulmach/orb"

	"medbin-backend/internal/models"
	"medbin-backend/internal/tracking"
)

// Store is the Postgres implementation of tracking.Store.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

var _ tracking.Store = (*Store)(nil)

type locationRow struct {
	ID           int64           `db:"id"`
	DeviceID     string          `db:"device_id"`
	Longitude    float64         `db:"longitude"`
	Latitude     float64         `db:"latitude"`
	RecordedAt   time.Time       `db:"recorded_at"`
	Battery      int             `db:"battery"`
	Speed        float64         `db:"speed"`
	IsCollecting bool            `db:"is_collecting"`
	Altitude     sql.NullFloat64 `db:"altitude"`
}

func (r locationRow) toModel() models.DeviceLocationReport {
	return models.DeviceLocationReport{
		ID:           r.ID,
		DeviceID:     r.DeviceID,
		Coordinates:  orb.Point{r.Longitude, r.Latitude},
		Timestamp:    r.RecordedAt.UTC(),
		Battery:      r.Battery,
		Speed:        r.Speed,
		IsCollecting: r.IsCollecting,
		Altitude:     fromNullFloat(r.Altitude),
	}
}

type stateRow struct {
	DeviceID     string          `db:"device_id"`
	Longitude    float64         `db:"longitude"`
	Latitude     float64         `db:"latitude"`
	RecordedAt   time.Time       `db:"recorded_at"`
	Battery      int             `db:"battery"`
	Speed        float64         `db:"speed"`
	IsCollecting bool            `db:"is_collecting"`
	Altitude     sql.NullFloat64 `db:"altitude"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (r stateRow) toModel() models.DeviceState {
	return models.DeviceState{
		DeviceID:     r.DeviceID,
		Coordinates:  orb.Point{r.Longitude, r.Latitude},
		Timestamp:    r.RecordedAt.UTC(),
		Battery:      r.Battery,
		Speed:        r.Speed,
		IsCollecting: r.IsCollecting,
		Altitude:     fromNullFloat(r.Altitude),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type pointRow struct {
	ID          string         `db:"id"`
	DriverID    string         `db:"driver_id"`
	Longitude   float64        `db:"longitude"`
	Latitude    float64        `db:"latitude"`
	CollectedAt time.Time      `db:"collected_at"`
	BinIDs      pq.StringArray `db:"bin_ids"`
	BinCount    int            `db:"bin_count"`
	Notes       sql.NullString `db:"notes"`
	Photos      pq.StringArray `db:"photos"`
	Source      string         `db:"source"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r pointRow) toModel() models.CollectionPoint {
	cp := models.CollectionPoint{
		ID:        r.ID,
		DriverID:  r.DriverID,
		Location:  models.NewGeoPoint(orb.Point{r.Longitude, r.Latitude}),
		Timestamp: r.CollectedAt.UTC(),
		BinIDs:    append([]string{}, r.BinIDs...),
		BinCount:  r.BinCount,
		Photos:    append([]string{}, r.Photos...),
		Source:    models.CollectionSource(r.Source),
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.Notes.Valid {
		cp.Notes = &r.Notes.String
	}
	return cp
}

const (
	locationColumns = `id, device_id, longitude, latitude, recorded_at, battery, speed, is_collecting, altitude`
	stateColumns    = `device_id, longitude, latitude, recorded_at, battery, speed, is_collecting, altitude, updated_at`
	pointColumns    = `id, driver_id, longitude, latitude, collected_at, bin_ids, bin_count, notes, photos, source, created_at`
)

func (s *Store) AppendReport(ctx context.Context, report *models.DeviceLocationReport) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO device_locations (device_id, longitude, latitude, recorded_at, battery, speed, is_collecting, altitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		report.DeviceID,
		report.Coordinates.Lon(),
		report.Coordinates.Lat(),
		report.Timestamp,
		report.Battery,
		report.Speed,
		report.IsCollecting,
		toNullFloat(report.Altitude),
	).Scan(&report.ID)
	if err != nil {
		return fmt.Errorf("failed to insert location: %w", err)
	}
	return nil
}

func (s *Store) Reports(ctx context.Context, deviceID string, from, to time.Time) ([]models.DeviceLocationReport, error) {
	var rows []locationRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+locationColumns+`
		FROM device_locations
		WHERE device_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
		ORDER BY recorded_at ASC, id ASC
	`, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to select locations: %w", err)
	}
	out := make([]models.DeviceLocationReport, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) UpsertState(ctx context.Context, state models.DeviceState) (models.DeviceState, error) {
	var row stateRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO device_states (`+stateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (device_id)
		DO UPDATE SET
			longitude = EXCLUDED.longitude,
			latitude = EXCLUDED.latitude,
			recorded_at = EXCLUDED.recorded_at,
			battery = EXCLUDED.battery,
			speed = EXCLUDED.speed,
			is_collecting = EXCLUDED.is_collecting,
			altitude = EXCLUDED.altitude,
			updated_at = EXCLUDED.updated_at
		WHERE device_states.recorded_at <= EXCLUDED.recorded_at
		RETURNING `+stateColumns,
		state.DeviceID,
		state.Coordinates.Lon(),
		state.Coordinates.Lat(),
		state.Timestamp,
		state.Battery,
		state.Speed,
		state.IsCollecting,
		toNullFloat(state.Altitude),
		state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// a newer snapshot is already stored
		return s.State(ctx, state.DeviceID)
	}
	if err != nil {
		return models.DeviceState{}, fmt.Errorf("failed to upsert device state: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) State(ctx context.Context, deviceID string) (models.DeviceState, error) {
	var row stateRow
	err := s.db.GetContext(ctx, &row, `SELECT `+stateColumns+` FROM device_states WHERE device_id = $1`, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeviceState{}, tracking.ErrNotFound
	}
	if err != nil {
		return models.DeviceState{}, fmt.Errorf("failed to get device state: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) States(ctx context.Context) ([]models.DeviceState, error) {
	var rows []stateRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+stateColumns+` FROM device_states ORDER BY device_id`); err != nil {
		return nil, fmt.Errorf("failed to list device states: %w", err)
	}
	out := make([]models.DeviceState, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) SetCollecting(ctx context.Context, deviceID string, isCollecting bool, at time.Time) (models.DeviceState, error) {
	var row stateRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE device_states
		SET is_collecting = $2, updated_at = $3
		WHERE device_id = $1
		RETURNING `+stateColumns,
		deviceID, isCollecting, at)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeviceState{}, tracking.ErrNotFound
	}
	if err != nil {
		return models.DeviceState{}, fmt.Errorf("failed to set collecting mode: %w", err)
	}
	return row.toModel(), nil
}

// CreateCollectionPointIfAbsent serializes writers per driver with a
// transaction-scoped advisory lock, so concurrent ingests on several server
// instances cannot both insert the same stop. An explicit mark landing on an
// inferred point updates that row in the same transaction.
func (s *Store) CreateCollectionPointIfAbsent(ctx context.Context, cp models.CollectionPoint, rule tracking.DedupRule) (models.CollectionPoint, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.CollectionPoint{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, cp.DriverID); err != nil {
		return models.CollectionPoint{}, fmt.Errorf("failed to lock driver %s: %w", cp.DriverID, err)
	}

	var nearby []pointRow
	err = tx.SelectContext(ctx, &nearby, `
		SELECT `+pointColumns+`
		FROM collection_points
		WHERE driver_id = $1 AND collected_at > $2 AND collected_at < $3
		ORDER BY collected_at ASC, created_at ASC
	`, cp.DriverID, cp.Timestamp.Add(-rule.Window), cp.Timestamp.Add(rule.Window))
	if err != nil {
		return models.CollectionPoint{}, fmt.Errorf("failed to select nearby points: %w", err)
	}
	existing := make([]models.CollectionPoint, len(nearby))
	for i, r := range nearby {
		existing[i] = r.toModel()
	}

	var row pointRow
	if match, promote, found := rule.Match(existing, cp); found {
		if !promote {
			return match, tracking.ErrConflict
		}
		p := tracking.Promote(match, cp)
		err = tx.GetContext(ctx, &row, `
			UPDATE collection_points
			SET longitude = $2, latitude = $3, collected_at = $4, bin_ids = $5,
			    bin_count = $6, notes = $7, photos = $8, source = $9
			WHERE id = $1
			RETURNING `+pointColumns,
			p.ID,
			p.Location.Coordinates.Lon(),
			p.Location.Coordinates.Lat(),
			p.Timestamp,
			pq.Array(nonNil(p.BinIDs)),
			p.BinCount,
			toNullString(p.Notes),
			pq.Array(nonNil(p.Photos)),
			string(p.Source),
		)
		if err != nil {
			return models.CollectionPoint{}, fmt.Errorf("failed to promote collection point %s: %w", p.ID, err)
		}
		if err := tx.Commit(); err != nil {
			return models.CollectionPoint{}, fmt.Errorf("failed to commit collection point: %w", err)
		}
		return row.toModel(), nil
	}

	err = tx.GetContext(ctx, &row, `
		INSERT INTO collection_points (`+pointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+pointColumns,
		cp.ID,
		cp.DriverID,
		cp.Location.Coordinates.Lon(),
		cp.Location.Coordinates.Lat(),
		cp.Timestamp,
		pq.Array(nonNil(cp.BinIDs)),
		cp.BinCount,
		toNullString(cp.Notes),
		pq.Array(nonNil(cp.Photos)),
		string(cp.Source),
		cp.CreatedAt,
	)
	if err != nil {
		return models.CollectionPoint{}, fmt.Errorf("failed to insert collection point: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.CollectionPoint{}, fmt.Errorf("failed to commit collection point: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) CollectionPoint(ctx context.Context, id string) (models.CollectionPoint, error) {
	var row pointRow
	err := s.db.GetContext(ctx, &row, `SELECT `+pointColumns+` FROM collection_points WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CollectionPoint{}, tracking.ErrNotFound
	}
	if err != nil {
		return models.CollectionPoint{}, fmt.Errorf("failed to get collection point: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) CollectionPoints(ctx context.Context, driverID string, from, to time.Time) ([]models.CollectionPoint, error) {
	var rows []pointRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+pointColumns+`
		FROM collection_points
		WHERE driver_id = $1 AND collected_at >= $2 AND collected_at <= $3
		ORDER BY collected_at ASC
	`, driverID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to select collection points: %w", err)
	}
	out := make([]models.CollectionPoint, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *Store) AnnotateCollectionPoint(ctx context.Context, id string, a models.CollectionAnnotation) (models.CollectionPoint, error) {
	var photos interface{}
	if a.Photos != nil {
		photos = pq.Array(a.Photos)
	}
	var row pointRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE collection_points
		SET notes = COALESCE($2, notes),
		    photos = COALESCE($3, photos)
		WHERE id = $1
		RETURNING `+pointColumns,
		id, toNullString(a.Notes), photos)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CollectionPoint{}, tracking.ErrNotFound
	}
	if err != nil {
		return models.CollectionPoint{}, fmt.Errorf("failed to annotate collection point: %w", err)
	}
	return row.toModel(), nil
}

func toNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return &n.Float64
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
