package database

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func Connect(dbURL string) (*sqlx.DB, error) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Println("🔌 DATABASE CONNECTION ATTEMPT")
	log.Printf("   📍 Database URL length: %d characters", len(dbURL))
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Printf("❌ sqlx.Connect() failed: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		log.Printf("❌ Ping() failed: %v", err)
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ DATABASE CONNECTION SUCCESSFUL")
	return db, nil
}

func Migrate(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('driver', 'operator', 'admin')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Append-only trace; rows are only removed by the external retention job
		`CREATE TABLE IF NOT EXISTS device_locations (
			id BIGSERIAL PRIMARY KEY,
			device_id TEXT NOT NULL,
			longitude DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
			latitude DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
			recorded_at TIMESTAMPTZ NOT NULL,
			battery INT NOT NULL CHECK (battery BETWEEN 0 AND 100),
			speed DOUBLE PRECISION NOT NULL CHECK (speed >= 0),
			is_collecting BOOLEAN NOT NULL DEFAULT FALSE,
			altitude DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Exactly one row per device, replaced via UPSERT on every ingest
		`CREATE TABLE IF NOT EXISTS device_states (
			device_id TEXT PRIMARY KEY,
			longitude DOUBLE PRECISION NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			battery INT NOT NULL,
			speed DOUBLE PRECISION NOT NULL,
			is_collecting BOOLEAN NOT NULL DEFAULT FALSE,
			altitude DOUBLE PRECISION,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS collection_points (
			id TEXT PRIMARY KEY,
			driver_id TEXT NOT NULL,
			longitude DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
			latitude DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
			collected_at TIMESTAMPTZ NOT NULL,
			bin_ids TEXT[] NOT NULL DEFAULT '{}',
			bin_count INT NOT NULL DEFAULT 0 CHECK (bin_count >= 0),
			notes TEXT,
			photos TEXT[] NOT NULL DEFAULT '{}',
			source TEXT NOT NULL CHECK (source IN ('explicit', 'inferred')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS device_tokens (
			id SERIAL PRIMARY KEY,
			device_id TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			platform TEXT NOT NULL CHECK (platform IN ('ios', 'android')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE INDEX IF NOT EXISTS idx_device_locations_device_time ON device_locations(device_id, recorded_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_collection_points_driver_time ON collection_points(driver_id, collected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_device_tokens_device_id ON device_tokens(device_id)`,
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Printf("✅ Applied %d migration statements", len(migrations))
	return nil
}
