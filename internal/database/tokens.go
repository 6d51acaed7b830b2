package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// TokenStore keeps the FCM registration tokens of tracking devices.
type TokenStore struct {
	db *sqlx.DB
}

func NewTokenStore(db *sqlx.DB) *TokenStore {
	return &TokenStore{db: db}
}

// Register stores a token for a device; a token moved to another device is reassigned.
func (s *TokenStore) Register(ctx context.Context, deviceID, token, platform string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_tokens (device_id, token, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (token)
		DO UPDATE SET
			device_id = EXCLUDED.device_id,
			platform = EXCLUDED.platform,
			updated_at = EXTRACT(EPOCH FROM NOW())::BIGINT
	`, deviceID, token, platform)
	if err != nil {
		return fmt.Errorf("failed to register device token: %w", err)
	}
	return nil
}

// Tokens returns every token registered for a device.
func (s *TokenStore) Tokens(ctx context.Context, deviceID string) ([]string, error) {
	var tokens []string
	if err := s.db.SelectContext(ctx, &tokens, `SELECT token FROM device_tokens WHERE device_id = $1`, deviceID); err != nil {
		return nil, fmt.Errorf("failed to load device tokens: %w", err)
	}
	return tokens, nil
}
