package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ride-dispatch/internal/domain/dispatch"
	"ride-dispatch/internal/ports"

	"github.com/jackc/pgx/v5"
)

// settingsName is the singleton row every deployment uses.
const settingsName = "default"

// SettingsRepo persists the dispatch configuration as a jsonb document in
// ride_settings.
type SettingsRepo struct{}

// NewSettingsRepo constructs a new SettingsRepo.
func NewSettingsRepo() ports.SettingsRepo {
	return &SettingsRepo{}
}

// Load reads the settings row, falling back to documented defaults when the
// row is absent. The result is always normalized and validated.
func (repo *SettingsRepo) Load(ctx context.Context) (*dispatch.Config, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = tx.QueryRow(ctx, `
		SELECT data FROM ride_settings WHERE name = $1
	`, settingsName).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			cfg := dispatch.Defaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("query ride settings: %w", err)
	}

	var cfg dispatch.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode ride settings: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save upserts the settings row.
func (repo *SettingsRepo) Save(ctx context.Context, cfg *dispatch.Config) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode ride settings: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ride_settings (name, data, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, settingsName, string(raw))
	if err != nil {
		return fmt.Errorf("upsert ride settings: %w", err)
	}

	return nil
}
