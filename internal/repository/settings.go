package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
)

func (s *Store) GetSettings(ctx context.Context) (*models.SalarySettings, error) {
	var payload []byte
	var version int64
	err := s.db.QueryRow(ctx,
		`SELECT payload, version FROM salary_settings WHERE key = $1`,
		domain.SettingsKey,
	).Scan(&payload, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("salary settings: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get salary settings: %w", err)
	}

	var settings models.SalarySettings
	if err := json.Unmarshal(payload, &settings); err != nil {
		return nil, fmt.Errorf("decode salary settings: %w", err)
	}
	settings.Version = version
	return &settings, nil
}

func (s *Store) InsertSettings(ctx context.Context, settings *models.SalarySettings) error {
	settings.Key = domain.SettingsKey
	if settings.Version == 0 {
		settings.Version = 1
	}
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode salary settings: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO salary_settings (key, payload, version, updated_at) VALUES ($1, $2, $3, $4)`,
		settings.Key, payload, settings.Version, settings.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert salary settings: %w", err)
	}
	return nil
}

// UpdateSettings performs a versioned update-in-place; a stale version
// returns domain.ErrConcurrencyConflict.
func (s *Store) UpdateSettings(ctx context.Context, settings *models.SalarySettings) error {
	next := *settings
	next.Version = settings.Version + 1
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode salary settings: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE salary_settings SET payload = $1, version = $2, updated_at = $3
		 WHERE key = $4 AND version = $5`,
		payload, next.Version, next.UpdatedAt, domain.SettingsKey, settings.Version,
	)
	if err != nil {
		return fmt.Errorf("update salary settings: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("salary settings version %d is stale: %w", settings.Version, domain.ErrConcurrencyConflict)
	}
	settings.Version = next.Version
	return nil
}
