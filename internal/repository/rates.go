package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
)

func (s *Store) GetRate(ctx context.Context, base, target string, year, month int) (*models.CurrencyRate, error) {
	var payload []byte
	var version int64
	err := s.db.QueryRow(ctx,
		`SELECT payload, version FROM currency_rates
		 WHERE base_currency = $1 AND target_currency = $2 AND year = $3 AND month = $4`,
		base, target, year, month,
	).Scan(&payload, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("currency rate %s/%s %d-%02d: %w", base, target, year, month, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get currency rate: %w", err)
	}

	var rate models.CurrencyRate
	if err := json.Unmarshal(payload, &rate); err != nil {
		return nil, fmt.Errorf("decode currency rate: %w", err)
	}
	rate.Version = version
	return &rate, nil
}

func (s *Store) InsertRate(ctx context.Context, rate *models.CurrencyRate) error {
	if rate.Version == 0 {
		rate.Version = 1
	}
	payload, err := json.Marshal(rate)
	if err != nil {
		return fmt.Errorf("encode currency rate: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO currency_rates (id, base_currency, target_currency, year, month, payload, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rate.ID, rate.BaseCurrency, rate.TargetCurrency, rate.Year, rate.Month,
		payload, rate.Version, rate.CreatedAt, rate.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("rate %s/%s %d-%02d already exists: %w",
				rate.BaseCurrency, rate.TargetCurrency, rate.Year, rate.Month, domain.ErrConcurrencyConflict)
		}
		return fmt.Errorf("insert currency rate: %w", err)
	}
	return nil
}

func (s *Store) UpdateRate(ctx context.Context, rate *models.CurrencyRate) error {
	next := *rate
	next.Version = rate.Version + 1
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode currency rate: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE currency_rates SET payload = $1, version = $2, updated_at = $3
		 WHERE id = $4 AND version = $5`,
		payload, next.Version, next.UpdatedAt, rate.ID, rate.Version,
	)
	if err != nil {
		return fmt.Errorf("update currency rate: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("currency rate %s version %d is stale: %w", rate.ID, rate.Version, domain.ErrConcurrencyConflict)
	}
	rate.Version = next.Version
	return nil
}

func (s *Store) ListRatePairs(ctx context.Context) ([]models.CurrencyPair, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT base_currency, target_currency FROM currency_rates ORDER BY base_currency, target_currency`)
	if err != nil {
		return nil, fmt.Errorf("list rate pairs: %w", err)
	}
	defer rows.Close()

	var pairs []models.CurrencyPair
	for rows.Next() {
		var p models.CurrencyPair
		if err := rows.Scan(&p.Base, &p.Target); err != nil {
			return nil, fmt.Errorf("scan rate pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
