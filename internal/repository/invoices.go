package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
)

func (s *Store) GetInvoice(ctx context.Context, id uuid.UUID) (*models.TeacherInvoice, error) {
	return s.scanInvoice(s.db.QueryRow(ctx,
		`SELECT payload, version FROM teacher_invoices WHERE id = $1`, id))
}

func (s *Store) GetInvoiceForPeriod(ctx context.Context, teacherID uuid.UUID, month, year int) (*models.TeacherInvoice, error) {
	return s.scanInvoice(s.db.QueryRow(ctx,
		`SELECT payload, version FROM teacher_invoices
		 WHERE teacher_id = $1 AND month = $2 AND year = $3
		   AND NOT is_adjustment AND NOT deleted`,
		teacherID, month, year))
}

func (s *Store) scanInvoice(row pgx.Row) (*models.TeacherInvoice, error) {
	var payload []byte
	var version int64
	if err := row.Scan(&payload, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	var inv models.TeacherInvoice
	if err := json.Unmarshal(payload, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	inv.Version = version
	return &inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, f models.InvoiceFilter) ([]models.TeacherInvoice, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.TeacherID != nil {
		conds = append(conds, "teacher_id = "+arg(*f.TeacherID))
	}
	if f.Month != nil {
		conds = append(conds, "month = "+arg(*f.Month))
	}
	if f.Year != nil {
		conds = append(conds, "year = "+arg(*f.Year))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(f.Status))
	}
	if !f.IncludeDeleted {
		conds = append(conds, "NOT deleted")
	}

	query := `SELECT payload, version FROM teacher_invoices`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY year DESC, month DESC, created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []models.TeacherInvoice
	for rows.Next() {
		var payload []byte
		var version int64
		if err := rows.Scan(&payload, &version); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		var inv models.TeacherInvoice
		if err := json.Unmarshal(payload, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		inv.Version = version
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *Store) CountNumberedForPeriod(ctx context.Context, month, year int) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM teacher_invoices WHERE month = $1 AND year = $2 AND invoice_number <> ''`,
		month, year,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count numbered invoices for period: %w", err)
	}
	return count, nil
}

func (s *Store) CountPublishedForPeriod(ctx context.Context, month, year int) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM teacher_invoices
		 WHERE month = $1 AND year = $2 AND NOT deleted AND status IN ($3, $4)`,
		month, year, domain.InvoiceStatusPublished, domain.InvoiceStatusPaid,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count published invoices: %w", err)
	}
	return count, nil
}

func (s *Store) InsertInvoice(ctx context.Context, inv *models.TeacherInvoice) error {
	if inv.Version == 0 {
		inv.Version = 1
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encode invoice: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO teacher_invoices (id, teacher_id, month, year, status, invoice_number, is_adjustment, adjustment_for, deleted, payload, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inv.ID, inv.TeacherID, inv.Month, inv.Year, inv.Status, inv.InvoiceNumber,
		inv.IsAdjustment, inv.AdjustmentFor, inv.Deleted,
		payload, inv.Version, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("teacher %s already has an invoice for %d-%02d: %w",
				inv.TeacherID, inv.Year, inv.Month, domain.ErrConcurrencyConflict)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// UpdateInvoice persists the invoice only if its version matches the
// stored one, so two concurrent edits cannot clobber each other's ledger
// entries.
func (s *Store) UpdateInvoice(ctx context.Context, inv *models.TeacherInvoice) error {
	next := *inv
	next.Version = inv.Version + 1
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode invoice: %w", err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE teacher_invoices
		 SET status = $1, invoice_number = $2, deleted = $3, payload = $4, version = $5, updated_at = $6
		 WHERE id = $7 AND version = $8`,
		next.Status, next.InvoiceNumber, next.Deleted, payload, next.Version, next.UpdatedAt,
		inv.ID, inv.Version,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("invoice %s version %d is stale: %w", inv.ID, inv.Version, domain.ErrConcurrencyConflict)
	}
	inv.Version = next.Version
	return nil
}
