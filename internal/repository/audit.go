package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tutorlane/payroll-engine/internal/models"
)

func (s *Store) InsertAuditEntry(ctx context.Context, e *models.AuditLogEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_log (id, action, entity_type, entity_id, actor, actor_role, before_state, after_state, diff, reason, success, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.Action, e.EntityType, e.EntityID, e.Actor, e.ActorRole,
		nullableJSON(e.Before), nullableJSON(e.After), nullableJSON(e.Diff),
		e.Reason, e.Success, e.ErrorMessage, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

const auditColumns = `id, action, entity_type, entity_id, actor, actor_role, before_state, after_state, diff, reason, success, error_message, created_at`

func (s *Store) AuditByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_log
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		entityType, entityID, normalizeLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("audit by entity: %w", err)
	}
	return scanAuditRows(rows)
}

func (s *Store) AuditByActor(ctx context.Context, actor string, limit, offset int) ([]models.AuditLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_log
		 WHERE actor = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		actor, normalizeLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("audit by actor: %w", err)
	}
	return scanAuditRows(rows)
}

func (s *Store) SearchAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditLogEntry, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.EntityType != "" {
		conds = append(conds, "entity_type = "+arg(f.EntityType))
	}
	if f.EntityID != "" {
		conds = append(conds, "entity_id = "+arg(f.EntityID))
	}
	if f.Actor != "" {
		conds = append(conds, "actor = "+arg(f.Actor))
	}
	if f.Action != "" {
		conds = append(conds, "action = "+arg(f.Action))
	}
	if f.From != nil {
		conds = append(conds, "created_at >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at < "+arg(*f.To))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT " + arg(normalizeLimit(f.Limit)) + " OFFSET " + arg(f.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search audit: %w", err)
	}
	return scanAuditRows(rows)
}

func (s *Store) AuditStatistics(ctx context.Context, from, to time.Time) (*models.AuditStatistics, error) {
	stats := &models.AuditStatistics{
		ByAction:     map[string]int64{},
		ByEntityType: map[string]int64{},
		From:         from,
		To:           to,
	}

	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE success),
		        COUNT(*) FILTER (WHERE NOT success)
		 FROM audit_log WHERE created_at >= $1 AND created_at < $2`,
		from, to,
	).Scan(&stats.Total, &stats.Succeeded, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("audit statistics totals: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT action, COUNT(*) FROM audit_log
		 WHERE created_at >= $1 AND created_at < $2 GROUP BY action`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("audit statistics by action: %w", err)
	}
	if err := scanCountRows(rows, stats.ByAction); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(ctx,
		`SELECT entity_type, COUNT(*) FROM audit_log
		 WHERE created_at >= $1 AND created_at < $2 GROUP BY entity_type`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("audit statistics by entity type: %w", err)
	}
	if err := scanCountRows(rows, stats.ByEntityType); err != nil {
		return nil, err
	}

	return stats, nil
}

func scanAuditRows(rows pgx.Rows) ([]models.AuditLogEntry, error) {
	defer rows.Close()

	var out []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var before, after, diff []byte
		var reason, errMsg *string
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &e.Actor, &e.ActorRole,
			&before, &after, &diff, &reason, &e.Success, &errMsg, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Before = before
		e.After = after
		e.Diff = diff
		if reason != nil {
			e.Reason = *reason
		}
		if errMsg != nil {
			e.ErrorMessage = *errMsg
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanCountRows(rows pgx.Rows, into map[string]int64) error {
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan audit count: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
