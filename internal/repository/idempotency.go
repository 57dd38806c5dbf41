package repository

import (
	"context"
	"fmt"
)

// IdempotencyRecord mirrors one row of idempotency_keys.
type IdempotencyRecord struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
}

func (s *Store) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var status *int32
	var contentType *string
	err := s.db.QueryRow(ctx,
		`SELECT idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress
		 FROM idempotency_keys WHERE idempotency_key = $1`,
		key,
	).Scan(&rec.IdempotencyKey, &rec.RequestHash, &rec.Method, &rec.Path, &status, &rec.ResponseBody, &contentType, &rec.InProgress)
	if err != nil {
		return rec, err
	}
	if status != nil {
		rec.ResponseStatus = *status
	}
	if contentType != nil {
		rec.ContentType = *contentType
	}
	return rec, nil
}

// ReserveIdempotencyKey claims a key for processing. Returns false when the
// key already exists (someone else holds or finished it).
func (s *Store) ReserveIdempotencyKey(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress)
		 VALUES ($1, $2, $3, $4, TRUE)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		key, requestHash, method, path,
	)
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) FinalizeIdempotencyKey(ctx context.Context, key, requestHash string, status int32, body []byte, contentType string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := s.db.QueryRow(ctx,
		`UPDATE idempotency_keys
		 SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE, updated_at = NOW()
		 WHERE idempotency_key = $4 AND request_hash = $5
		 RETURNING idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress`,
		status, body, contentType, key, requestHash,
	).Scan(&rec.IdempotencyKey, &rec.RequestHash, &rec.Method, &rec.Path, &rec.ResponseStatus, &rec.ResponseBody, &rec.ContentType, &rec.InProgress)
	if err != nil {
		return rec, err
	}
	return rec, nil
}
