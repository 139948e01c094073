package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/ternarybob/arbor"
)

// IdempotencyStorage is the single-shot claim table. Row insertion is the
// admission decision: the first writer of a key wins, everyone else sees a
// conflict and drops the work.
type IdempotencyStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewIdempotencyStorage creates an idempotency storage instance.
func NewIdempotencyStorage(db *sql.DB, logger arbor.ILogger) *IdempotencyStorage {
	return &IdempotencyStorage{db: db, logger: logger}
}

// Claim attempts to insert the key. Returns true exactly once per key across
// all processes sharing the store.
func (s *IdempotencyStorage) Claim(ctx context.Context, tenantID, key string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, tenant_id, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO NOTHING`,
		key, tenantID, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteOlderThan prunes keys created before the cutoff. Returns the number
// of rows deleted.
func (s *IdempotencyStorage) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < $1`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
