package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
)

// KVStorage is a generic key/value table. The database-backed secret source
// reads from it, which keeps local development free of cloud secret managers.
type KVStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewKVStorage creates a key/value storage instance.
func NewKVStorage(db *sql.DB, logger arbor.ILogger) *KVStorage {
	return &KVStorage{db: db, logger: logger}
}

// Get returns the stored value or interfaces.ErrNotFound.
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_pairs WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", interfaces.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set inserts or replaces the value.
func (s *KVStorage) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_pairs (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Delete removes the key. Deleting a missing key is not an error.
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_pairs WHERE key = $1`, key)
	return err
}
