package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// TenantStorage persists tenant rows.
type TenantStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewTenantStorage creates a tenant storage instance.
func NewTenantStorage(db *sql.DB, logger arbor.ILogger) *TenantStorage {
	return &TenantStorage{db: db, logger: logger}
}

// Ensure inserts the tenant if it does not exist.
func (s *TenantStorage) Ensure(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		id, name, time.Now().UnixMilli())
	return err
}

// Get returns the tenant or interfaces.ErrNotFound.
func (s *TenantStorage) Get(ctx context.Context, id string) (*models.Tenant, error) {
	var (
		t         models.Tenant
		createdMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &createdMS)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt = time.UnixMilli(createdMS)
	return &t, nil
}
