package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// IntegrationStorage persists per-tenant provider configuration bags. The
// config map is stored as JSON text.
type IntegrationStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewIntegrationStorage creates an integration storage instance.
func NewIntegrationStorage(db *sql.DB, logger arbor.ILogger) *IntegrationStorage {
	return &IntegrationStorage{db: db, logger: logger}
}

// Get returns the integration row or interfaces.ErrNotFound.
func (s *IntegrationStorage) Get(ctx context.Context, tenantID string, kind models.IntegrationKind) (*models.Integration, error) {
	var (
		configJSON string
		updatedMS  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT config, updated_at FROM integrations WHERE tenant_id = $1 AND kind = $2`,
		tenantID, string(kind)).
		Scan(&configJSON, &updatedMS)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	integration := &models.Integration{
		TenantID:  tenantID,
		Kind:      kind,
		Config:    map[string]string{},
		UpdatedAt: time.UnixMilli(updatedMS),
	}
	if err := json.Unmarshal([]byte(configJSON), &integration.Config); err != nil {
		return nil, fmt.Errorf("failed to decode integration config: %w", err)
	}
	return integration, nil
}

// Upsert replaces the whole config bag for (tenant, kind).
func (s *IntegrationStorage) Upsert(ctx context.Context, integration *models.Integration) error {
	config := integration.Config
	if config == nil {
		config = map[string]string{}
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode integration config: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO integrations (tenant_id, kind, config, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, kind) DO UPDATE SET
			config = excluded.config,
			updated_at = excluded.updated_at`,
		integration.TenantID, string(integration.Kind), string(configJSON), time.Now().UnixMilli())
	return err
}

// SetConfigValue merges one key into the config map, creating the row when
// absent. Runs in a transaction so concurrent writers do not drop each
// other's keys.
func (s *IntegrationStorage) SetConfigValue(ctx context.Context, tenantID string, kind models.IntegrationKind, key, value string) error {
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		config := map[string]string{}
		var configJSON string
		err := tx.QueryRowContext(ctx,
			`SELECT config FROM integrations WHERE tenant_id = $1 AND kind = $2`,
			tenantID, string(kind)).Scan(&configJSON)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil {
			if decErr := json.Unmarshal([]byte(configJSON), &config); decErr != nil {
				return fmt.Errorf("failed to decode integration config: %w", decErr)
			}
		}

		config[key] = value
		merged, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to encode integration config: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO integrations (tenant_id, kind, config, updated_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (tenant_id, kind) DO UPDATE SET
				config = excluded.config,
				updated_at = excluded.updated_at`,
			tenantID, string(kind), string(merged), time.Now().UnixMilli())
		return err
	})
}

// GetConfigValue returns one key from the config map, or interfaces.ErrNotFound
// when either the row or the key is missing.
func (s *IntegrationStorage) GetConfigValue(ctx context.Context, tenantID string, kind models.IntegrationKind, key string) (string, error) {
	integration, err := s.Get(ctx, tenantID, kind)
	if err != nil {
		return "", err
	}
	value, ok := integration.Config[key]
	if !ok {
		return "", interfaces.ErrNotFound
	}
	return value, nil
}
