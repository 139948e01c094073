package storage

import (
	"database/sql"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
)

// Manager aggregates the per-entity storages over one shared pool.
type Manager struct {
	database     *Database
	tenants      *TenantStorage
	integrations *IntegrationStorage
	channels     *ChannelStorage
	deals        *DealStorage
	taskStates   *TaskStateStorage
	sections     *SectionStorage
	idempotency  *IdempotencyStorage
	workflowRuns *WorkflowRunStorage
	kv           *KVStorage
}

// NewManager opens the database and wires every storage over it.
func NewManager(config *common.DatabaseConfig, logger arbor.ILogger) (*Manager, error) {
	database, err := NewDatabase(config, logger)
	if err != nil {
		return nil, err
	}
	return newManagerWithDatabase(database, logger), nil
}

func newManagerWithDatabase(database *Database, logger arbor.ILogger) *Manager {
	db := database.DB()
	return &Manager{
		database:     database,
		tenants:      NewTenantStorage(db, logger),
		integrations: NewIntegrationStorage(db, logger),
		channels:     NewChannelStorage(db, logger),
		deals:        NewDealStorage(db, logger),
		taskStates:   NewTaskStateStorage(db, logger),
		sections:     NewSectionStorage(db, logger),
		idempotency:  NewIdempotencyStorage(db, logger),
		workflowRuns: NewWorkflowRunStorage(db, logger),
		kv:           NewKVStorage(db, logger),
	}
}

// DB returns the underlying pool.
func (m *Manager) DB() *sql.DB { return m.database.DB() }

// Tenants returns the tenant storage.
func (m *Manager) Tenants() interfaces.TenantStorage { return m.tenants }

// Integrations returns the integration storage.
func (m *Manager) Integrations() interfaces.IntegrationStorage { return m.integrations }

// Channels returns the push-channel storage.
func (m *Manager) Channels() interfaces.ChannelStorage { return m.channels }

// Deals returns the deal storage.
func (m *Manager) Deals() interfaces.DealStorage { return m.deals }

// TaskStates returns the task-state storage.
func (m *Manager) TaskStates() interfaces.TaskStateStorage { return m.taskStates }

// Sections returns the section-mapping storage.
func (m *Manager) Sections() interfaces.SectionStorage { return m.sections }

// Idempotency returns the idempotency-claim storage.
func (m *Manager) Idempotency() interfaces.IdempotencyStorage { return m.idempotency }

// WorkflowRuns returns the workflow-run storage.
func (m *Manager) WorkflowRuns() interfaces.WorkflowRunStorage { return m.workflowRuns }

// KV returns the key/value storage.
func (m *Manager) KV() interfaces.KVStorage { return m.kv }

// Close closes the pool.
func (m *Manager) Close() error { return m.database.Close() }
