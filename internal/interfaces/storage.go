package interfaces

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// Sentinel errors shared by the storage implementations.
var (
	ErrNotFound        = errors.New("not found")
	ErrNoActiveChannel = errors.New("no active channel for calendar")
	ErrAlreadyClosed   = errors.New("workflow run already closed")
)

// TenantStorage manages tenant rows. Tenants must exist before any other row
// references them.
type TenantStorage interface {
	Ensure(ctx context.Context, id, name string) error
	Get(ctx context.Context, id string) (*models.Tenant, error)
}

// IntegrationStorage persists the per-tenant credential/config bags.
type IntegrationStorage interface {
	Get(ctx context.Context, tenantID string, kind models.IntegrationKind) (*models.Integration, error)
	Upsert(ctx context.Context, integration *models.Integration) error
	// SetConfigValue merges one key into the config map of (tenant, kind),
	// creating the row when absent.
	SetConfigValue(ctx context.Context, tenantID string, kind models.IntegrationKind, key, value string) error
	GetConfigValue(ctx context.Context, tenantID string, kind models.IntegrationKind, key string) (string, error)
}

// ChannelStorage manages push-channel rows and their lifecycle.
type ChannelStorage interface {
	Create(ctx context.Context, ch *models.PushChannel) error
	GetByChannelID(ctx context.Context, tenantID, channelID string) (*models.PushChannel, error)
	// GetActive returns the single active channel for (tenant, calendar).
	GetActive(ctx context.Context, tenantID, calendarID string) (*models.PushChannel, error)
	// ListExpiring returns active channels whose expiration falls before the
	// deadline, across all calendars of the tenant.
	ListExpiring(ctx context.Context, tenantID string, deadline time.Time) ([]*models.PushChannel, error)
	// SetSyncToken writes the sync token onto the currently-active channel
	// row for the calendar (last writer wins).
	SetSyncToken(ctx context.Context, tenantID, calendarID, syncToken string) error
	// SetSyncTokenByChannelID writes the token onto a specific row,
	// regardless of status. Used during watch start and replacement.
	SetSyncTokenByChannelID(ctx context.Context, tenantID, channelID, syncToken string) error
	MarkReplaced(ctx context.Context, tenantID, channelID string) error
	MarkStopped(ctx context.Context, tenantID, channelID string) error
	// Replace retires the old channel and inserts its successor in one
	// transaction; a concurrent reader never observes the calendar without
	// an active channel.
	Replace(ctx context.Context, tenantID, oldChannelID string, newChannel *models.PushChannel) error
	// DeleteRetiredBefore removes replaced/stopped rows older than the cutoff.
	DeleteRetiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DealStorage manages canonical deal rows. The upsert is idempotent on
// (tenant, calendar_id, event_id) and coalesces non-empty fields into the
// existing row.
type DealStorage interface {
	Upsert(ctx context.Context, deal *models.Deal) (*models.Deal, error)
	GetByEvent(ctx context.Context, tenantID, calendarID, eventID string) (*models.Deal, error)
	GetByTaskGID(ctx context.Context, tenantID, taskGID string) (*models.Deal, error)
	GetByID(ctx context.Context, tenantID, dealID string) (*models.Deal, error)
	SetTaskRecordGID(ctx context.Context, tenantID, dealID, taskGID string) error
	SetDocWorkspace(ctx context.Context, tenantID, dealID, docRootID string, docURLs map[string]string) error
	SetStage(ctx context.Context, tenantID, dealID string, stage models.StageKey) error
}

// TaskStateStorage tracks last-observed task placement. ObserveSection
// records the new observation and reports the previously stored section in
// the same transaction, so concurrent observers serialize on the row.
type TaskStateStorage interface {
	ObserveSection(ctx context.Context, tenantID, taskGID, projectGID, sectionGID, modifiedAt string) (previousSection string, err error)
	SetLastTriggeredStage(ctx context.Context, tenantID, taskGID, projectGID string, stage models.StageKey) error
	Get(ctx context.Context, tenantID, taskGID, projectGID string) (*models.TaskState, error)
}

// SectionStorage resolves provider section GIDs to stage keys.
type SectionStorage interface {
	Upsert(ctx context.Context, section *models.PipelineSection) error
	// ResolveStage returns the stage for an enabled section mapping, or
	// ok=false when the section is unmapped or disabled.
	ResolveStage(ctx context.Context, tenantID, sectionGID string) (stage models.StageKey, ok bool, err error)
	List(ctx context.Context, tenantID string) ([]*models.PipelineSection, error)
}

// IdempotencyStorage is the single-shot claim table. Claim returns true
// exactly once per key; row insertion is the admission decision.
type IdempotencyStorage interface {
	Claim(ctx context.Context, tenantID, key string) (claimed bool, err error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// WorkflowRunStorage manages run bookkeeping. Close is write-once: closing an
// already-terminal run affects zero rows and returns ErrAlreadyClosed.
type WorkflowRunStorage interface {
	Create(ctx context.Context, run *models.WorkflowRun) error
	Get(ctx context.Context, tenantID, runID string) (*models.WorkflowRun, error)
	Close(ctx context.Context, tenantID, runID string, status models.RunStatus, meta map[string]string) error
	// RequestCancelAll flips cancel_requested on every running run of the
	// deal and returns how many rows were touched.
	RequestCancelAll(ctx context.Context, tenantID, dealID string) (int64, error)
	IsCancelRequested(ctx context.Context, tenantID, runID string) (bool, error)
}

// KVStorage is a generic key/value table used by the secret store source.
type KVStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// StorageManager aggregates the per-entity storages over one shared pool.
type StorageManager interface {
	DB() *sql.DB
	Tenants() TenantStorage
	Integrations() IntegrationStorage
	Channels() ChannelStorage
	Deals() DealStorage
	TaskStates() TaskStateStorage
	Sections() SectionStorage
	Idempotency() IdempotencyStorage
	WorkflowRuns() WorkflowRunStorage
	KV() KVStorage
	Close() error
}
