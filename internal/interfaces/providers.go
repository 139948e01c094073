package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/models"
)

// ErrSyncTokenExpired is returned by ListEvents when the provider rejects the
// sync token (HTTP 410); the caller falls back to a full sync.
var ErrSyncTokenExpired = errors.New("sync token expired")

// CalendarEvent is the subset of a provider event the pipeline reads.
type CalendarEvent struct {
	ID          string
	Status      string // "confirmed", "tentative", "cancelled"
	Summary     string
	Description string
	Start       time.Time
	Attendees   []CalendarAttendee
}

// CalendarAttendee is one event participant.
type CalendarAttendee struct {
	Email       string
	DisplayName string
	Self        bool // The authenticated calendar owner
}

// EventPage is one page of a sync enumeration.
type EventPage struct {
	Events        []CalendarEvent
	NextPageToken string // Non-empty while more pages remain
	NextSyncToken string // Set on the final page
}

// ListEventsOptions selects incremental vs. windowed full sync.
type ListEventsOptions struct {
	SyncToken string    // Incremental cursor; empty means full sync
	PageToken string    // Pagination within one enumeration
	Since     time.Time // Full-sync window start (ignored with SyncToken)
	PageSize  int
}

// WatchInfo describes a created push channel.
type WatchInfo struct {
	ChannelID    string
	ResourceID   string
	ExpirationMS int64
}

// CalendarClient is the calendar provider surface the core depends on.
type CalendarClient interface {
	Watch(ctx context.Context, calendarID, channelID, token, address string) (*WatchInfo, error)
	StopWatch(ctx context.Context, channelID, resourceID string) error
	ListEvents(ctx context.Context, calendarID string, opts ListEventsOptions) (*EventPage, error)
}

// TaskMembership is a task's placement inside one project.
type TaskMembership struct {
	ProjectGID string
	SectionGID string
}

// TaskRecord is the subset of a provider task the pipeline reads.
type TaskRecord struct {
	GID         string
	Name        string
	Notes       string
	Completed   bool
	ModifiedAt  string // Provider timestamp, ISO 8601
	Memberships []TaskMembership
}

// NewTaskRequest creates a task inside a project section.
type NewTaskRequest struct {
	ProjectGID string
	SectionGID string
	Name       string
	Notes      string
}

// WebhookInfo describes a registered task-provider webhook.
type WebhookInfo struct {
	GID      string
	Resource string
	Target   string
}

// TasksClient is the task-manager provider surface the core depends on.
type TasksClient interface {
	GetTask(ctx context.Context, taskGID string) (*TaskRecord, error)
	CreateTask(ctx context.Context, req *NewTaskRequest) (*TaskRecord, error)
	CreateSubtask(ctx context.Context, parentGID, name, notes string) (*TaskRecord, error)
	UpdateTaskNotes(ctx context.Context, taskGID, notes string) error
	CompleteTask(ctx context.Context, taskGID string) error
	CreateWebhook(ctx context.Context, resourceGID, target string) (*WebhookInfo, error)
	DeleteWebhook(ctx context.Context, webhookGID string) error
}

// DocPage describes a created document page.
type DocPage struct {
	ID    string
	Title string
	URL   string
}

// DocsClient is the document provider surface the core depends on. The
// markdown-to-block translation happens before this boundary; the client only
// moves blocks.
type DocsClient interface {
	CreatePage(ctx context.Context, parentID, title string) (*DocPage, error)
	AppendBlocks(ctx context.Context, pageID string, blocks []models.DocBlock) error
	GetPageText(ctx context.Context, pageID string) (string, error)
	// ClearPage removes all existing blocks from a page (placeholder cleanup
	// before a research batch writes output).
	ClearPage(ctx context.Context, pageID string) error
}
