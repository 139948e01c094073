package models

import "time"

// IntegrationKind names a per-tenant provider credential bag.
type IntegrationKind string

const (
	IntegrationCalendar IntegrationKind = "calendar"
	IntegrationTasks    IntegrationKind = "tasks"
	IntegrationDocs     IntegrationKind = "docs"
	IntegrationLLM      IntegrationKind = "llm"
)

// Integration holds per-tenant credentials and provider configuration as an
// opaque map. (tenant, kind) is unique.
type Integration struct {
	TenantID  string            `json:"tenant_id"`
	Kind      IntegrationKind   `json:"kind"`
	Config    map[string]string `json:"config"`
	UpdatedAt time.Time         `json:"updated_at"`
}
