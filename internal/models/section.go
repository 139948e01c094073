package models

// PipelineSection maps a task-provider section GID to a logical stage key.
// Only enabled rows participate in stage resolution.
type PipelineSection struct {
	TenantID   string   `json:"tenant_id"`
	SectionGID string   `json:"section_gid"`
	StageKey   StageKey `json:"stage_key"`
	Enabled    bool     `json:"enabled"`
}
