package models

import "time"

// TaskState is the last-observed placement of a task inside the pipeline
// project. The worker that last observed the task owns the row. Comparing the
// stored section against the provider's current section collapses the
// task-webhook firehose down to actual stage transitions.
type TaskState struct {
	TenantID                string    `json:"tenant_id"`
	TaskGID                 string    `json:"task_gid"`
	ProjectGID              string    `json:"project_gid"`
	LastSeenSectionGID      string    `json:"last_seen_section_gid"`
	LastProcessedModifiedAt string    `json:"last_processed_modified_at"` // Provider timestamp, ISO 8601
	LastTriggeredStage      StageKey  `json:"last_triggered_stage"`
	UpdatedAt               time.Time `json:"updated_at"`
}
