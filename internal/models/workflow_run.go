package models

import "time"

// RunStatus is the workflow-run lifecycle state. The transition out of
// "running" is write-once; a run observed terminal never transitions again.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Terminal reports whether the status ends the run.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCanceled
}

// WorkflowRun is one attempt of stage-driven orchestration on a deal. The
// stage handler creates it; only that run, or an explicit cancellation
// request flipping CancelRequested, mutates it afterwards.
type WorkflowRun struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	DealID          string            `json:"deal_id"`
	Stage           StageKey          `json:"stage"`
	Status          RunStatus         `json:"status"`
	CancelRequested bool              `json:"cancel_requested"`
	Meta            map[string]string `json:"meta,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
}
