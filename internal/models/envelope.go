package models

import (
	"encoding/json"
	"fmt"
)

// Job types routed by the worker dispatcher. The set is closed; an envelope
// carrying anything else is a non-retryable 400.
const (
	JobTypeCalendarSync  = "CALENDAR_SYNC"
	JobTypeTasksProcess  = "TASKS_PROCESS"
	JobTypeStageAction   = "STAGE_ACTION"
	JobTypeResearchAgent = "RESEARCH_AGENT"
	JobTypeResearchBatch = "RESEARCH_BATCH"
	JobTypeMemoGenerate  = "MEMO_GENERATE"
)

// JobTypes lists every routable job type.
var JobTypes = []string{
	JobTypeCalendarSync,
	JobTypeTasksProcess,
	JobTypeStageAction,
	JobTypeResearchAgent,
	JobTypeResearchBatch,
	JobTypeMemoGenerate,
}

// KnownJobType reports whether t is in the closed job-type set.
func KnownJobType(t string) bool {
	for _, jt := range JobTypes {
		if jt == t {
			return true
		}
	}
	return false
}

// Envelope is the on-wire queue message. The ingress and worker handlers
// exchange exactly this shape; the queue treats the payload as opaque.
type Envelope struct {
	JobType        string          `json:"jobType" validate:"required"`
	TenantID       string          `json:"tenantId" validate:"required,uuid"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// NewEnvelope marshals a typed payload into an envelope.
func NewEnvelope(jobType, tenantID string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", jobType, err)
	}
	return &Envelope{
		JobType:  jobType,
		TenantID: tenantID,
		Payload:  data,
	}, nil
}

// DecodePayload unmarshals the envelope payload into out.
func (e *Envelope) DecodePayload(out interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope %s has no payload", e.JobType)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.JobType, err)
	}
	return nil
}

// CalendarSyncPayload triggers an incremental (or full) calendar sync.
type CalendarSyncPayload struct {
	CalendarID string `json:"calendarId"`
	ChannelID  string `json:"channelId"`
}

// TasksProcessPayload carries one task-webhook event into the state-change
// detector.
type TasksProcessPayload struct {
	TaskGID    string `json:"taskGid"`
	ProjectGID string `json:"projectGid"`
	Action     string `json:"action"`
}

// StageActionPayload drives the stage state machine.
type StageActionPayload struct {
	TaskGID       string   `json:"taskGid"`
	SectionGID    string   `json:"sectionGid"`
	StageKey      StageKey `json:"stageKey"`
	ModifiedAt    string   `json:"modifiedAt"` // ISO 8601, part of the idempotency key
	PreviousStage StageKey `json:"previousStage,omitempty"`
}

// ResearchBatchPayload fans out the six research agents for a run.
type ResearchBatchPayload struct {
	RunID   string `json:"runId"`
	DealID  string `json:"dealId"`
	Company string `json:"company"`
	Founder string `json:"founder"`
	Context string `json:"context,omitempty"`
}

// ResearchAgentPayload runs a single research agent, used for targeted
// re-runs of one section.
type ResearchAgentPayload struct {
	RunID    string `json:"runId"`
	DealID   string `json:"dealId"`
	AgentKey string `json:"agentKey"`
	Company  string `json:"company"`
	Founder  string `json:"founder"`
	Context  string `json:"context,omitempty"`
}

// MemoGeneratePayload synthesizes the investment memo for a run.
type MemoGeneratePayload struct {
	RunID   string `json:"runId"`
	DealID  string `json:"dealId"`
	Company string `json:"company"`
	Founder string `json:"founder"`
	Context string `json:"context,omitempty"`
}

// Idempotency key composers. The literal formats are part of the external
// contract; housekeeping expires claims after seven days.
func CalendarPingKey(channelID, messageNumber string) string {
	return fmt.Sprintf("calendar_ping:%s:%s", channelID, messageNumber)
}

func TasksEventKey(webhookGID, createdAt, resourceGID, action string) string {
	return fmt.Sprintf("tasks_evt:%s:%s:%s:%s", webhookGID, createdAt, resourceGID, action)
}

func StageActionKey(taskGID, sectionGID, modifiedAt string) string {
	return fmt.Sprintf("stage:%s:%s:%s", taskGID, sectionGID, modifiedAt)
}
