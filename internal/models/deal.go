package models

import "time"

// Deal is the canonical per-opportunity record linking the external systems:
// the originating calendar event, the pipeline task and the document
// workspace. (tenant, calendar_id, event_id) is unique; deals are never
// deleted, only archived by stage.
type Deal struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	CalendarID    string            `json:"calendar_id"`
	EventID       string            `json:"event_id"`
	Company       string            `json:"company"`
	Founder       string            `json:"founder"`
	TaskRecordGID string            `json:"task_record_gid"` // Pipeline task; presence guards re-materialization
	DocRootID     string            `json:"doc_root_id"`
	DocURLs       map[string]string `json:"doc_urls"` // Page key (meeting_notes, research, ...) -> URL
	CurrentStage  StageKey          `json:"current_stage"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Doc page keys used in Deal.DocURLs. Root plus the five child pages created
// at materialization.
const (
	DocPageRoot         = "root"
	DocPageMeetingNotes = "meeting_notes"
	DocPageResearch     = "research"
	DocPageRisks        = "risks"
	DocPageFollowUps    = "follow_ups"
	DocPageMemo         = "memo"
)

// ChildDocPages lists the child pages in creation order.
var ChildDocPages = []struct {
	Key   string
	Title string
}{
	{DocPageMeetingNotes, "Meeting Notes"},
	{DocPageResearch, "Research"},
	{DocPageRisks, "Risks"},
	{DocPageFollowUps, "Follow-ups"},
	{DocPageMemo, "Memo"},
}
