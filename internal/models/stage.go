package models

// StageKey identifies one of the five logical pipeline phases. Stage keys are
// the input alphabet of the deal state machine.
type StageKey string

const (
	StageFirstMeeting StageKey = "FIRST_MEETING"
	StageInDiligence  StageKey = "IN_DILIGENCE"
	StageICReview     StageKey = "IC_REVIEW"
	StagePass         StageKey = "PASS"
	StageArchive      StageKey = "ARCHIVE"
)

// AllStages lists every valid stage key.
var AllStages = []StageKey{
	StageFirstMeeting,
	StageInDiligence,
	StageICReview,
	StagePass,
	StageArchive,
}

// Valid reports whether s is one of the five pipeline stages.
func (s StageKey) Valid() bool {
	switch s {
	case StageFirstMeeting, StageInDiligence, StageICReview, StagePass, StageArchive:
		return true
	}
	return false
}

// Terminal reports whether the stage ends active work on a deal.
func (s StageKey) Terminal() bool {
	return s == StagePass || s == StageArchive
}

// Title returns the human-readable stage name written to documents.
func (s StageKey) Title() string {
	switch s {
	case StageFirstMeeting:
		return "First Meeting"
	case StageInDiligence:
		return "In Diligence"
	case StageICReview:
		return "IC Review"
	case StagePass:
		return "Pass"
	case StageArchive:
		return "Archive"
	}
	return string(s)
}
