package model

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates the lifecycle of an attempt.
type AttemptStatus string

const (
	AttemptStatusNotStarted AttemptStatus = "NOT_STARTED"
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
	AttemptStatusExpired    AttemptStatus = "EXPIRED"
)

// IsFinal reports whether the attempt has been scored and frozen.
func (s AttemptStatus) IsFinal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusExpired
}

// SectionPhase is the single tagged state of one section.
type SectionPhase string

const (
	SectionNotStarted SectionPhase = "NOT_STARTED"
	SectionActive     SectionPhase = "ACTIVE"
	SectionLocked     SectionPhase = "LOCKED"    // timed out
	SectionCompleted  SectionPhase = "COMPLETED" // explicitly advanced past
)

// SectionState tracks one section of an attempt. Phase only moves forward;
// the is_locked / is_completed flags on the wire are derived from it.
type SectionState struct {
	SectionKey       string       `json:"section_key"`
	Phase            SectionPhase `json:"phase"`
	StartedAt        *time.Time   `json:"started_at"`
	RemainingSeconds int          `json:"remaining_seconds"`
	CompletedAt      *time.Time   `json:"completed_at"`
}

// IsTerminal reports whether the section can no longer be written to.
func (s SectionState) IsTerminal() bool {
	return s.Phase == SectionLocked || s.Phase == SectionCompleted
}

// IsLocked mirrors IsTerminal; a completed section is locked as well.
func (s SectionState) IsLocked() bool { return s.IsTerminal() }

// IsCompleted mirrors IsTerminal; a timed-out section is completed as well.
func (s SectionState) IsCompleted() bool { return s.IsTerminal() }

// Start opens the section's clock. A section that already started keeps its
// original start instant.
func (s *SectionState) Start(now time.Time, durationSeconds int) {
	if s.Phase != SectionNotStarted {
		return
	}
	t := now
	s.StartedAt = &t
	s.Phase = SectionActive
	s.RemainingSeconds = durationSeconds
}

// Lock closes the section because its time ran out. No-op once terminal.
func (s *SectionState) Lock(now time.Time) {
	if s.IsTerminal() {
		return
	}
	t := now
	s.Phase = SectionLocked
	s.RemainingSeconds = 0
	s.CompletedAt = &t
}

// Complete closes the section because the candidate moved on. No-op once terminal.
func (s *SectionState) Complete(now time.Time) {
	if s.IsTerminal() {
		return
	}
	t := now
	s.Phase = SectionCompleted
	s.CompletedAt = &t
}

type sectionStateFields SectionState

// MarshalJSON adds the derived lock flags.
func (s SectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		sectionStateFields
		IsLocked    bool `json:"is_locked"`
		IsCompleted bool `json:"is_completed"`
	}{sectionStateFields(s), s.IsLocked(), s.IsCompleted()})
}

// Response is a candidate's stored answer to one question.
type Response struct {
	QuestionID        uuid.UUID `json:"question_id"`
	SelectedAnswer    Answer    `json:"selected_answer"`
	IsAnswered        bool      `json:"is_answered"`
	IsMarkedForReview bool      `json:"is_marked_for_review"`
	AnsweredAt        time.Time `json:"answered_at"`
}

// Attempt is one candidate's run through a test. It is the only mutable
// record in the engine and the unit of atomicity.
type Attempt struct {
	ID                   uuid.UUID      `json:"id"`
	UserID               string         `json:"user_id"`
	TestID               uuid.UUID      `json:"test_id"`
	SeriesID             *uuid.UUID     `json:"series_id,omitempty"`
	Status               AttemptStatus  `json:"status"`
	CurrentSectionKey    string         `json:"current_section_key"`
	CurrentSectionIndex  int            `json:"current_section_index"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	Sections             []SectionState `json:"section_states"`
	Responses            []Response     `json:"responses"`
	TotalScore           float64        `json:"total_score"`
	MaxScore             float64        `json:"max_score"`
	TimeTakenSeconds     int            `json:"time_taken_seconds"`
	Rank                 *int           `json:"rank,omitempty"`
	Percentile           *float64       `json:"percentile,omitempty"`
	Result               *Result        `json:"result,omitempty"`
	StartedAt            time.Time      `json:"started_at"`
	SubmittedAt          *time.Time     `json:"submitted_at,omitempty"`
	Version              int            `json:"version"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// CurrentSection returns the state of the section the candidate is on.
func (a *Attempt) CurrentSection() *SectionState {
	if a.CurrentSectionIndex < 0 || a.CurrentSectionIndex >= len(a.Sections) {
		return nil
	}
	return &a.Sections[a.CurrentSectionIndex]
}

// FindResponse returns the index of the response for a question, or -1.
func (a *Attempt) FindResponse(questionID uuid.UUID) int {
	for i := range a.Responses {
		if a.Responses[i].QuestionID == questionID {
			return i
		}
	}
	return -1
}

// ResponsesByQuestion indexes responses by question id.
func (a *Attempt) ResponsesByQuestion() map[string]Response {
	out := make(map[string]Response, len(a.Responses))
	for _, r := range a.Responses {
		out[r.QuestionID.String()] = r
	}
	return out
}

// Clone returns a deep copy so guards can work on a scratch record and the
// original stays untouched when a call is rejected.
func (a *Attempt) Clone() *Attempt {
	c := *a
	c.SeriesID = clonePtr(a.SeriesID)
	c.Rank = clonePtr(a.Rank)
	c.Percentile = clonePtr(a.Percentile)
	c.SubmittedAt = clonePtr(a.SubmittedAt)

	c.Sections = make([]SectionState, len(a.Sections))
	for i, s := range a.Sections {
		s.StartedAt = clonePtr(s.StartedAt)
		s.CompletedAt = clonePtr(s.CompletedAt)
		c.Sections[i] = s
	}

	c.Responses = make([]Response, len(a.Responses))
	for i, r := range a.Responses {
		r.SelectedAnswer = r.SelectedAnswer.clone()
		c.Responses[i] = r
	}

	if a.Result != nil {
		res := *a.Result
		res.Sections = slices.Clone(a.Result.Sections)
		res.Questions = slices.Clone(a.Result.Questions)
		c.Result = &res
	}
	return &c
}

func (a Answer) clone() Answer {
	return Answer{
		OptionIDs: slices.Clone(a.OptionIDs),
		Text:      clonePtr(a.Text),
		Numeric:   clonePtr(a.Numeric),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
