package model

import "encoding/json"

// StartAttemptRequest is the payload for starting or resuming an attempt.
type StartAttemptRequest struct {
	EntryCode string `json:"entry_code" binding:"omitempty,max=64"`
}

// SaveResponseRequest is the payload for writing one answer.
type SaveResponseRequest struct {
	QuestionID      string          `json:"question_id" binding:"required,uuid"`
	SelectedAnswer  json.RawMessage `json:"selected_answer"`
	MarkedForReview bool            `json:"marked_for_review"`
}

// ClientPosition is where the client believes the candidate is.
type ClientPosition struct {
	SectionKey    string `json:"section_key" binding:"required,section_key"`
	QuestionIndex int    `json:"question_index" binding:"min=0"`
}

// ClientSectionState is the client's locally held view of a section timer.
// It is only ever compared against server truth, never stored.
type ClientSectionState struct {
	SectionKey       string `json:"section_key" binding:"required,section_key"`
	RemainingSeconds int    `json:"remaining_seconds"`
	IsLocked         bool   `json:"is_locked"`
}

// SyncRequest is the heartbeat payload.
type SyncRequest struct {
	Position  ClientPosition        `json:"position"`
	Sections  []ClientSectionState  `json:"section_states" binding:"omitempty,max=64,dive"`
	Responses []SaveResponseRequest `json:"responses" binding:"omitempty,max=200,dive"`
}

// TransitionRequest moves from one section to the next; a null target finishes the test.
type TransitionRequest struct {
	From string  `json:"from_section_key" binding:"required,section_key"`
	To   *string `json:"to_section_key" binding:"omitempty,section_key"`
}
