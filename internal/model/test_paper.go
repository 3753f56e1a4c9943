package model

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// TestStatus enumerates the publication states of a test paper.
type TestStatus string

const (
	TestStatusDraft     TestStatus = "DRAFT"
	TestStatusPublished TestStatus = "PUBLISHED"
	TestStatusArchived  TestStatus = "ARCHIVED"
)

// AccessMode controls who may start an attempt against a test.
type AccessMode string

const (
	AccessOpen     AccessMode = "open"
	AccessEnrolled AccessMode = "enrolled"
)

// TestPaper is the read-only definition an attempt runs against.
// It is immutable for the lifetime of any attempt referencing it.
type TestPaper struct {
	ID            uuid.UUID    `json:"id"`
	SeriesID      *uuid.UUID   `json:"series_id,omitempty"`
	Title         string       `json:"title"`
	Status        TestStatus   `json:"status"`
	Access        AccessMode   `json:"access"`
	EntryCodeHash string       `json:"entry_code_hash,omitempty"`
	Instructions  Instructions `json:"instructions"`
	Sections      []Section    `json:"sections"`
	Questions     []Question   `json:"questions"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Section is one timed block of a test.
type Section struct {
	Key             string      `json:"key"`
	Title           string      `json:"title"`
	DurationSeconds int         `json:"duration_seconds"`
	QuestionIDs     []uuid.UUID `json:"question_ids"`
}

// SectionKeyPattern is the shape every section key must have.
var SectionKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// Test paper validation errors. They are authoring-time errors surfaced to the
// test-management side; an attempt can never start against an invalid paper.
var (
	ErrNoSections          = errors.New("test has no sections")
	ErrDuplicateSection    = errors.New("duplicate section key")
	ErrInvalidSectionKey   = errors.New("section key must be 1-64 letters, digits, '-' or '_'")
	ErrInvalidDuration     = errors.New("section duration must be positive")
	ErrEmptySection        = errors.New("section has no questions")
	ErrUnassignedQuestion  = errors.New("question is not assigned to any section")
	ErrQuestionReassigned  = errors.New("question is assigned to more than one section")
	ErrUnknownQuestionRef  = errors.New("section references unknown question")
	ErrUnknownSectionTag   = errors.New("question tagged with unknown section")
	ErrInvalidAnswerKey    = errors.New("answer key does not fit question type")
	ErrInvalidQuestionType = errors.New("unknown question type")
)

// SectionIndex returns the position of the section with the given key, or -1.
func (t *TestPaper) SectionIndex(key string) int {
	for i := range t.Sections {
		if t.Sections[i].Key == key {
			return i
		}
	}
	return -1
}

// Question returns the question with the given id.
func (t *TestPaper) Question(id uuid.UUID) (*Question, bool) {
	for i := range t.Questions {
		if t.Questions[i].ID == id {
			return &t.Questions[i], true
		}
	}
	return nil, false
}

// AssignTaggedQuestions appends questions that carry their own section tag to
// that section's declared list when the section does not already list them.
// Questions without a tag are left alone; Validate reports them.
func (t *TestPaper) AssignTaggedQuestions() {
	listed := make(map[uuid.UUID]bool)
	for _, s := range t.Sections {
		for _, id := range s.QuestionIDs {
			listed[id] = true
		}
	}
	for _, q := range t.Questions {
		if q.SectionKey == "" || listed[q.ID] {
			continue
		}
		if idx := t.SectionIndex(q.SectionKey); idx >= 0 {
			t.Sections[idx].QuestionIDs = append(t.Sections[idx].QuestionIDs, q.ID)
			listed[q.ID] = true
		}
	}
}

// Validate checks that the paper is complete enough to run an attempt against:
// every question resolves to exactly one section, and every section is timed
// and non-empty.
func (t *TestPaper) Validate() error {
	if len(t.Sections) == 0 {
		return ErrNoSections
	}

	questions := make(map[uuid.UUID]*Question, len(t.Questions))
	for i := range t.Questions {
		q := &t.Questions[i]
		if err := q.Validate(); err != nil {
			return fmt.Errorf("question %s: %w", q.ID, err)
		}
		questions[q.ID] = q
	}

	owner := make(map[uuid.UUID]string, len(t.Questions))
	seen := make(map[string]bool, len(t.Sections))
	for _, s := range t.Sections {
		if !SectionKeyPattern.MatchString(s.Key) {
			return fmt.Errorf("%w: %q", ErrInvalidSectionKey, s.Key)
		}
		if seen[s.Key] {
			return fmt.Errorf("%w: %s", ErrDuplicateSection, s.Key)
		}
		seen[s.Key] = true
		if s.DurationSeconds <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidDuration, s.Key)
		}
		if len(s.QuestionIDs) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptySection, s.Key)
		}
		for _, id := range s.QuestionIDs {
			if _, ok := questions[id]; !ok {
				return fmt.Errorf("%w: %s in %s", ErrUnknownQuestionRef, id, s.Key)
			}
			if prev, ok := owner[id]; ok && prev != s.Key {
				return fmt.Errorf("%w: %s", ErrQuestionReassigned, id)
			}
			owner[id] = s.Key
		}
	}

	for _, q := range t.Questions {
		if q.SectionKey != "" && !seen[q.SectionKey] {
			return fmt.Errorf("%w: %s on %s", ErrUnknownSectionTag, q.SectionKey, q.ID)
		}
		if _, ok := owner[q.ID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnassignedQuestion, q.ID)
		}
	}
	return nil
}

// TestPayload is the candidate-facing view of a test (no answer keys).
type TestPayload struct {
	ID           uuid.UUID            `json:"id"`
	SeriesID     *uuid.UUID           `json:"series_id,omitempty"`
	Title        string               `json:"title"`
	Instructions Instructions         `json:"instructions"`
	Sections     []Section            `json:"sections"`
	Questions    []QuestionForStudent `json:"questions"`
}

// Payload strips answer keys and explanations from the paper.
func (t *TestPaper) Payload() *TestPayload {
	qs := make([]QuestionForStudent, len(t.Questions))
	for i, q := range t.Questions {
		qs[i] = QuestionForStudent{
			ID:           q.ID,
			SectionKey:   q.SectionKey,
			QuestionType: q.QuestionType,
			QuestionText: q.QuestionText,
			Options:      q.Options,
			OrderNum:     q.OrderNum,
			Marks:        q.Marks,
		}
	}
	return &TestPayload{
		ID:           t.ID,
		SeriesID:     t.SeriesID,
		Title:        t.Title,
		Instructions: t.Instructions,
		Sections:     t.Sections,
		Questions:    qs,
	}
}
