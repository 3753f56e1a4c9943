// Package engine holds the exam-attempt state machine. Every function is pure
// over an Attempt record, a read-only TestPaper and a server-supplied instant:
// there is no timer, no I/O and no state kept between calls.
package engine

import (
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Guard rejections. Callers map them onto the API error taxonomy.
var (
	ErrAttemptFinal        = errors.New("attempt is already submitted")
	ErrSectionLocked       = errors.New("section is locked")
	ErrSectionUnresolvable = errors.New("question cannot be resolved to a section")
	ErrInvalidNavigation   = errors.New("invalid section navigation")
	ErrUnknownQuestion     = errors.New("question is not part of this test")
	ErrInvalidAnswer       = errors.New("invalid answer")
	ErrMisaligned          = errors.New("attempt sections do not match the test")
)

// Engine evaluates attempts against one test paper. members lists each
// section's questions: declared ids first, then undeclared questions tagged
// with that section.
type Engine struct {
	test      *model.TestPaper
	questions map[uuid.UUID]*model.Question
	sectionOf map[uuid.UUID]string
	members   map[string][]uuid.UUID
	maxScore  float64
}

// New indexes the test paper. The paper is expected to have passed Validate.
// A question no section declares falls back to its own section tag.
func New(test *model.TestPaper) *Engine {
	e := &Engine{
		test:      test,
		questions: make(map[uuid.UUID]*model.Question, len(test.Questions)),
		sectionOf: make(map[uuid.UUID]string, len(test.Questions)),
		members:   make(map[string][]uuid.UUID, len(test.Sections)),
	}
	for i := range test.Questions {
		e.questions[test.Questions[i].ID] = &test.Questions[i]
	}
	for _, s := range test.Sections {
		for _, id := range s.QuestionIDs {
			if _, claimed := e.sectionOf[id]; claimed {
				continue
			}
			e.sectionOf[id] = s.Key
			e.members[s.Key] = append(e.members[s.Key], id)
		}
	}
	for _, q := range test.Questions {
		if _, claimed := e.sectionOf[q.ID]; claimed || test.SectionIndex(q.SectionKey) < 0 {
			continue
		}
		e.sectionOf[q.ID] = q.SectionKey
		e.members[q.SectionKey] = append(e.members[q.SectionKey], q.ID)
	}
	for _, ids := range e.members {
		for _, id := range ids {
			if q, ok := e.questions[id]; ok {
				e.maxScore += q.Marks.Positive
			}
		}
	}
	return e
}

// Test returns the paper the engine was built for.
func (e *Engine) Test() *model.TestPaper { return e.test }

// Aligned reports whether the attempt has exactly one state per test section,
// in test order.
func (e *Engine) Aligned(a *model.Attempt) error {
	if len(a.Sections) != len(e.test.Sections) {
		return ErrMisaligned
	}
	for i, s := range e.test.Sections {
		if a.Sections[i].SectionKey != s.Key {
			return ErrMisaligned
		}
	}
	if a.CurrentSectionIndex < 0 || a.CurrentSectionIndex >= len(a.Sections) {
		return ErrMisaligned
	}
	return nil
}

func (e *Engine) duration(idx int) int {
	return e.test.Sections[idx].DurationSeconds
}
