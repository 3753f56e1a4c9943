package engine

import (
	"fmt"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

// Init lays out one state per test section, in test order, and starts the
// first section's clock.
func (e *Engine) Init(a *model.Attempt, now time.Time) {
	a.Sections = make([]model.SectionState, len(e.test.Sections))
	for i, s := range e.test.Sections {
		a.Sections[i] = model.SectionState{
			SectionKey:       s.Key,
			Phase:            model.SectionNotStarted,
			RemainingSeconds: s.DurationSeconds,
		}
	}
	a.Sections[0].Start(now, e.duration(0))

	a.Status = model.AttemptStatusInProgress
	a.CurrentSectionIndex = 0
	a.CurrentSectionKey = e.test.Sections[0].Key
	a.CurrentQuestionIndex = 0
	a.StartedAt = now
	a.MaxScore = e.maxScore
	a.Responses = []model.Response{}
}

// Transition moves the candidate from the current section to the one right
// after it, or finishes the attempt when to is nil. Moving back is allowed
// only into a section that is still open, and never touches its clock.
func (e *Engine) Transition(a *model.Attempt, from string, to *string, now time.Time) error {
	if a.Status.IsFinal() {
		return ErrAttemptFinal
	}
	e.Refresh(a, now)
	if a.Status.IsFinal() {
		return ErrAttemptFinal
	}

	fromIdx := e.test.SectionIndex(from)
	if fromIdx < 0 {
		return fmt.Errorf("%w: unknown section %q", ErrInvalidNavigation, from)
	}
	if fromIdx != a.CurrentSectionIndex {
		return fmt.Errorf("%w: %q is not the current section", ErrInvalidNavigation, from)
	}

	if to == nil {
		a.Sections[fromIdx].Complete(now)
		e.finalize(a, model.AttemptStatusCompleted, now)
		return nil
	}

	toIdx := e.test.SectionIndex(*to)
	switch {
	case toIdx < 0:
		return fmt.Errorf("%w: unknown section %q", ErrInvalidNavigation, *to)
	case toIdx <= fromIdx:
		return e.moveBack(a, toIdx)
	case toIdx > fromIdx+1:
		return fmt.Errorf("%w: %q is ahead of the next section", ErrInvalidNavigation, *to)
	}

	target := &a.Sections[toIdx]
	if target.IsTerminal() {
		return fmt.Errorf("%w: section %q is closed", ErrInvalidNavigation, *to)
	}
	a.Sections[fromIdx].Complete(now)
	target.Start(now, e.duration(toIdx))
	a.CurrentSectionIndex = toIdx
	a.CurrentSectionKey = target.SectionKey
	a.CurrentQuestionIndex = 0
	return nil
}

func (e *Engine) moveBack(a *model.Attempt, idx int) error {
	s := a.Sections[idx]
	if s.IsTerminal() || s.Phase == model.SectionNotStarted {
		return fmt.Errorf("%w: section %q is closed", ErrInvalidNavigation, s.SectionKey)
	}
	if idx != a.CurrentSectionIndex {
		a.CurrentSectionIndex = idx
		a.CurrentSectionKey = s.SectionKey
		a.CurrentQuestionIndex = 0
	}
	return nil
}

// Navigate accepts a client-reported position when it is the current section
// or an open section behind it. The current section is accepted even after it
// locked so a client can still see its final state.
func (e *Engine) Navigate(a *model.Attempt, pos model.ClientPosition) error {
	idx := e.test.SectionIndex(pos.SectionKey)
	switch {
	case idx < 0:
		return fmt.Errorf("%w: unknown section %q", ErrInvalidNavigation, pos.SectionKey)
	case idx > a.CurrentSectionIndex:
		return fmt.Errorf("%w: section %q is not open yet", ErrInvalidNavigation, pos.SectionKey)
	case idx < a.CurrentSectionIndex:
		if err := e.moveBack(a, idx); err != nil {
			return err
		}
	}

	if pos.QuestionIndex < 0 || pos.QuestionIndex >= len(e.members[pos.SectionKey]) {
		return fmt.Errorf("%w: question index %d out of range", ErrInvalidNavigation, pos.QuestionIndex)
	}
	a.CurrentQuestionIndex = pos.QuestionIndex
	return nil
}

// Submit finalizes an in-progress attempt. It returns false when the attempt
// was already final before the call, so the stored result must be reused.
func (e *Engine) Submit(a *model.Attempt, now time.Time) bool {
	if a.Status.IsFinal() {
		return false
	}
	if e.Refresh(a, now) && a.Status.IsFinal() {
		return true
	}
	e.finalize(a, model.AttemptStatusCompleted, now)
	return true
}

// finalize closes every open section, scores the attempt and freezes it.
func (e *Engine) finalize(a *model.Attempt, status model.AttemptStatus, now time.Time) {
	for i := range a.Sections {
		if a.Sections[i].Phase == model.SectionActive {
			a.Sections[i].Complete(now)
		}
	}

	res := e.Score(a, now)
	a.Result = &res
	a.TotalScore = res.TotalScore
	a.MaxScore = res.MaxScore
	a.TimeTakenSeconds = res.TimeTakenSeconds
	a.Status = status
	t := now
	a.SubmittedAt = &t
}
