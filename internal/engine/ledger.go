package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Write is one candidate answer as received from the client.
type Write struct {
	QuestionID      uuid.UUID
	Answer          json.RawMessage
	MarkedForReview bool
}

// ResolveSection returns the index of the section that owns a question.
func (e *Engine) ResolveSection(questionID uuid.UUID) (int, error) {
	if _, ok := e.questions[questionID]; !ok {
		return -1, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	key, ok := e.sectionOf[questionID]
	if !ok {
		return -1, fmt.Errorf("%w: %s", ErrSectionUnresolvable, questionID)
	}
	idx := e.test.SectionIndex(key)
	if idx < 0 {
		return -1, fmt.Errorf("%w: %s", ErrSectionUnresolvable, questionID)
	}
	return idx, nil
}

// Apply stores one answer. The owning section must be open and have time
// left at now; otherwise the attempt is left untouched and ErrSectionLocked is
// returned. The caller is expected to have run Refresh for the same instant.
func (e *Engine) Apply(a *model.Attempt, w Write, now time.Time) (model.Response, error) {
	if a.Status.IsFinal() {
		return model.Response{}, ErrAttemptFinal
	}

	idx, err := e.ResolveSection(w.QuestionID)
	if err != nil {
		return model.Response{}, err
	}
	state := a.Sections[idx]
	switch {
	case state.Phase == model.SectionNotStarted:
		return model.Response{}, fmt.Errorf("%w: section %q has not started", ErrSectionLocked, state.SectionKey)
	case state.IsTerminal():
		return model.Response{}, fmt.Errorf("%w: section %q", ErrSectionLocked, state.SectionKey)
	case Remaining(state, e.duration(idx), now) == 0:
		return model.Response{}, fmt.Errorf("%w: section %q is out of time", ErrSectionLocked, state.SectionKey)
	}

	q := e.questions[w.QuestionID]
	ans, err := model.NormalizeAnswer(q.QuestionType, w.Answer)
	if err != nil {
		return model.Response{}, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
	}

	resp := model.Response{
		QuestionID:        w.QuestionID,
		SelectedAnswer:    ans,
		IsAnswered:        !ans.IsEmpty(),
		IsMarkedForReview: w.MarkedForReview,
		AnsweredAt:        now,
	}
	if i := a.FindResponse(w.QuestionID); i >= 0 {
		a.Responses[i] = resp
	} else {
		a.Responses = append(a.Responses, resp)
	}
	return resp, nil
}
