package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// DriftToleranceSeconds is how far a client timer may run ahead of the server
// before it is reported.
const DriftToleranceSeconds = 2

// Snapshot is what a heartbeat carries: the client's position, its local view
// of the section timers and any answers it has not flushed yet.
type Snapshot struct {
	Position model.ClientPosition
	Sections []model.ClientSectionState
	Writes   []Write
}

// WriteOutcome reports what happened to one pending answer.
type WriteOutcome struct {
	QuestionID uuid.UUID
	Accepted   bool
	Err        error
}

// Drift is a client section timer that disagrees with the server.
type Drift struct {
	SectionKey      string `json:"section_key"`
	ClientRemaining int    `json:"client_remaining_seconds"`
	ServerRemaining int    `json:"server_remaining_seconds"`
	ServerLocked    bool   `json:"server_locked"`
}

// SyncOutcome is the result of reconciling one heartbeat.
type SyncOutcome struct {
	Writes    []WriteOutcome
	Drift     []Drift
	Mutated   bool
	Finalized bool
}

// Reconcile merges a client heartbeat into the attempt. Server time wins: the
// client's timer values are only compared, never stored. A rejected position
// rejects the whole heartbeat and the error is returned with the attempt in an
// undefined state, so callers work on a clone.
func (e *Engine) Reconcile(a *model.Attempt, snap Snapshot, now time.Time) (SyncOutcome, error) {
	var out SyncOutcome
	if a.Status.IsFinal() {
		return out, ErrAttemptFinal
	}

	out.Mutated = e.Refresh(a, now)
	out.Drift = e.drift(a, snap.Sections)

	if a.Status.IsFinal() {
		out.Finalized = true
		for _, w := range snap.Writes {
			out.Writes = append(out.Writes, WriteOutcome{QuestionID: w.QuestionID, Err: ErrAttemptFinal})
		}
		return out, nil
	}

	prevSection, prevQuestion := a.CurrentSectionIndex, a.CurrentQuestionIndex
	if err := e.Navigate(a, snap.Position); err != nil {
		return SyncOutcome{}, err
	}
	if a.CurrentSectionIndex != prevSection || a.CurrentQuestionIndex != prevQuestion {
		out.Mutated = true
	}

	for _, w := range snap.Writes {
		wo := WriteOutcome{QuestionID: w.QuestionID}
		if _, err := e.Apply(a, w, now); err != nil {
			wo.Err = err
		} else {
			wo.Accepted = true
			out.Mutated = true
		}
		out.Writes = append(out.Writes, wo)
	}
	return out, nil
}

func (e *Engine) drift(a *model.Attempt, client []model.ClientSectionState) []Drift {
	var out []Drift
	for _, c := range client {
		idx := e.test.SectionIndex(c.SectionKey)
		if idx < 0 {
			continue
		}
		s := a.Sections[idx]
		if s.Phase == model.SectionNotStarted {
			continue
		}
		ahead := c.RemainingSeconds-s.RemainingSeconds > DriftToleranceSeconds
		missedLock := s.IsTerminal() && !c.IsLocked
		if ahead || missedLock {
			out = append(out, Drift{
				SectionKey:      s.SectionKey,
				ClientRemaining: c.RemainingSeconds,
				ServerRemaining: s.RemainingSeconds,
				ServerLocked:    s.IsTerminal(),
			})
		}
	}
	return out
}
