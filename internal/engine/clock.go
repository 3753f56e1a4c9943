package engine

import (
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

// Remaining is the authoritative time left in a section at now. It depends
// only on the persisted start instant and the configured duration.
func Remaining(state model.SectionState, durationSeconds int, now time.Time) int {
	if state.StartedAt == nil {
		return durationSeconds
	}
	elapsed := int(now.Sub(*state.StartedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	if r := durationSeconds - elapsed; r > 0 {
		return r
	}
	return 0
}

// refreshSection recomputes an active section. The stored snapshot only ever
// goes down, even if the server clock steps back. Returns true when the
// section was locked by this call.
func refreshSection(s *model.SectionState, durationSeconds int, now time.Time) bool {
	if s.Phase != model.SectionActive {
		return false
	}
	r := Remaining(*s, durationSeconds, now)
	if r > s.RemainingSeconds {
		r = s.RemainingSeconds
	}
	if r == 0 {
		s.Lock(now)
		return true
	}
	s.RemainingSeconds = r
	return false
}

// Refresh applies lazy expiry to every section of an in-progress attempt.
// When the last section runs out the attempt expires and is scored.
// It returns true when a lock or expiry happened, i.e. the record must be
// persisted; remaining-time snapshots alone do not count.
func (e *Engine) Refresh(a *model.Attempt, now time.Time) bool {
	if a.Status != model.AttemptStatusInProgress {
		return false
	}

	changed := false
	for i := range a.Sections {
		if refreshSection(&a.Sections[i], e.duration(i), now) {
			changed = true
		}
	}

	last := len(a.Sections) - 1
	if a.CurrentSectionIndex == last && a.Sections[last].Phase == model.SectionLocked {
		e.finalize(a, model.AttemptStatusExpired, now)
		changed = true
	}
	return changed
}
