package engine

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

// NumericTolerance is the absolute difference below which a numeric answer is
// accepted.
const NumericTolerance = 0.01

// numericSlack absorbs binary rounding so a difference of exactly
// NumericTolerance (4.01 vs 4.0 computes as 0.00999...) is still rejected.
const numericSlack = 1e-9

// Judge grades one normalized answer against its question's key.
func Judge(q *model.Question, ans model.Answer) model.QuestionOutcome {
	if ans.IsEmpty() {
		return model.OutcomeUnanswered
	}

	ok := false
	switch q.QuestionType {
	case model.QuestionTypeSingleCorrect:
		ok = len(ans.OptionIDs) == 1 && slices.Contains(q.Answer.OptionIDs, ans.OptionIDs[0])
	case model.QuestionTypeMultiCorrect:
		ok = sameSet(ans.OptionIDs, q.Answer.OptionIDs)
	case model.QuestionTypeFreeText:
		if ans.Text != nil {
			got := strings.TrimSpace(*ans.Text)
			for _, want := range q.Answer.Texts {
				if strings.EqualFold(got, strings.TrimSpace(want)) {
					ok = true
					break
				}
			}
		}
	case model.QuestionTypeNumeric:
		ok = ans.Numeric != nil && q.Answer.Numeric != nil &&
			math.Abs(*ans.Numeric-*q.Answer.Numeric) < NumericTolerance-numericSlack
	}

	if ok {
		return model.OutcomeCorrect
	}
	return model.OutcomeIncorrect
}

func sameSet(a, b []string) bool {
	x := slices.Compact(slices.Sorted(slices.Values(a)))
	y := slices.Compact(slices.Sorted(slices.Values(b)))
	return slices.Equal(x, y)
}

// Score grades every question of the test against the attempt's responses.
// Sections that were never started count all of their questions as not
// answered. It does not modify the attempt.
func (e *Engine) Score(a *model.Attempt, now time.Time) model.Result {
	res := model.Result{
		Sections:  make([]model.SectionResult, 0, len(e.test.Sections)),
		Questions: make([]model.QuestionResult, 0, len(e.questions)),
		ScoredAt:  now,
	}
	responses := make(map[string]model.Response, len(a.Responses))
	for _, r := range a.Responses {
		responses[r.QuestionID.String()] = r
	}

	for i, s := range e.test.Sections {
		ids := e.members[s.Key]
		sr := model.SectionResult{SectionKey: s.Key, TotalQuestions: len(ids)}
		var state *model.SectionState
		if i < len(a.Sections) {
			state = &a.Sections[i]
		}
		reached := state != nil && state.StartedAt != nil

		for _, id := range ids {
			q, ok := e.questions[id]
			if !ok {
				continue
			}
			sr.MaxScore += q.Marks.Positive

			qr := model.QuestionResult{QuestionID: id, SectionKey: s.Key, Outcome: model.OutcomeUnanswered}
			if r, found := responses[id.String()]; reached && found && r.IsAnswered {
				qr.Outcome = Judge(q, r.SelectedAnswer)
			}
			switch qr.Outcome {
			case model.OutcomeCorrect:
				qr.MarksAwarded = q.Marks.Positive
				sr.Answered++
				sr.Correct++
			case model.OutcomeIncorrect:
				qr.MarksAwarded = q.Marks.Negative
				sr.Answered++
				sr.Incorrect++
			default:
				sr.NotAnswered++
			}
			sr.Score += qr.MarksAwarded
			res.Questions = append(res.Questions, qr)
		}

		if reached {
			sr.TimeSpentSeconds = timeSpent(*state, s.DurationSeconds, now)
		}
		sr.Score = round2(sr.Score)
		sr.MaxScore = round2(sr.MaxScore)

		res.TotalScore += sr.Score
		res.MaxScore += sr.MaxScore
		res.TimeTakenSeconds += sr.TimeSpentSeconds
		res.Sections = append(res.Sections, sr)
	}

	res.TotalScore = round2(res.TotalScore)
	res.MaxScore = round2(res.MaxScore)
	return res
}

// timeSpent is the wall time between a section's start and its close (or now
// when still open), clipped to the section's duration.
func timeSpent(s model.SectionState, durationSeconds int, now time.Time) int {
	end := now
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	spent := int(end.Sub(*s.StartedAt) / time.Second)
	return max(0, min(spent, durationSeconds))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
