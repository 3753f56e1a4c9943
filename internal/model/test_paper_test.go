package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paper(t *testing.T) *TestPaper {
	t.Helper()
	q1 := Question{ID: uuid.New(), QuestionType: QuestionTypeSingleCorrect, Answer: AnswerKey{OptionIDs: []string{"a"}}, Explanation: "because"}
	q2 := Question{ID: uuid.New(), QuestionType: QuestionTypeNumeric, Answer: AnswerKey{Numeric: ptr(1.5)}}
	return &TestPaper{
		ID: uuid.New(),
		Sections: []Section{
			{Key: "A", DurationSeconds: 60, QuestionIDs: []uuid.UUID{q1.ID}},
			{Key: "B", DurationSeconds: 60, QuestionIDs: []uuid.UUID{q2.ID}},
		},
		Questions: []Question{q1, q2},
	}
}

func TestTestPaperValidate(t *testing.T) {
	require.NoError(t, paper(t).Validate())

	tests := []struct {
		name   string
		mutate func(p *TestPaper)
		want   error
	}{
		{"no sections", func(p *TestPaper) { p.Sections = nil }, ErrNoSections},
		{"duplicate key", func(p *TestPaper) { p.Sections[1].Key = "A" }, ErrDuplicateSection},
		{"malformed key", func(p *TestPaper) { p.Sections[1].Key = "Part B" }, ErrInvalidSectionKey},
		{"zero duration", func(p *TestPaper) { p.Sections[0].DurationSeconds = 0 }, ErrInvalidDuration},
		{"empty section", func(p *TestPaper) { p.Sections[1].QuestionIDs = nil }, ErrEmptySection},
		{"unknown ref", func(p *TestPaper) { p.Sections[0].QuestionIDs = append(p.Sections[0].QuestionIDs, uuid.New()) }, ErrUnknownQuestionRef},
		{"claimed twice", func(p *TestPaper) {
			p.Sections[1].QuestionIDs = append(p.Sections[1].QuestionIDs, p.Sections[0].QuestionIDs[0])
		}, ErrQuestionReassigned},
		{"orphan question", func(p *TestPaper) {
			p.Questions = append(p.Questions, Question{ID: uuid.New(), QuestionType: QuestionTypeFreeText, Answer: AnswerKey{Texts: []string{"x"}}})
		}, ErrUnassignedQuestion},
		{"unknown tag", func(p *TestPaper) { p.Questions[0].SectionKey = "Z" }, ErrUnknownSectionTag},
		{"bad key", func(p *TestPaper) { p.Questions[0].Answer.OptionIDs = nil }, ErrInvalidAnswerKey},
		{"bad type", func(p *TestPaper) { p.Questions[1].QuestionType = "ESSAY" }, ErrInvalidQuestionType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paper(t)
			tt.mutate(p)
			assert.ErrorIs(t, p.Validate(), tt.want)
		})
	}
}

func TestAssignTaggedQuestions(t *testing.T) {
	p := paper(t)
	tagged := Question{ID: uuid.New(), SectionKey: "B", QuestionType: QuestionTypeFreeText, Answer: AnswerKey{Texts: []string{"x"}}}
	p.Questions = append(p.Questions, tagged)
	require.ErrorIs(t, p.Validate(), ErrUnassignedQuestion)

	p.AssignTaggedQuestions()
	require.NoError(t, p.Validate())
	assert.Contains(t, p.Sections[1].QuestionIDs, tagged.ID)

	// idempotent
	p.AssignTaggedQuestions()
	assert.Len(t, p.Sections[1].QuestionIDs, 2)
}

func TestPayloadStripsAnswerKeys(t *testing.T) {
	p := paper(t)
	payload := p.Payload()
	require.Len(t, payload.Questions, 2)
	assert.Equal(t, p.Questions[0].ID, payload.Questions[0].ID)
	assert.Equal(t, p.Sections, payload.Sections)
}
