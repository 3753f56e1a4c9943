package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-engine/internal/model"
)

const samplePaper = `
id: mock-cat-01
title: Mock CAT 01
status: PUBLISHED
access: enrolled
instructions:
  general: Read carefully.
  sections:
    VARC: Passages first.
sections:
  - key: VARC
    title: Verbal Ability
    duration_seconds: 2400
    question_ids: [q1]
  - key: QA
    title: Quant
    duration_seconds: 2400
questions:
  - id: q1
    type: single_correct
    text: Pick one
    options:
      - {id: a, text: Alpha}
      - {id: b, text: Beta}
    answer: {option_ids: [b]}
    marks: {positive: 3, negative: -1}
  - id: q2
    section: QA
    type: NUMERIC
    text: pi to two places
    answer: {numeric: 3.14}
    marks: {positive: 3}
`

func TestToTestPaper(t *testing.T) {
	f, err := Parse([]byte(samplePaper))
	require.NoError(t, err)

	tp, err := f.ToTestPaper()
	require.NoError(t, err)

	assert.Equal(t, model.TestStatusPublished, tp.Status)
	assert.Equal(t, model.AccessEnrolled, tp.Access)
	assert.Equal(t, model.InstructionsStructured, tp.Instructions.Kind)
	require.Len(t, tp.Sections, 2)
	require.Len(t, tp.Questions, 2)

	assert.Equal(t, model.QuestionTypeSingleCorrect, tp.Questions[0].QuestionType)
	assert.JSONEq(t, `[{"id":"a","text":"Alpha"},{"id":"b","text":"Beta"}]`, string(tp.Questions[0].Options))
	assert.Equal(t, []string{"b"}, tp.Questions[0].Answer.OptionIDs)
	assert.Equal(t, tp.Questions[0].ID, tp.Sections[0].QuestionIDs[0])
	assert.Equal(t, tp.Questions[1].ID, tp.Sections[1].QuestionIDs[0], "tagged question joins its section")
	assert.Equal(t, 3.14, *tp.Questions[1].Answer.Numeric)
}

func TestToTestPaper_StableIDs(t *testing.T) {
	f1, err := Parse([]byte(samplePaper))
	require.NoError(t, err)
	f2, err := Parse([]byte(samplePaper))
	require.NoError(t, err)

	a, err := f1.ToTestPaper()
	require.NoError(t, err)
	b, err := f2.ToTestPaper()
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, a.Questions[1].ID, b.Questions[1].ID)
}

func TestToTestPaper_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"missing id", "title: x\n", ErrMissingID},
		{"orphan question", `
id: t1
sections:
  - {key: A, duration_seconds: 60, question_ids: [q1]}
questions:
  - {id: q1, type: FREE_TEXT, answer: {texts: [x]}}
  - {id: q2, type: FREE_TEXT, answer: {texts: [y]}}
`, model.ErrUnassignedQuestion},
		{"empty section", `
id: t1
sections:
  - {key: A, duration_seconds: 60, question_ids: [q1]}
  - {key: B, duration_seconds: 60}
questions:
  - {id: q1, type: FREE_TEXT, answer: {texts: [x]}}
`, model.ErrEmptySection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.doc))
			require.NoError(t, err)
			_, err = f.ToTestPaper()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecode_UnknownField(t *testing.T) {
	_, err := Parse([]byte("id: t1\ntitel: typo\n"))
	assert.Error(t, err)
}
