package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-engine/internal/model"
)

func TestApply_UpsertsByQuestion(t *testing.T) {
	f := newFixture(t)
	a := f.start()
	qid := f.q["VARC"][1]

	r, err := f.eng.Apply(a, Write{QuestionID: qid, Answer: raw([]string{"c", "a", "c"})}, at(10))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, r.SelectedAnswer.OptionIDs)
	assert.True(t, r.IsAnswered)

	_, err = f.eng.Apply(a, Write{QuestionID: qid, Answer: raw([]string{"a"}), MarkedForReview: true}, at(20))
	require.NoError(t, err)
	require.Len(t, a.Responses, 1)
	assert.Equal(t, []string{"a"}, a.Responses[0].SelectedAnswer.OptionIDs)
	assert.True(t, a.Responses[0].IsMarkedForReview)
	assert.Equal(t, at(20), a.Responses[0].AnsweredAt)
}

func TestApply_SameAnswerOnlyRefreshesTimestamp(t *testing.T) {
	f := newFixture(t)
	a := f.start()
	qid := f.q["VARC"][2]

	_, err := f.eng.Apply(a, Write{QuestionID: qid, Answer: raw("Paris")}, at(10))
	require.NoError(t, err)
	first := a.Responses[0]

	_, err = f.eng.Apply(a, Write{QuestionID: qid, Answer: raw("Paris")}, at(11))
	require.NoError(t, err)
	require.Len(t, a.Responses, 1)
	assert.True(t, first.SelectedAnswer.Equal(a.Responses[0].SelectedAnswer))
	assert.Equal(t, at(11), a.Responses[0].AnsweredAt)
}

func TestApply_EmptyValueClearsAnswer(t *testing.T) {
	f := newFixture(t)
	a := f.start()
	qid := f.q["VARC"][0]

	_, err := f.eng.Apply(a, Write{QuestionID: qid, Answer: raw("b")}, at(10))
	require.NoError(t, err)

	for _, v := range []any{nil, "", []string{}} {
		_, err = f.eng.Apply(a, Write{QuestionID: qid, Answer: raw(v)}, at(12))
		require.NoError(t, err)
		require.Len(t, a.Responses, 1)
		assert.False(t, a.Responses[0].IsAnswered)
		assert.True(t, a.Responses[0].SelectedAnswer.IsEmpty())
	}
}

func TestApply_Guards(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown question", func(t *testing.T) {
		a := f.start()
		_, err := f.eng.Apply(a, Write{QuestionID: uuid.New(), Answer: raw("b")}, at(1))
		assert.ErrorIs(t, err, ErrUnknownQuestion)
	})

	t.Run("section not started", func(t *testing.T) {
		a := f.start()
		_, err := f.eng.Apply(a, Write{QuestionID: f.q["DILR"][0], Answer: raw("b")}, at(1))
		assert.ErrorIs(t, err, ErrSectionLocked)
		assert.Empty(t, a.Responses)
	})

	t.Run("zero crossing not yet persisted", func(t *testing.T) {
		a := f.start()
		// no Refresh: the stored phase is still ACTIVE
		_, err := f.eng.Apply(a, Write{QuestionID: f.q["VARC"][0], Answer: raw("b")}, at(2400))
		assert.ErrorIs(t, err, ErrSectionLocked)
		assert.Equal(t, model.SectionActive, a.Sections[0].Phase)
		assert.Empty(t, a.Responses)
	})

	t.Run("one second before the deadline", func(t *testing.T) {
		a := f.start()
		_, err := f.eng.Apply(a, Write{QuestionID: f.q["VARC"][0], Answer: raw("b")}, at(2399))
		assert.NoError(t, err)
	})

	t.Run("completed section", func(t *testing.T) {
		a := f.start()
		require.NoError(t, f.eng.Transition(a, "VARC", strp("DILR"), at(5)))
		_, err := f.eng.Apply(a, Write{QuestionID: f.q["VARC"][0], Answer: raw("b")}, at(6))
		assert.ErrorIs(t, err, ErrSectionLocked)
	})

	t.Run("final attempt", func(t *testing.T) {
		a := f.start()
		f.eng.Submit(a, at(5))
		_, err := f.eng.Apply(a, Write{QuestionID: f.q["VARC"][0], Answer: raw("b")}, at(6))
		assert.ErrorIs(t, err, ErrAttemptFinal)
	})

	t.Run("wrong shape", func(t *testing.T) {
		a := f.start()
		_, err := f.eng.Apply(a, Write{QuestionID: f.q["VARC"][3], Answer: raw([]string{"x"})}, at(6))
		assert.ErrorIs(t, err, ErrInvalidAnswer)
		assert.Empty(t, a.Responses)
	})
}

func TestResolveSection_FailsClosed(t *testing.T) {
	f := newFixture(t)
	// a question in the bank that no section claims
	orphan := model.Question{ID: uuid.New(), QuestionType: model.QuestionTypeNumeric, Answer: model.AnswerKey{Numeric: f64(1)}}
	tp := *f.test
	tp.Questions = append(append([]model.Question{}, f.test.Questions...), orphan)
	eng := New(&tp)

	_, err := eng.ResolveSection(orphan.ID)
	assert.ErrorIs(t, err, ErrSectionUnresolvable)

	idx, err := eng.ResolveSection(f.q["QA"][2])
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
}

func TestResolveSection_FallsBackToSectionTag(t *testing.T) {
	f := newFixture(t)
	tagged := model.Question{
		ID:           uuid.New(),
		SectionKey:   "VARC",
		QuestionType: model.QuestionTypeNumeric,
		Answer:       model.AnswerKey{Numeric: f64(1)},
		Marks:        model.Marks{Positive: 2},
	}
	tp := *f.test
	tp.Questions = append(append([]model.Question{}, f.test.Questions...), tagged)
	eng := New(&tp)

	idx, err := eng.ResolveSection(tagged.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	a := &model.Attempt{ID: uuid.New(), UserID: "user-1", TestID: tp.ID}
	eng.Init(a, t0)
	assert.Equal(t, f.start().MaxScore+2, a.MaxScore)

	_, err = eng.Apply(a, Write{QuestionID: tagged.ID, Answer: raw(1)}, at(10))
	require.NoError(t, err)
	require.NoError(t, eng.Navigate(a, model.ClientPosition{SectionKey: "VARC", QuestionIndex: 4}))

	res := eng.Score(a, at(20))
	assert.Equal(t, 5, res.Sections[0].TotalQuestions)
	assert.Equal(t, 2.0, res.Sections[0].Score)
}
