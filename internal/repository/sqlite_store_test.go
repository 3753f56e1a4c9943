package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/model"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "exstem.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLiteStore(ctx, db)
	require.NoError(t, err)
	return s
}

func sampleTest() *model.TestPaper {
	key := 42.0
	q := model.Question{
		ID:           uuid.New(),
		QuestionType: model.QuestionTypeNumeric,
		QuestionText: "6 x 7",
		Answer:       model.AnswerKey{Numeric: &key},
		Marks:        model.Marks{Positive: 4, Negative: -1},
		Explanation:  "multiply",
	}
	return &model.TestPaper{
		ID:           uuid.New(),
		Title:        "Arithmetic",
		Status:       model.TestStatusPublished,
		Access:       model.AccessOpen,
		Instructions: model.Instructions{Kind: model.InstructionsText, Text: "Go."},
		Sections:     []model.Section{{Key: "A", DurationSeconds: 600, QuestionIDs: []uuid.UUID{q.ID}}},
		Questions:    []model.Question{q},
	}
}

func sampleAttempt(testID uuid.UUID) *model.Attempt {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &model.Attempt{
		ID:                uuid.New(),
		UserID:            "cand-1",
		TestID:            testID,
		Status:            model.AttemptStatusInProgress,
		CurrentSectionKey: "A",
		Sections: []model.SectionState{{
			SectionKey: "A", Phase: model.SectionActive, StartedAt: &started, RemainingSeconds: 600,
		}},
		Responses: []model.Response{},
		StartedAt: started,
	}
}

func TestSQLiteTests_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Tests()
	tp := sampleTest()

	require.NoError(t, repo.UpsertTest(ctx, tp))
	got, err := repo.GetByID(ctx, tp.ID)
	require.NoError(t, err)
	assert.Equal(t, tp.Title, got.Title)
	assert.Equal(t, tp.Instructions, got.Instructions)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, 42.0, *got.Questions[0].Answer.Numeric)
	assert.NoError(t, got.Validate())

	ids, err := repo.ListPublishedIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{tp.ID}, ids)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteTests_ImmutableOnceAttempted(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	tp := sampleTest()
	require.NoError(t, s.Tests().UpsertTest(ctx, tp))
	require.NoError(t, s.Attempts().Create(ctx, sampleAttempt(tp.ID)))

	tp.Title = "changed"
	assert.ErrorIs(t, s.Tests().UpsertTest(ctx, tp), ErrTestInUse)
}

func TestSQLiteEnrollment(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Tests()
	testID := uuid.New()

	ok, err := repo.HasEnrollment(ctx, "cand-1", testID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Enroll(ctx, "cand-1", testID))
	require.NoError(t, repo.Enroll(ctx, "cand-1", testID))
	ok, err = repo.HasEnrollment(ctx, "cand-1", testID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteAttempts_CreateIsUniquePerUserAndTest(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Attempts()
	testID := uuid.New()

	a := sampleAttempt(testID)
	require.NoError(t, repo.Create(ctx, a))
	assert.Equal(t, 1, a.Version)

	assert.ErrorIs(t, repo.Create(ctx, sampleAttempt(testID)), ErrDuplicate)

	sameID := sampleAttempt(uuid.New())
	sameID.ID = a.ID
	sameID.UserID = "cand-2"
	assert.ErrorIs(t, repo.Create(ctx, sameID), ErrDuplicate, "primary key clash")

	got, err := repo.FindByUserAndTest(ctx, "cand-1", testID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Sections[0].StartedAt.UTC(), got.Sections[0].StartedAt.UTC())
}

func TestSQLiteAttempts_SaveOptimisticVersion(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Attempts()
	a := sampleAttempt(uuid.New())
	require.NoError(t, repo.Create(ctx, a))

	stale, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)

	a.CurrentQuestionIndex = 3
	a.Responses = append(a.Responses, model.Response{
		QuestionID:     uuid.New(),
		SelectedAnswer: model.Answer{OptionIDs: []string{"x"}},
		IsAnswered:     true,
	})
	require.NoError(t, repo.Save(ctx, a))
	assert.Equal(t, 2, a.Version)

	stale.CurrentQuestionIndex = 1
	assert.ErrorIs(t, repo.Save(ctx, stale), ErrVersionConflict)

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentQuestionIndex)
	assert.Equal(t, 2, got.Version)
	require.Len(t, got.Responses, 1)

	missing := sampleAttempt(uuid.New())
	assert.ErrorIs(t, repo.Save(ctx, missing), ErrNotFound)
}

func TestSQLiteAttempts_RankingsOnlyOnFinalized(t *testing.T) {
	ctx := context.Background()
	repo := newStore(t).Attempts()
	testID := uuid.New()

	done := sampleAttempt(testID)
	require.NoError(t, repo.Create(ctx, done))
	done.Status = model.AttemptStatusCompleted
	done.TotalScore = 12
	require.NoError(t, repo.Save(ctx, done))

	open := sampleAttempt(testID)
	open.UserID = "cand-2"
	require.NoError(t, repo.Create(ctx, open))

	require.NoError(t, repo.UpdateRankings(ctx, []model.AttemptRanking{
		{AttemptID: done.ID, Rank: 1, Percentile: 100},
		{AttemptID: open.ID, Rank: 2, Percentile: 0},
	}))

	got, err := repo.GetByID(ctx, done.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Rank)
	assert.Equal(t, 1, *got.Rank)
	assert.Equal(t, 100.0, *got.Percentile)
	assert.Equal(t, done.Version, got.Version, "ranking does not bump the version")

	got, err = repo.GetByID(ctx, open.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Rank)

	board, err := repo.Leaderboard(ctx, testID, 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, model.LeaderboardEntry{Rank: 1, AttemptID: done.ID, UserID: "cand-1", TotalScore: 12}, board[0])
}

func TestSQLiteAttempts_DocumentRoundTripsPhase(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := sampleAttempt(uuid.New())
	require.NoError(t, s.Attempts().Create(ctx, a))

	var doc string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT doc FROM attempts WHERE id = ?`, a.ID.String()).Scan(&doc))
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(doc), &fields))
	assert.Contains(t, fields, "section_states")

	got, err := s.Attempts().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SectionActive, got.Sections[0].Phase)
}
