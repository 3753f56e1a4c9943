package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

func newTestService(t *testing.T) (*TestService, *repository.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "tests.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := repository.NewSQLiteStore(ctx, db)
	require.NoError(t, err)
	return NewTestService(store.Tests(), nil, time.Minute, zerolog.Nop()), store
}

func taggedPaper() *model.TestPaper {
	q := model.Question{
		ID:           uuid.New(),
		SectionKey:   "A",
		QuestionType: model.QuestionTypeFreeText,
		QuestionText: "capital of France",
		Answer:       model.AnswerKey{Texts: []string{"Paris"}},
		Marks:        model.Marks{Positive: 1},
	}
	return &model.TestPaper{
		ID:           uuid.New(),
		Title:        "Geo",
		Status:       model.TestStatusPublished,
		Access:       model.AccessOpen,
		Instructions: model.Instructions{Kind: model.InstructionsText, Text: "Answer all."},
		Sections:     []model.Section{{Key: "A", DurationSeconds: 300}},
		Questions:    []model.Question{q},
	}
}

func TestImportTest_AssignsTaggedQuestions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	paper := taggedPaper()

	require.NoError(t, svc.ImportTest(ctx, paper))

	got, err := svc.GetTest(ctx, paper.ID)
	require.NoError(t, err)
	require.Len(t, got.Sections, 1)
	assert.Equal(t, []uuid.UUID{paper.Questions[0].ID}, got.Sections[0].QuestionIDs)
}

func TestImportTest_RejectsInvalidPaper(t *testing.T) {
	svc, _ := newTestService(t)
	paper := taggedPaper()
	paper.Sections[0].DurationSeconds = 0

	err := svc.ImportTest(context.Background(), paper)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestImportTest_ImmutableOnceAttempted(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	paper := taggedPaper()
	require.NoError(t, svc.ImportTest(ctx, paper))

	require.NoError(t, store.Attempts().Create(ctx, &model.Attempt{
		ID:        uuid.New(),
		UserID:    "cand-1",
		TestID:    paper.ID,
		Status:    model.AttemptStatusInProgress,
		Sections:  []model.SectionState{{SectionKey: "A", Phase: model.SectionActive, RemainingSeconds: 300}},
		Responses: []model.Response{},
		StartedAt: time.Now(),
	}))

	paper.Title = "Geo v2"
	assert.ErrorIs(t, svc.ImportTest(ctx, paper), ErrInvalidState)
}

func TestGetTest_NotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetTest(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrewarm_NoRedisIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	assert.NoError(t, svc.PrewarmAllCaches(context.Background()))
}
