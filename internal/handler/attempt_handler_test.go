package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

var t0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type env struct {
	router  *gin.Engine
	auth    *service.AuthService
	store   *repository.SQLiteStore
	attempt *service.AttemptService
	now     time.Time
	paper   *model.TestPaper
	qA, qB  uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "http.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := repository.NewSQLiteStore(ctx, db)
	require.NoError(t, err)

	qA := model.Question{ID: uuid.New(), QuestionType: model.QuestionTypeSingleCorrect,
		Options: json.RawMessage(`[{"id":"a"},{"id":"b"}]`), Answer: model.AnswerKey{OptionIDs: []string{"b"}}, Marks: model.Marks{Positive: 3, Negative: -1}}
	qB := model.Question{ID: uuid.New(), QuestionType: model.QuestionTypeFreeText, Answer: model.AnswerKey{Texts: []string{"Paris"}}, Marks: model.Marks{Positive: 3}}
	paper := &model.TestPaper{
		ID:           uuid.New(),
		Title:        "Mock",
		Status:       model.TestStatusPublished,
		Access:       model.AccessOpen,
		Instructions: model.Instructions{Kind: model.InstructionsText, Text: "Good luck"},
		Sections: []model.Section{
			{Key: "A", DurationSeconds: 600, QuestionIDs: []uuid.UUID{qA.ID}},
			{Key: "B", DurationSeconds: 600, QuestionIDs: []uuid.UUID{qB.ID}},
		},
		Questions: []model.Question{qA, qB},
	}
	require.NoError(t, store.Tests().UpsertTest(ctx, paper))

	e := &env{store: store, now: t0, paper: paper, qA: qA.ID, qB: qB.ID}
	e.auth = service.NewAuthService(&config.Config{JWTSecret: "handler-test", JWTExpiry: time.Hour, BcryptCost: 4})
	tests := service.NewTestService(store.Tests(), nil, time.Minute, zerolog.Nop())
	e.attempt = service.NewAttemptService(store.Attempts(), tests, e.auth, service.AttemptServiceOptions{
		Clock: func() time.Time { return e.now },
	}, zerolog.Nop())

	h := NewAttemptHandler(e.attempt, zerolog.Nop())
	lb := NewLeaderboardHandler(store.Attempts(), nil, zerolog.Nop())

	r := gin.New()
	api := r.Group("/api/v1/candidate", middleware.RequireCandidateJWT(e.auth))
	api.POST("/tests/:test_id/attempts", h.StartAttempt)
	api.GET("/tests/:test_id/leaderboard", lb.GetLeaderboard)
	api.GET("/attempts/:attempt_id", h.GetAttempt)
	api.PUT("/attempts/:attempt_id/responses", h.SaveResponse)
	api.POST("/attempts/:attempt_id/sync", h.SyncProgress)
	api.POST("/attempts/:attempt_id/transition", h.TransitionSection)
	api.POST("/attempts/:attempt_id/submit", h.SubmitAttempt)
	api.GET("/attempts/:attempt_id/review", h.GetAttemptReview)
	e.router = r
	return e
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func (e *env) do(t *testing.T, method, path, user string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := e.auth.GenerateCandidateToken(user, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func (e *env) startAttempt(t *testing.T, user string) uuid.UUID {
	t.Helper()
	code, body := e.do(t, http.MethodPost, "/api/v1/candidate/tests/"+e.paper.ID.String()+"/attempts", user, nil)
	require.Equal(t, http.StatusCreated, code)
	var v struct {
		Attempt model.Attempt `json:"attempt"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &v))
	return v.Attempt.ID
}

func TestStartAttempt_HTTP(t *testing.T) {
	e := newEnv(t)
	path := "/api/v1/candidate/tests/" + e.paper.ID.String() + "/attempts"

	code, body := e.do(t, http.MethodPost, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "TOKEN_REQUIRED", body.Error.Code)

	code, body = e.do(t, http.MethodPost, path, "cand-1", nil)
	require.Equal(t, http.StatusCreated, code)
	var view struct {
		Attempt model.Attempt      `json:"attempt"`
		Test    *model.TestPayload `json:"test"`
		Resumed bool               `json:"resumed"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.Equal(t, "A", view.Attempt.CurrentSectionKey)
	require.NotNil(t, view.Test)
	assert.NotContains(t, string(body.Data), `"answer"`, "answer keys never reach candidates")

	code, body = e.do(t, http.MethodPost, path, "cand-1", map[string]string{})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.True(t, view.Resumed)

	code, body = e.do(t, http.MethodPost, "/api/v1/candidate/tests/not-a-uuid/attempts", "cand-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ID", body.Error.Code)
}

func TestSaveResponse_HTTP(t *testing.T) {
	e := newEnv(t)
	id := e.startAttempt(t, "cand-1")
	path := "/api/v1/candidate/attempts/" + id.String() + "/responses"

	code, body := e.do(t, http.MethodPut, path, "cand-1", map[string]interface{}{"selected_answer": "b"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Contains(t, body.Error.Fields, "question_id")

	code, body = e.do(t, http.MethodPut, path, "cand-1", map[string]interface{}{
		"question_id": e.qA.String(), "selected_answer": "b",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body.Error)

	code, body = e.do(t, http.MethodPut, path, "cand-1", map[string]interface{}{
		"question_id": e.qB.String(), "selected_answer": "Paris",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SECTION_LOCKED", body.Error.Code)
	var resync struct {
		Attempt model.Attempt `json:"attempt"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &resync))
	assert.Equal(t, id, resync.Attempt.ID, "rejection carries server state")

	code, body = e.do(t, http.MethodPut, path, "intruder", map[string]interface{}{
		"question_id": e.qA.String(), "selected_answer": "a",
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", body.Error.Code)

	code, body = e.do(t, http.MethodPut, path, "cand-1", map[string]interface{}{
		"question_id": uuid.New().String(), "selected_answer": "a",
	})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

func TestSyncTransitionSubmitReview_HTTP(t *testing.T) {
	e := newEnv(t)
	id := e.startAttempt(t, "cand-1")
	base := "/api/v1/candidate/attempts/" + id.String()

	e.now = t0.Add(60 * time.Second)
	code, body := e.do(t, http.MethodPost, base+"/sync", "cand-1", map[string]interface{}{
		"position":       map[string]interface{}{"section_key": "A", "question_index": 0},
		"section_states": []map[string]interface{}{{"section_key": "A", "remaining_seconds": 600}},
		"responses":      []map[string]interface{}{{"question_id": e.qA.String(), "selected_answer": "b"}},
	})
	require.Equal(t, http.StatusOK, code, string(body.Data))
	var sync service.SyncView
	require.NoError(t, json.Unmarshal(body.Data, &sync))
	require.Len(t, sync.Writes, 1)
	assert.True(t, sync.Writes[0].Accepted)
	require.Len(t, sync.Drift, 1)
	assert.Equal(t, 540, sync.Drift[0].ServerRemaining)

	code, body = e.do(t, http.MethodGet, base+"/review", "cand-1", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_STATE", body.Error.Code)

	code, body = e.do(t, http.MethodPost, base+"/transition", "cand-1", map[string]interface{}{
		"from_section_key": "A", "to_section_key": "C D",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body.Error.Fields, "to_section_key")

	code, _ = e.do(t, http.MethodPost, base+"/transition", "cand-1", map[string]interface{}{
		"from_section_key": "A", "to_section_key": "B",
	})
	require.Equal(t, http.StatusOK, code)

	code, body = e.do(t, http.MethodPost, base+"/transition", "cand-1", map[string]interface{}{
		"from_section_key": "B", "to_section_key": nil,
	})
	require.Equal(t, http.StatusOK, code)
	var done service.AttemptView
	require.NoError(t, json.Unmarshal(body.Data, &done))
	assert.Equal(t, model.AttemptStatusCompleted, done.Attempt.Status)

	code, body = e.do(t, http.MethodPost, base+"/submit", "cand-1", nil)
	require.Equal(t, http.StatusOK, code)
	var sub service.SubmitView
	require.NoError(t, json.Unmarshal(body.Data, &sub))
	assert.True(t, sub.AlreadySubmitted)
	assert.Equal(t, 3.0, sub.Result.TotalScore)

	code, body = e.do(t, http.MethodGet, base+"/review", "cand-1", nil)
	require.Equal(t, http.StatusOK, code)
	var review service.ReviewView
	require.NoError(t, json.Unmarshal(body.Data, &review))
	assert.Len(t, review.Items, 2)

	code, body = e.do(t, http.MethodPost, base+"/sync", "cand-1", map[string]interface{}{
		"position": map[string]interface{}{"section_key": "B", "question_index": 0},
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_STATE", body.Error.Code)
}

func TestLeaderboard_HTTP(t *testing.T) {
	e := newEnv(t)
	path := "/api/v1/candidate/tests/" + e.paper.ID.String() + "/leaderboard"

	code, body := e.do(t, http.MethodGet, path, "cand-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"entries":[]}`, string(body.Data))

	id := e.startAttempt(t, "cand-1")
	_, err := e.attempt.SubmitAttempt(context.Background(), "cand-1", id)
	require.NoError(t, err)
	require.NoError(t, e.store.Attempts().UpdateRankings(context.Background(), []model.AttemptRanking{{AttemptID: id, Rank: 1, Percentile: 100}}))

	code, body = e.do(t, http.MethodGet, path+"?limit=5", "cand-1", nil)
	require.Equal(t, http.StatusOK, code)
	var out struct {
		Entries []model.LeaderboardEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &out))
	require.Len(t, out.Entries, 1)
	assert.Equal(t, id, out.Entries[0].AttemptID)

	code, _ = e.do(t, http.MethodGet, path+"?limit=0", "cand-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestErrorCode_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrNotFound, http.StatusNotFound},
		{service.ErrForbidden, http.StatusForbidden},
		{service.ErrBusy, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := errorCode(tt.err)
		assert.Equal(t, tt.want, status, tt.err.Error())
	}
}
