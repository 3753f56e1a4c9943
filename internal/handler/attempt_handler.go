package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// AttemptHandler handles candidate-facing attempt endpoints.
type AttemptHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/candidate/tests/:test_id/attempts
// Creates the caller's attempt, or resumes the one they already hold.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.StartAttemptRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	view, err := h.attemptService.StartAttempt(c.Request.Context(), claims.UserID, testID, req.EntryCode)
	if err != nil {
		failWith(c, err, nil)
		return
	}

	status := http.StatusCreated
	if view.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, view)
}

// GetAttempt godoc
// GET /api/v1/candidate/attempts/:attempt_id
// Reload/resume: the attempt with timers recomputed at server time.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	userID, attemptID, ok := attemptParams(c)
	if !ok {
		return
	}

	view, err := h.attemptService.GetAttempt(c.Request.Context(), userID, attemptID)
	if err != nil {
		failWith(c, err, nil)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SaveResponse godoc
// PUT /api/v1/candidate/attempts/:attempt_id/responses
func (h *AttemptHandler) SaveResponse(c *gin.Context) {
	userID, attemptID, ok := attemptParams(c)
	if !ok {
		return
	}

	var req model.SaveResponseRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.attemptService.SaveResponse(c.Request.Context(), userID, attemptID, req)
	if err != nil {
		if view != nil {
			failWith(c, err, view)
		} else {
			failWith(c, err, nil)
		}
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SyncProgress godoc
// POST /api/v1/candidate/attempts/:attempt_id/sync
// Heartbeat: pending responses plus the client's position and timers.
// Also the target of the page-close beacon, hence ?token= auth.
func (h *AttemptHandler) SyncProgress(c *gin.Context) {
	userID, attemptID, ok := attemptParams(c)
	if !ok {
		return
	}

	var req model.SyncRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.attemptService.SyncProgress(c.Request.Context(), userID, attemptID, req)
	if err != nil {
		if view != nil {
			failWith(c, err, view)
		} else {
			failWith(c, err, nil)
		}
		return
	}
	response.Success(c, http.StatusOK, view)
}

// TransitionSection godoc
// POST /api/v1/candidate/attempts/:attempt_id/transition
// A null to_section_key finishes the test.
func (h *AttemptHandler) TransitionSection(c *gin.Context) {
	userID, attemptID, ok := attemptParams(c)
	if !ok {
		return
	}

	var req model.TransitionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.attemptService.TransitionSection(c.Request.Context(), userID, attemptID, req.From, req.To)
	if err != nil {
		if view != nil {
			failWith(c, err, view)
		} else {
			failWith(c, err, nil)
		}
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SubmitAttempt godoc
// POST /api/v1/candidate/attempts/:attempt_id/submit
// Idempotent: a second submit returns the stored result.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	userID, attemptID, ok := attemptParams(c)
	if !ok {
		return
	}

	view, err := h.attemptService.SubmitAttempt(c.Request.Context(), userID, attemptID)
	if err != nil {
		failWith(c, err, nil)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// GetAttemptReview godoc
// GET /api/v1/candidate/attempts/:attempt_id/review
func (h *AttemptHandler) GetAttemptReview(c *gin.Context) {
	userID, attemptID, ok := attemptParams(c)
	if !ok {
		return
	}

	view, err := h.attemptService.GetAttemptReview(c.Request.Context(), userID, attemptID)
	if err != nil {
		failWith(c, err, nil)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// attemptParams extracts the caller and the attempt id, writing the error
// response itself when either is missing.
func attemptParams(c *gin.Context) (string, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return "", uuid.Nil, false
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return "", uuid.Nil, false
	}
	return claims.UserID, attemptID, true
}
