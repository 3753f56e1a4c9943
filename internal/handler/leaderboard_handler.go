package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/worker"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// LeaderboardStore reads ranked attempts from persistent storage.
type LeaderboardStore interface {
	Leaderboard(ctx context.Context, testID uuid.UUID, limit int) ([]model.LeaderboardEntry, error)
}

// LeaderboardHandler serves a test's top scores.
type LeaderboardHandler struct {
	store LeaderboardStore
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewLeaderboardHandler creates a new LeaderboardHandler. rdb may be nil.
func NewLeaderboardHandler(store LeaderboardStore, rdb *redis.Client, log zerolog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "leaderboard_handler").Logger(),
	}
}

// GetLeaderboard godoc
// GET /api/v1/candidate/tests/:test_id/leaderboard?limit=10
// Reads the live sorted set when Redis is available, the persisted ranks
// otherwise.
func (h *LeaderboardHandler) GetLeaderboard(c *gin.Context) {
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	limit := defaultLeaderboardLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLeaderboardLimit {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
				map[string]string{"limit": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	var entries []model.LeaderboardEntry
	if h.rdb != nil {
		entries, err = worker.TopN(ctx, h.rdb, testID.String(), limit)
		if err != nil {
			h.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Leaderboard cache read failed, using store")
		}
	}
	if len(entries) == 0 {
		entries, err = h.store.Leaderboard(ctx, testID, limit)
		if err != nil {
			h.log.Error().Err(err).Str("test_id", testID.String()).Msg("Leaderboard read failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}

	response.Success(c, http.StatusOK, gin.H{"entries": entries})
}
