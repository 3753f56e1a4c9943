package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt     *handler.AttemptHandler
	Leaderboard *handler.LeaderboardHandler
	WS          *handler.WSHandler
	Health      *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// syncLimiter throttles the heartbeat endpoint per candidate.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	syncLimiter *middleware.RateLimiter,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinRequests(log))

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(middleware.RequestID())
	router.Use(middleware.BrotliWithConfig(middleware.CompressionConfig{
		Quality:   middleware.DefaultCompressionConfig.Quality,
		MinLength: middleware.DefaultCompressionConfig.MinLength,
		SkipPaths: []string{"/ws/"},
	}))

	router.GET("/health", handlers.Health.Health)

	// ─── 1. Candidate Group (JWT) ──────────────────────────────────────
	// Header tokens everywhere; ?token= only where browsers cannot set
	// headers (sync beacon on page close, WebSocket upgrade).
	headerAuth := middleware.RequireCandidateJWT(authService)
	beaconAuth := middleware.RequireCandidateJWTOrQuery(authService)

	candidate := router.Group("/api/v1/candidate")
	{
		candidate.POST("/tests/:test_id/attempts", headerAuth, handlers.Attempt.StartAttempt)
		candidate.GET("/tests/:test_id/leaderboard", headerAuth, handlers.Leaderboard.GetLeaderboard)

		attempts := candidate.Group("/attempts/:attempt_id")
		{
			attempts.GET("", headerAuth, handlers.Attempt.GetAttempt)
			attempts.PUT("/responses", headerAuth, handlers.Attempt.SaveResponse)
			attempts.POST("/sync", beaconAuth, syncLimiter.Middleware(), handlers.Attempt.SyncProgress)
			attempts.POST("/transition", headerAuth, handlers.Attempt.TransitionSection)
			attempts.POST("/submit", headerAuth, handlers.Attempt.SubmitAttempt)
			attempts.GET("/review", headerAuth, handlers.Attempt.GetAttemptReview)
		}
	}

	// ─── 2. WebSocket Group (token via query) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(beaconAuth)
	{
		ws.GET("/candidate/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
