package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
)

const healthTimeout = 2 * time.Second

// PingFunc checks a backing store.
type PingFunc func(ctx context.Context) error

// HealthHandler reports liveness of the process and its dependencies.
type HealthHandler struct {
	pingStore PingFunc
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

// NewHealthHandler creates a HealthHandler. rdb may be nil.
func NewHealthHandler(pingStore PingFunc, rdb *redis.Client, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		pingStore: pingStore,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "health_handler").Logger(),
	}
}

type healthReport struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Store      string `json:"store"`
	Redis      string `json:"redis"`
	RankQueue  int64  `json:"rank_queue"`
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	GoVersion  string `json:"go_version"`
}

// Health godoc
// GET /health
// 200 when the store answers, 503 otherwise. Redis is optional and only
// reported.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	report := healthReport{
		Status:     "ok",
		Uptime:     formatDuration(time.Since(h.startTime)),
		Store:      "ok",
		Redis:      "disabled",
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		GoVersion:  runtime.Version(),
	}

	if err := h.pingStore(ctx); err != nil {
		h.log.Error().Err(err).Msg("Store health check failed")
		report.Status = "degraded"
		report.Store = "down"
	}

	if h.rdb != nil {
		pipe := h.rdb.Pipeline()
		pingCmd := pipe.Ping(ctx)
		queueCmd := pipe.LLen(ctx, config.WorkerKey.RankAttemptsQueue)
		_, _ = pipe.Exec(ctx)
		if err := pingCmd.Err(); err != nil {
			h.log.Warn().Err(err).Msg("Redis health check failed")
			report.Redis = "down"
		} else {
			report.Redis = "ok"
			report.RankQueue = queueCmd.Val()
		}
	}

	status := http.StatusOK
	if report.Store != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
