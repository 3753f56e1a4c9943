package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the attempt heartbeat stream: the same sync and save
// operations as the REST endpoints over one long-lived connection.
type WSHandler struct {
	attemptService *service.AttemptService
	notifier       *ws.Notifier
	syncLimiter    *middleware.RateLimiter
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. notifier may be nil, in which case
// changes made through other connections are only seen on the next sync.
// syncLimiter is shared with POST /sync so both paths draw from one bucket
// per candidate; nil disables the check.
func NewWSHandler(attemptService *service.AttemptService, notifier *ws.Notifier, syncLimiter *middleware.RateLimiter, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		notifier:       notifier,
		syncLimiter:    syncLimiter,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// stream serializes writes: the read loop and the change forwarder share
// one connection.
type stream struct {
	conn *websocket.Conn
	mu   sync.Mutex
	// seen is the highest attempt version already sent to this client.
	seen atomic.Int64
}

func (s *stream) data(event ws.Event, v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = ws.WriteData(s.conn, event, v)
}

func (s *stream) fail(err error, data interface{}) {
	_, code := errorCode(err)
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = ws.WriteError(s.conn, string(code), response.GetMessage(code), data)
}

func (s *stream) failFields(fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = ws.WriteError(s.conn, string(response.ErrValidation), response.GetMessage(response.ErrValidation), fields)
}

func (s *stream) failCode(code response.ErrCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = ws.WriteError(s.conn, string(code), response.GetMessage(code), nil)
}

func (s *stream) typed(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = ws.WriteTyped(s.conn, v)
}

func (s *stream) observe(version int) {
	for {
		cur := s.seen.Load()
		if int64(version) <= cur || s.seen.CompareAndSwap(cur, int64(version)) {
			return
		}
	}
}

// AttemptStream godoc
// WS /ws/v1/candidate/attempts/:attempt_id/stream
// Sends the attempt state on connect, then answers sync/save/ping frames.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	userID, attemptID, ok := attemptParams(c)
	if !ok {
		return
	}

	// Resolve access before upgrading so failures are plain HTTP errors.
	initial, err := h.attemptService.GetAttempt(c.Request.Context(), userID, attemptID)
	if err != nil {
		failWith(c, err, nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("user_id", userID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Candidate connected")

	st := &stream{conn: conn}
	st.observe(initial.Attempt.Version)
	st.data(ws.EventState, initial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if h.notifier != nil {
		go h.forwardChanges(ctx, st, attemptID, wsLog)
	}

	for {
		raw, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			st.failFields(map[string]string{"detail": "malformed frame"})
			continue
		}

		switch env.Action {
		case ws.ActionSync:
			h.handleSync(ctx, st, userID, attemptID, raw)
		case ws.ActionSave:
			h.handleSave(ctx, st, userID, attemptID, raw)
		case ws.ActionPing:
			st.typed(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			st.failFields(map[string]string{"action": "unknown action: " + string(env.Action)})
		}
	}
}

func (h *WSHandler) handleSync(ctx context.Context, st *stream, userID string, attemptID uuid.UUID, raw []byte) {
	if h.syncLimiter != nil && !h.syncLimiter.Allow(middleware.UserKey(userID)) {
		st.failCode(response.ErrRateLimitExceeded)
		return
	}

	var req ws.SyncRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		st.failFields(validator.TranslateErrors(err))
		return
	}
	if fields := validator.Struct(&req.SyncRequest); fields != nil {
		st.failFields(fields)
		return
	}

	view, err := h.attemptService.SyncProgress(ctx, userID, attemptID, req.SyncRequest)
	if view != nil {
		st.observe(view.Attempt.Version)
	}
	if err != nil {
		if view != nil {
			st.fail(err, view)
		} else {
			st.fail(err, nil)
		}
		return
	}
	st.data(ws.EventSyncResult, view)
}

func (h *WSHandler) handleSave(ctx context.Context, st *stream, userID string, attemptID uuid.UUID, raw []byte) {
	var req ws.SaveRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		st.failFields(validator.TranslateErrors(err))
		return
	}
	if fields := validator.Struct(&req.SaveResponseRequest); fields != nil {
		st.failFields(fields)
		return
	}

	view, err := h.attemptService.SaveResponse(ctx, userID, attemptID, req.SaveResponseRequest)
	if view != nil {
		st.observe(view.Attempt.Version)
	}
	if err != nil {
		if view != nil {
			st.fail(err, view)
		} else {
			st.fail(err, nil)
		}
		return
	}
	st.data(ws.EventSaveResult, view)
}

// forwardChanges relays attempt changes made elsewhere (another tab, a REST
// call, another instance). Versions this client already holds are skipped.
func (h *WSHandler) forwardChanges(ctx context.Context, st *stream, attemptID uuid.UUID, log zerolog.Logger) {
	pubsub := h.notifier.Subscribe(ctx, attemptID.String())
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var head struct {
				Version int `json:"version"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &head); err != nil {
				log.Warn().Err(err).Msg("Malformed attempt change")
				continue
			}
			if int64(head.Version) <= st.seen.Load() {
				continue
			}
			st.observe(head.Version)
			st.typed(ws.ChangedResponse{Event: ws.EventChanged, Attempt: json.RawMessage(msg.Payload)})
		}
	}
}
