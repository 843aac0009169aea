package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/config"
	"github.com/stemsi/lingua-attempt/internal/model"
	"github.com/stemsi/lingua-attempt/internal/response"
	ws "github.com/stemsi/lingua-attempt/internal/websocket"
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
			if origin == "" {
				// Non-browser clients such as the exam runner send no Origin.
				return true
			}
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams attempt status and grading events.
type WSHandler struct {
	rdb      *redis.Client
	attempts Attempts
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb *redis.Client, attempts Attempts, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:      rdb,
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/learner/attempts/:attempt_id/stream?token=
// Sends a snapshot of the attempt, then forwards every event published for
// it until the attempt is graded or the client goes away.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims, attemptID, ok := claimsAndID(c, "attempt_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	// Subscribe before reading the snapshot so no event falls in between.
	sub := h.rdb.Subscribe(ctx, config.CacheKey.AttemptEventsChannel(attemptID.String()))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		h.log.Error().Err(err).Msg("Subscribe failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal)
		return
	}

	a, err := h.attempts.Get(ctx, claims.UserID, attemptID)
	if err != nil {
		status, code := errorStatus(err)
		response.Fail(c, status, code)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Debug().Msg("Stream opened")

	snapshot := ws.NewAttemptEvent(ws.EventSnapshot, a)
	if a.Status == model.AttemptStatusGraded {
		snapshot.Event = ws.EventGraded
	}
	if err := ws.WriteTyped(conn, snapshot); err != nil || snapshot.Terminal() {
		closeStream(conn)
		return
	}

	// The reader only watches for pings and disconnects; all writes happen
	// on this goroutine.
	pings := make(chan struct{}, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		ws.KeepAlive(conn)
		for {
			var req ws.RequestEnvelope
			if err := ws.ReadJSON(conn, &req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				}
				return
			}
			if req.Action == ws.ActionPing {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(ws.PingPeriod)
	defer ticker.Stop()
	events := sub.Channel()

	for {
		select {
		case <-readerDone:
			return
		case <-ticker.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		case <-pings:
			if err := ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong}); err != nil {
				return
			}
		case msg, ok := <-events:
			if !ok {
				_ = ws.WriteError(conn, "attempt events unavailable")
				closeStream(conn)
				return
			}
			if err := ws.WriteRaw(conn, []byte(msg.Payload)); err != nil {
				return
			}
			var ev ws.AttemptEvent
			if json.Unmarshal([]byte(msg.Payload), &ev) == nil && ev.Terminal() {
				wsLog.Debug().Msg("Attempt graded, closing stream")
				closeStream(conn)
				return
			}
		}
	}
}

func closeStream(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
}
