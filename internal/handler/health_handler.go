package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/lingua-attempt/internal/config"
	"github.com/stemsi/lingua-attempt/internal/response"
)

// HealthHandler reports liveness and dependency readiness.
type HealthHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	startTime time.Time
}

func NewHealthHandler(pool *pgxpool.Pool, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{pool: pool, rdb: rdb, startTime: time.Now()}
}

type healthStatus struct {
	Status     string           `json:"status"`
	Uptime     string           `json:"uptime"`
	Postgres   string           `json:"postgres"`
	Redis      string           `json:"redis"`
	Goroutines int              `json:"goroutines"`
	Queues     map[string]int64 `json:"queues,omitempty"`
}

// Health godoc
// GET /health
// Pings PostgreSQL and Redis and reports the worker queue depths.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	st := healthStatus{
		Status:     "ok",
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		Postgres:   "ok",
		Redis:      "ok",
		Goroutines: runtime.NumGoroutine(),
	}

	if err := h.pool.Ping(ctx); err != nil {
		st.Status, st.Postgres = "degraded", err.Error()
	}

	queues := []string{
		config.WorkerKey.PersistAnswersQueue,
		config.WorkerKey.GradeRequestsQueue,
		config.WorkerKey.AttemptGradesQueue,
	}
	pipe := h.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(queues))
	for i, q := range queues {
		cmds[i] = pipe.LLen(ctx, q)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		st.Status, st.Redis = "degraded", err.Error()
	} else {
		st.Queues = make(map[string]int64, len(queues))
		for i, q := range queues {
			st.Queues[q] = cmds[i].Val()
		}
	}

	code := http.StatusOK
	if st.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	response.Success(c, code, st)
}
