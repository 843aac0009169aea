package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/config"
	"github.com/stemsi/lingua-attempt/internal/handler"
	"github.com/stemsi/lingua-attempt/internal/metrics"
	"github.com/stemsi/lingua-attempt/internal/middleware"
	"github.com/stemsi/lingua-attempt/internal/response"
)

// examCacheSeconds is how long a learner's client may reuse an exam payload.
const examCacheSeconds = 300

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	Health  *handler.HealthHandler
}

// Guards are the authentication collaborators of the protected groups.
type Guards struct {
	Tokens      middleware.TokenValidator
	Sessions    middleware.SessionValidator
	AuthLimiter *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, guards Guards, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

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

	router.Use(response.RequestIDMiddleware())
	router.Use(response.AccessLog(log))
	router.Use(metrics.Middleware())

	if handlers.Health != nil {
		router.GET("/health", handlers.Health.Health)
	}
	router.GET("/metrics", metrics.Handler())

	requireLearner := []gin.HandlerFunc{
		middleware.RequireLearnerJWT(guards.Tokens),
		middleware.CheckActiveSession(guards.Sessions),
	}

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		login := []gin.HandlerFunc{handlers.Auth.Login}
		if guards.AuthLimiter != nil {
			login = append([]gin.HandlerFunc{guards.AuthLimiter.Middleware()}, login...)
		}
		auth.POST("/login", login...)

		authed := auth.Group("", requireLearner...)
		authed.GET("/me", handlers.Auth.Me)
		authed.POST("/logout", handlers.Auth.Logout)
	}

	// ─── 2. Learner Group (JWT + active session) ───────────────────────
	learner := router.Group("/api/v1/learner", requireLearner...)
	learner.Use(middleware.Brotli())
	{
		learner.GET("/exams/:exam_id", middleware.PrivateCache(examCacheSeconds), handlers.Attempt.GetExam)

		attempts := learner.Group("", middleware.NoStore())
		attempts.GET("/exams/:exam_id/eligibility", handlers.Attempt.Eligibility)
		attempts.POST("/exams/:exam_id/attempts", handlers.Attempt.CreateAttempt)
		attempts.GET("/exams/:exam_id/attempts", handlers.Attempt.ListAttempts)
		attempts.GET("/attempts/:attempt_id", handlers.Attempt.GetAttempt)
		attempts.PUT("/attempts/:attempt_id/answers", handlers.Attempt.SubmitAnswer)
		attempts.POST("/attempts/:attempt_id/submit", handlers.Attempt.SubmitAttempt)
		attempts.GET("/stats", handlers.Attempt.Stats)
	}

	// ─── 3. WebSocket Group (query token) ──────────────────────────────
	if handlers.WS != nil {
		wsGroup := router.Group("/ws/v1/learner",
			middleware.RequireLearnerWSAuth(guards.Tokens),
			middleware.CheckActiveSession(guards.Sessions),
		)
		wsGroup.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
