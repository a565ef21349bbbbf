package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/exam-session/internal/config"
	"github.com/stemsi/exam-session/internal/handler"
	"github.com/stemsi/exam-session/internal/middleware"
	"github.com/stemsi/exam-session/internal/response"
	"github.com/stemsi/exam-session/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	limiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

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
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ─── 1. Session Group (User JWT, Rate Limited) ─────────────────────
	sessions := router.Group("/api/v1/sessions")
	sessions.Use(middleware.RequireUserJWT(authService))
	if limiter != nil {
		sessions.Use(limiter.Middleware())
	}
	{
		sessions.POST("", handlers.Session.CreateSession)
		sessions.GET("/current", handlers.Session.GetCurrentSession)
		sessions.PUT("/current/answers", handlers.Session.SaveAnswer)
		sessions.PUT("/current/progress", handlers.Session.UpdateProgress)
		sessions.POST("/current/autosave", handlers.Session.AutoSave)
		sessions.POST("/current/complete", handlers.Session.CompleteSession)
		sessions.POST("/current/cancel", handlers.Session.CancelSession)

		sessions.GET("/resume-prompt", handlers.Session.GetResumePrompt)
		sessions.POST("/resume-prompt/resume", handlers.Session.Resume)
		sessions.POST("/resume-prompt/start-new", handlers.Session.StartNew)

		sessions.GET("/exit-confirmation", handlers.Session.GetExitConfirmation)
		sessions.POST("/exit-confirmation/confirm", handlers.Session.ConfirmExit)
		sessions.POST("/exit-confirmation/dismiss", handlers.Session.DismissExit)
	}

	// ─── 2. System Group (User JWT) ────────────────────────────────────
	system := router.Group("/api/v1/system")
	system.Use(middleware.RequireUserJWT(authService))
	{
		system.GET("/status", handlers.System.Status)
	}

	// ─── 3. WebSocket (token via query param) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireUserWSAuth(authService))
	{
		ws.GET("/sessions/stream", handlers.WS.SessionStream)
	}

	return router
}
