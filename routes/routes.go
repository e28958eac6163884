package routes

import (
	"context"
	"errors"
	"net/http"

	"geoquiz/game"
	"geoquiz/handlers"
	"geoquiz/middleware"
	"geoquiz/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers bundles everything the route table needs.
type Handlers struct {
	Auth      *handlers.AuthHandler
	Session   *handlers.SessionHandler
	Results   *handlers.ResultsHandler
	Hub       *services.Hub
	Manager   *services.SessionManager
	JWTSecret string
	Origins   []string
	Logger    *zap.Logger
}

func SetupRoutes(router *gin.Engine, h Handlers) {
	api := router.Group("/api")
	{
		api.POST("/auth/guest", h.Auth.Guest)

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(h.JWTSecret))
		{
			protected.GET("/auth/profile", h.Auth.Profile)
			protected.GET("/me/session", h.Session.ActiveSession)

			sessions := protected.Group("/sessions")
			{
				sessions.POST("", h.Session.CreateSession)
				sessions.GET("/:code", h.Session.GetSession)
				sessions.POST("/:code/join", h.Session.JoinSession)
				sessions.POST("/:code/leave", h.Session.LeaveSession)
				sessions.POST("/:code/ready", h.Session.SetReady)
				sessions.POST("/:code/countdown", h.Session.StartCountdown)
				sessions.POST("/:code/start", h.Session.StartGame)
				sessions.POST("/:code/roll", h.Session.RollDice)
				sessions.POST("/:code/guess", h.Session.SubmitGuess)
				sessions.POST("/:code/skip", h.Session.SkipTurn)
				sessions.POST("/:code/hint", h.Session.UseHint)
				sessions.POST("/:code/end", h.Session.EndGame)
			}
		}

		// Public session routes
		public := api.Group("/sessions")
		{
			public.GET("/:code/qr", h.Results.JoinQR)
			public.GET("/:code/results", h.Results.GetResults)
		}
		api.GET("/leaderboard", h.Results.Leaderboard)
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: originChecker(h.Origins),
	}

	// WebSocket endpoint streaming one session's events
	router.GET("/ws/:code", middleware.AuthMiddleware(h.JWTSecret), func(c *gin.Context) {
		code := game.NormalizeCode(c.Param("code"))
		id := services.Identity{
			AccountID:   c.GetString(middleware.ContextAccountID),
			DisplayName: c.GetString(middleware.ContextDisplayName),
		}
		logger := h.Logger.With(zap.String("code", code), zap.String("player_id", id.AccountID))

		// Reject before the upgrade so the client gets a status code
		session, err := h.Manager.Snapshot(c.Request.Context(), code)
		if errors.Is(err, game.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if session.PlayerIndex(id.AccountID) < 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": "Player not found in session"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		// The request context ends with the handler; the client outlives it
		ctx := context.WithoutCancel(c.Request.Context())
		if _, err := h.Hub.RegisterClient(ctx, conn, id, code); err != nil {
			logger.Warn("websocket registration failed", zap.Error(err))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
			conn.Close()
			return
		}
		logger.Info("websocket connected")
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": h.Manager.ActorCount(), "clients": h.Hub.ClientCount()})
	})
}

// originChecker allows the configured origins, or any origin when none are
// configured.
func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(r *http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
