package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-dm/internal/auth"
	"github.com/vovakirdan/wirechat-dm/internal/config"
	"github.com/vovakirdan/wirechat-dm/internal/core"
	"github.com/vovakirdan/wirechat-dm/internal/service/friends"
	"github.com/vovakirdan/wirechat-dm/internal/store"
)

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Auth     *auth.Service
	Friends  *friends.Service
	Store    store.Store
	Registry *core.Registry
	Router   *core.Router
}

// NewServer builds the HTTP server with REST and WebSocket routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler builds the gin engine wrapped in CORS handling.
func NewHandler(deps Deps, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	apiHandlers := NewAPIHandlers(deps.Auth, logger)
	userHandlers := NewUserHandlers(deps.Store, deps.Registry, logger)
	friendsHandlers := NewFriendsHandlers(deps.Friends, deps.Store, logger)
	conversationHandlers := NewConversationHandlers(deps.Router, deps.Store, cfg.HistoryLimit, logger)
	wsHandler := NewWSHandler(deps, cfg, logger)

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(wsHandler))

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	protected := api.Group("")
	protected.Use(AuthMiddleware(deps.Auth, logger))
	{
		protected.GET("/users/search", userHandlers.SearchUsers)
		protected.GET("/users/:id/presence", userHandlers.Presence)

		protected.GET("/friends", friendsHandlers.ListFriends)
		protected.GET("/friends/incoming", friendsHandlers.ListIncoming)
		protected.GET("/friends/sent", friendsHandlers.ListSent)
		protected.POST("/friends/requests", friendsHandlers.SendRequest)
		protected.PUT("/friends/requests/:id/accept", friendsHandlers.AcceptRequest)
		protected.PUT("/friends/requests/:id/reject", friendsHandlers.RejectRequest)
		protected.DELETE("/friends/requests/:id", friendsHandlers.CancelRequest)

		protected.GET("/conversations/:peer/messages", conversationHandlers.History)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{stdhttp.MethodGet, stdhttp.MethodPost, stdhttp.MethodPut, stdhttp.MethodDelete, stdhttp.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
