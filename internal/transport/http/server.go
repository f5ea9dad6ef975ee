package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/deskhive/chat-server/internal/auth"
	"github.com/deskhive/chat-server/internal/config"
	"github.com/deskhive/chat-server/internal/core"
)

// NewServer builds the HTTP server: websocket endpoint, auth endpoints,
// and the chat file upload/download collaborators.
func NewServer(hub *core.Hub, authService *auth.Service, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(LoggerMiddleware(logger), gin.Recovery())

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, cfg.SendBuffer, logger)))

	apiHandlers := NewAPIHandlers(authService, logger)
	uploadHandlers := NewUploadHandlers(cfg.UploadDir, cfg.MaxUploadSize, logger)

	api := router.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)
	api.GET("/chat/files/:filename", uploadHandlers.Download)

	authorized := api.Group("", AuthMiddleware(authService, logger))
	authorized.POST("/chat/upload", uploadHandlers.Upload)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, gin.H{"status": "ok"})
}
