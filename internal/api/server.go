// Package api implements the REST API for the manager: server status and
// lifecycle control, player and history queries, log access, and the admin
// command surface over RCON.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/caleb-collar/land-of-oz-dsm/internal/config"
	"github.com/caleb-collar/land-of-oz-dsm/internal/db"
	intnet "github.com/caleb-collar/land-of-oz-dsm/internal/network"
	"github.com/caleb-collar/land-of-oz-dsm/internal/server"
)

// Server is the REST API server.
type Server struct {
	cfg        *config.Config
	supervisor *server.Supervisor
	history    *db.HistoryStore

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server. history may be nil when persistence is
// disabled; the history routes then return 404.
func NewServer(cfg *config.Config, supervisor *server.Supervisor, history *db.HistoryStore) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:        cfg,
		supervisor: supervisor,
		history:    history,
	}
}

// Start binds the listener and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", s.cfg.GetApplicationData().API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR allows immediate rebinding after an unclean exit.
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.GetApplicationData().API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/status", s.handleStatus)
		api.GET("/players", s.handlePlayers)
		api.GET("/logs", s.handleLogs)
		api.GET("/config", s.handleGetConfig)

		api.GET("/history/sessions", s.handleSessionHistory)
		api.GET("/history/events", s.handleEventHistory)

		srv := api.Group("/server")
		{
			srv.POST("/start", s.handleStartServer)
			srv.POST("/stop", s.handleStopServer)
			srv.POST("/restart", s.handleRestartServer)
			srv.POST("/kill", s.handleKillServer)
			srv.POST("/detach", s.handleDetachServer)
		}

		rc := api.Group("/rcon")
		{
			rc.POST("/command", s.handleRconCommand)
			rc.POST("/kick/:target", s.handleKick)
			rc.POST("/ban/:target", s.handleBan)
			rc.DELETE("/ban/:target", s.handleUnban)
			rc.GET("/banned", s.handleBanned)
			rc.POST("/save", s.handleSave)
			rc.POST("/event/:name", s.handleTriggerEvent)
			rc.DELETE("/event", s.handleStopEvent)
			rc.POST("/sleep", s.handleSleep)
			rc.POST("/skiptime/:seconds", s.handleSkipTime)
			rc.GET("/keys", s.handleListKeys)
			rc.POST("/keys/:key", s.handleSetKey)
			rc.DELETE("/keys/:key", s.handleRemoveKey)
			rc.DELETE("/keys", s.handleResetKeys)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}
