package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/caleb-collar/land-of-oz-dsm/internal/server"
)

// handleStartServer launches the game server.
func (s *Server) handleStartServer(c *gin.Context) {
	// Background context: the game server must outlive the HTTP request.
	if err := s.supervisor.StartServer(context.Background()); err != nil {
		log.Error().Err(err).Msg("API: failed to start server")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "starting"})
}

// handleStopServer gracefully stops the game server.
func (s *Server) handleStopServer(c *gin.Context) {
	if err := s.supervisor.StopServer(server.DefaultStopTimeout); err != nil {
		log.Error().Err(err).Msg("API: failed to stop server")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

// handleRestartServer stops the server and starts it again.
func (s *Server) handleRestartServer(c *gin.Context) {
	if err := s.supervisor.StopServer(server.DefaultStopTimeout); err != nil {
		log.Error().Err(err).Msg("API: stop phase of restart failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// The stop transition completes asynchronously; wait for offline
	// before relaunching.
	deadline := time.Now().Add(server.DefaultStopTimeout + 5*time.Second)
	for time.Now().Before(deadline) {
		if st := s.supervisor.Status().State; st == "offline" || st == "crashed" {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := s.supervisor.StartServer(context.Background()); err != nil {
		log.Error().Err(err).Msg("API: start phase of restart failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "restarting"})
}

// handleKillServer force-terminates the game server.
func (s *Server) handleKillServer(c *gin.Context) {
	if err := s.supervisor.KillServer(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "killed"})
}

// handleDetachServer releases the game server from supervision without
// stopping it.
func (s *Server) handleDetachServer(c *gin.Context) {
	if err := s.supervisor.DetachServer(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "detached"})
}
