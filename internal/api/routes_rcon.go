package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type rconCommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// handleRconCommand sends a raw console command and returns its response.
func (s *Server) handleRconCommand(c *gin.Context) {
	var req rconCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	resp, err := s.supervisor.Rcon().SendCommand(req.Command)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": resp})
}

func (s *Server) handleKick(c *gin.Context) {
	s.rconAction(c, func() error {
		return s.supervisor.Rcon().Kick(c.Param("target"))
	})
}

func (s *Server) handleBan(c *gin.Context) {
	s.rconAction(c, func() error {
		return s.supervisor.Rcon().Ban(c.Param("target"))
	})
}

func (s *Server) handleUnban(c *gin.Context) {
	s.rconAction(c, func() error {
		return s.supervisor.Rcon().Unban(c.Param("target"))
	})
}

func (s *Server) handleBanned(c *gin.Context) {
	banned, err := s.supervisor.Rcon().ListBanned()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"banned": banned})
}

func (s *Server) handleSave(c *gin.Context) {
	s.rconAction(c, s.supervisor.Rcon().Save)
}

func (s *Server) handleTriggerEvent(c *gin.Context) {
	s.rconAction(c, func() error {
		return s.supervisor.Rcon().TriggerEvent(c.Param("name"))
	})
}

func (s *Server) handleStopEvent(c *gin.Context) {
	s.rconAction(c, s.supervisor.Rcon().StopEvent)
}

func (s *Server) handleSleep(c *gin.Context) {
	s.rconAction(c, s.supervisor.Rcon().Sleep)
}

func (s *Server) handleSkipTime(c *gin.Context) {
	seconds, err := strconv.Atoi(c.Param("seconds"))
	if err != nil || seconds < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seconds must be a positive integer"})
		return
	}
	s.rconAction(c, func() error {
		return s.supervisor.Rcon().SkipTime(seconds)
	})
}

func (s *Server) handleListKeys(c *gin.Context) {
	keys, err := s.supervisor.Rcon().ListGlobalKeys()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (s *Server) handleSetKey(c *gin.Context) {
	s.rconAction(c, func() error {
		return s.supervisor.Rcon().SetGlobalKey(c.Param("key"))
	})
}

func (s *Server) handleRemoveKey(c *gin.Context) {
	s.rconAction(c, func() error {
		return s.supervisor.Rcon().RemoveGlobalKey(c.Param("key"))
	})
}

func (s *Server) handleResetKeys(c *gin.Context) {
	s.rconAction(c, s.supervisor.Rcon().ResetGlobalKeys)
}

// rconAction runs one fire-and-forget admin command and maps its outcome
// onto the response.
func (s *Server) rconAction(c *gin.Context, fn func() error) {
	if err := fn(); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
