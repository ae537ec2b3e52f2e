package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/caleb-collar/land-of-oz-dsm/internal/util"
)

// handlePing is a liveness check.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus returns the server snapshot plus host metrics.
func (s *Server) handleStatus(c *gin.Context) {
	status := s.supervisor.Status()

	resp := gin.H{
		"server": status,
		"system": util.GetSystemInfo(),
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpu
	}
	if saveDir := s.cfg.GetServerData().SaveDirectory; saveDir != "" {
		if disk, err := util.GetDiskUsage(saveDir); err == nil {
			resp["save_disk"] = disk
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handlePlayers returns the current player list.
func (s *Server) handlePlayers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"players": s.supervisor.Players()})
}

// handleLogs returns the last n lines of the server log.
func (s *Server) handleLogs(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("n", "100"))
	if err != nil || n < 1 || n > 5000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "n must be 1-5000"})
		return
	}

	lines, err := s.supervisor.RecentLogLines(n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

// handleGetConfig returns the server configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	sd := s.cfg.GetServerData()
	if sd.Password != "" {
		sd.Password = "********"
	}
	if sd.Rcon.Password != "" {
		sd.Rcon.Password = "********"
	}
	c.JSON(http.StatusOK, gin.H{"server_data": sd})
}

// handleSessionHistory returns recent player sessions.
func (s *Server) handleSessionHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history disabled"})
		return
	}
	limit := historyLimit(c)
	sessions, err := s.history.RecentSessions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// handleEventHistory returns recent server events, optionally filtered by
// kind.
func (s *Server) handleEventHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history disabled"})
		return
	}
	limit := historyLimit(c)
	evs, err := s.history.RecentEvents(c.Query("kind"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func historyLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 1000 {
		return 50
	}
	return limit
}
