package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sacredlobby/sacredlobby/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": util.AppName,
		"version": s.deps.Version,
	})
}

// handleInfo describes the lobby process and its host.
func (s *Server) handleInfo(c *gin.Context) {
	sysInfo := util.GetSystemInfo()

	var publicIP string
	if s.deps.Resolver != nil {
		if ip := s.deps.Resolver.PublicIP(); ip != nil {
			publicIP = ip.String()
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"version":         s.deps.Version,
		"instance_id":     s.instanceID,
		"started_at":      s.startedAt,
		"uptime_seconds":  int64(time.Since(s.startedAt).Seconds()),
		"public_ip":       publicIP,
		"hostname":        sysInfo.Hostname,
		"os":              sysInfo.OS,
		"architecture":    sysInfo.Architecture,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
		"go_version":      sysInfo.GoVersion,
	})
}
