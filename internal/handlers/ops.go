package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/mrdjehknhc/axtest/internal/notify"
	"github.com/mrdjehknhc/axtest/internal/service"
)

// NewOpsRouter HTTP endpoints for operators: prometheus metrics, monitor stats, health and event feed
func NewOpsRouter(monitor *service.Monitor, feed *notify.Feed) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "running": monitor.IsRunning()})
	})
	r.GET("/stats", func(c *gin.Context) {
		stats, err := monitor.Stats(c.Request.Context())
		if err != nil {
			log.WithError(err).Error("ops handler / stats")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"running":          stats.Running,
			"interval_seconds": stats.Interval.Seconds(),
			"total_positions":  stats.TotalPositions,
			"active_users":     stats.ActiveUsers,
			"session_active":   stats.SessionActive,
			"feed_clients":     feed.Clients(),
		})
	})
	r.GET("/events", gin.WrapH(feed))
	return r
}
