package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagegate/cache"
	"github.com/use-agent/pagegate/challenge"
	"github.com/use-agent/pagegate/fingerprint"
	"github.com/use-agent/pagegate/models"
	"github.com/use-agent/pagegate/retrieval"
)

// Health serves GET /api/v1/health. The status is "degraded" while every
// browser session is busy, since new requests would queue.
func Health(pool *retrieval.Pool, cc *cache.Cache, version string, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		size, busy := pool.Size(), pool.InUse()
		status := "healthy"
		if busy >= size {
			status = "degraded"
		}

		var cached int
		if cc != nil {
			cached = cc.Len()
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:            status,
			Uptime:            time.Since(startTime).Round(time.Second).String(),
			PoolStats:         models.PoolStats{Sessions: size, ActiveSessions: busy},
			CachedResponses:   cached,
			Version:           version,
			ScriptsVersion:    fingerprint.ScriptsVersion,
			SignaturesVersion: challenge.SignaturesVersion,
		})
	}
}
