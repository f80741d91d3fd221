package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagegate/models"
	"github.com/use-agent/pagegate/probe"
)

// Probe returns a handler for POST /api/v1/probe. It fetches the URL over
// plain HTTP and reports whether a challenge page was served, without using
// a browser session.
func Probe(p *probe.Prober, s Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req models.ProbeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ProbeResponse{
				Success: false,
				Error:   invalidInput(err.Error()),
			})
			return
		}
		req.Defaults(s.ProbeTimeout)

		ctx, cancel := requestContext(c, req.Timeout)
		defer cancel()

		res, err := p.Probe(ctx, req.URL)
		timing := models.TimingInfo{TotalMs: time.Since(start).Milliseconds()}
		timing.RetrievalMs = timing.TotalMs
		if err != nil {
			status, detail := errorDetail(err)
			c.JSON(status, models.ProbeResponse{
				Success: false,
				URL:     req.URL,
				Timing:  timing,
				Error:   detail,
			})
			return
		}

		c.JSON(http.StatusOK, models.ProbeResponse{
			Success:    true,
			URL:        req.URL,
			FinalURL:   res.FinalURL,
			StatusCode: res.StatusCode,
			Title:      res.Title,
			Challenge:  res.Challenge(),
			Signatures: res.Signatures,
			Timing:     timing,
		})
	}
}
