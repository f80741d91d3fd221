package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagegate/cache"
	"github.com/use-agent/pagegate/models"
	"github.com/use-agent/pagegate/retrieval"
)

// Fetch returns a handler for POST /api/v1/fetch.
//
// Flow:
//  1. Parse & validate request, apply defaults.
//  2. Serve from cache when max_age allows.
//  3. Acquire a session and run FetchContent under the request deadline.
//  4. Fill attempts and timing, store in cache, respond.
func Fetch(pool *retrieval.Pool, cc *cache.Cache, s Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		tm := newTiming()

		var req models.FetchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.FetchResponse{
				Success: false,
				Error:   invalidInput(err.Error()),
			})
			return
		}
		req.Defaults(s.Retrieval)

		cacheKey := cache.Key(req.URL, *req.AntiBot)
		if cached, hit := cc.Get(cacheKey, req.MaxAge); hit {
			cached.Timing = models.TimingInfo{TotalMs: tm.info().TotalMs}
			c.JSON(http.StatusOK, cached)
			return
		}

		ctx, cancel := requestContext(c, req.Timeout)
		defer cancel()

		var res *retrieval.Result
		err := withOrchestrator(ctx, pool, tm, func(o *retrieval.Orchestrator) error {
			var err error
			res, err = o.FetchContent(ctx, req.URL, options(req.RetrievalParams))
			return err
		})
		if err != nil {
			status, detail := errorDetail(err)
			c.JSON(status, models.FetchResponse{
				Success:  false,
				URL:      req.URL,
				Attempts: retrieval.Infos(retrieval.AttemptsOf(err)),
				Timing:   tm.info(),
				Error:    detail,
			})
			return
		}

		resp := &models.FetchResponse{
			Success:    true,
			URL:        req.URL,
			FinalURL:   res.FinalURL,
			StatusCode: res.StatusCode,
			HTML:       res.HTML,
			Attempts:   retrieval.Infos(res.Attempts),
			Timing:     tm.info(),
		}
		if req.MaxAge > 0 {
			cc.Set(cacheKey, resp)
			resp.CacheStatus = "miss"
		}
		c.JSON(http.StatusOK, resp)
	}
}
