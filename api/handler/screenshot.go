package handler

import (
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagegate/models"
	"github.com/use-agent/pagegate/retrieval"
)

// Screenshot returns a handler for POST /api/v1/screenshot.
//
// Client paths are confined to the configured screenshot directory; an empty
// path gets a generated name there.
func Screenshot(pool *retrieval.Pool, s Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		tm := newTiming()

		var req models.ScreenshotRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScreenshotResponse{
				Success: false,
				Error:   invalidInput(err.Error()),
			})
			return
		}
		req.Defaults(s.Retrieval)

		dest, ok := confine(s.ScreenshotDir, req.Path)
		if !ok {
			c.JSON(http.StatusBadRequest, models.ScreenshotResponse{
				Success: false,
				URL:     req.URL,
				Error:   invalidInput("path must be relative to the screenshot directory"),
			})
			return
		}

		opts := s.Screenshot
		opts.Options = options(req.RetrievalParams)
		if req.FullPage != nil {
			opts.FullPage = *req.FullPage
		}
		if req.Width > 0 {
			opts.Width = req.Width
		}
		if req.Height > 0 {
			opts.Height = req.Height
		}

		ctx, cancel := requestContext(c, req.Timeout)
		defer cancel()

		var shot *retrieval.Screenshot
		err := withOrchestrator(ctx, pool, tm, func(o *retrieval.Orchestrator) error {
			var err error
			shot, err = o.CaptureScreenshot(ctx, req.URL, dest, opts)
			return err
		})
		if err != nil {
			status, detail := errorDetail(err)
			c.JSON(status, models.ScreenshotResponse{
				Success:  false,
				URL:      req.URL,
				Attempts: retrieval.Infos(retrieval.AttemptsOf(err)),
				Timing:   tm.info(),
				Error:    detail,
			})
			return
		}

		resp := models.ScreenshotResponse{
			Success:    true,
			URL:        req.URL,
			FinalURL:   shot.FinalURL,
			StatusCode: shot.StatusCode,
			Path:       shot.Path,
			Attempts:   retrieval.Infos(shot.Attempts),
		}
		if req.IncludeImage {
			png, err := os.ReadFile(shot.Path)
			if err != nil {
				status, detail := errorDetail(models.NewRetrievalError(models.ErrCodeScreenshotWrite, "read back screenshot", err))
				resp.Success, resp.Error = false, detail
				resp.Timing = tm.info()
				c.JSON(status, resp)
				return
			}
			resp.Image = base64.StdEncoding.EncodeToString(png)
		}
		resp.Timing = tm.info()
		c.JSON(http.StatusOK, resp)
	}
}

// confine joins a client path under dir. Empty stays empty so the
// orchestrator generates a name.
func confine(dir, p string) (string, bool) {
	if p == "" {
		return "", true
	}
	if filepath.IsAbs(p) || !filepath.IsLocal(p) {
		return "", false
	}
	if filepath.Ext(p) == "" {
		p += ".png"
	}
	return filepath.Join(dir, p), true
}
