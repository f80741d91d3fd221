// Package handler implements the HTTP endpoints of the retrieval service.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagegate/config"
	"github.com/use-agent/pagegate/models"
	"github.com/use-agent/pagegate/retrieval"
)

// Settings are the server-side defaults applied to requests.
type Settings struct {
	Retrieval     models.RetrievalDefaults
	Screenshot    retrieval.ScreenshotOptions
	ScreenshotDir string
	ProbeTimeout  int // seconds
}

// SettingsFrom derives handler settings from the configuration.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		Retrieval: models.RetrievalDefaults{
			AntiBot:     cfg.Retrieval.AntiBot,
			MaxRetries:  cfg.Retrieval.MaxRetries,
			ExtraWaitMs: int(cfg.Retrieval.ExtraWait / time.Millisecond),
			Timeout:     int(cfg.Retrieval.OperationTimeout / time.Second),
			MaxTimeout:  int(cfg.Retrieval.MaxOperationTimeout / time.Second),
		},
		Screenshot:    cfg.ScreenshotOptions(),
		ScreenshotDir: cfg.Screenshot.Dir,
		ProbeTimeout:  int(cfg.Probe.Timeout / time.Second),
	}
}

// options converts defaulted request params to retrieval options.
func options(p models.RetrievalParams) retrieval.Options {
	return retrieval.Options{
		AntiBot:    *p.AntiBot,
		MaxRetries: p.MaxRetries,
		ExtraWait:  time.Duration(*p.ExtraWaitMs) * time.Millisecond,
	}
}

// timing tracks the phases of one request.
type timing struct {
	start    time.Time
	acquired time.Time
}

func newTiming() *timing { return &timing{start: time.Now()} }

func (t *timing) info() models.TimingInfo {
	info := models.TimingInfo{TotalMs: time.Since(t.start).Milliseconds()}
	if !t.acquired.IsZero() {
		info.QueueMs = t.acquired.Sub(t.start).Milliseconds()
		info.RetrievalMs = time.Since(t.acquired).Milliseconds()
	} else {
		info.QueueMs = info.TotalMs
	}
	return info
}

// withOrchestrator runs fn on a pooled orchestrator under the request
// deadline. Failing to get a session in time is a timeout.
func withOrchestrator(ctx context.Context, pool *retrieval.Pool, tm *timing, fn func(*retrieval.Orchestrator) error) error {
	o, err := pool.Acquire(ctx)
	if err != nil {
		switch {
		case errors.Is(err, retrieval.ErrPoolClosed):
			return models.NewRetrievalError(models.ErrCodeSessionStart, "server is shutting down", err)
		case ctx.Err() != nil:
			return models.NewRetrievalError(models.ErrCodeTimeout, "no browser session became free before the deadline", err)
		default:
			return err
		}
	}
	defer pool.Release(o)
	tm.acquired = time.Now()
	return fn(o)
}

// errorDetail converts any error to an API error and its HTTP status.
func errorDetail(err error) (int, *models.ErrorDetail) {
	var re *models.RetrievalError
	if !errors.As(err, &re) {
		re = models.NewRetrievalError(models.ErrCodeInternal, "internal error", err)
	}
	return mapErrorToStatus(re), re.ToDetail()
}

func invalidInput(message string) *models.ErrorDetail {
	return &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: message}
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.RetrievalError) int {
	switch e.Code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeTransport, models.ErrCodeExhausted,
		models.ErrCodeChallengeUnresolved, models.ErrCodeTaintedContent:
		return http.StatusBadGateway // 502
	case models.ErrCodeSessionStart:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}

// requestContext bounds the request by timeout seconds.
func requestContext(c *gin.Context, seconds int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), time.Duration(seconds)*time.Second)
}
