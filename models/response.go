package models

// FetchResponse is the response for POST /api/v1/fetch.
type FetchResponse struct {
	// Success indicates whether the fetch completed without errors.
	Success bool `json:"success"`

	// URL is the requested URL.
	URL string `json:"url"`

	// FinalURL is the page URL at capture time, after redirects and
	// challenge navigations.
	FinalURL string `json:"final_url,omitempty"`

	// StatusCode is the HTTP status of the last navigation. It can be 403
	// or 503 even on success when a challenge page cleared.
	StatusCode int `json:"status_code,omitempty"`

	// HTML is the rendered document.
	HTML string `json:"html,omitempty"`

	// Attempts lists every attempt made for this request, in order.
	Attempts []AttemptInfo `json:"attempts,omitempty"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// CacheStatus indicates whether the response was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// ScreenshotResponse is the response for POST /api/v1/screenshot.
type ScreenshotResponse struct {
	Success    bool          `json:"success"`
	URL        string        `json:"url"`
	FinalURL   string        `json:"final_url,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Path       string        `json:"path,omitempty"`
	Image      string        `json:"image,omitempty"` // base64 PNG when requested
	Attempts   []AttemptInfo `json:"attempts,omitempty"`
	Timing     TimingInfo    `json:"timing"`
	Error      *ErrorDetail  `json:"error,omitempty"`
}

// ProbeResponse is the response for POST /api/v1/probe.
type ProbeResponse struct {
	Success    bool   `json:"success"`
	URL        string `json:"url"`
	FinalURL   string `json:"final_url,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Title      string `json:"title,omitempty"`

	// Challenge reports whether the raw response carries a challenge
	// signature. Signatures names the ones found.
	Challenge  bool     `json:"challenge"`
	Signatures []string `json:"signatures,omitempty"`

	Timing TimingInfo   `json:"timing"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// AttemptInfo is one retrieval attempt as reported to API clients.
type AttemptInfo struct {
	Index      int      `json:"index"`
	Outcome    string   `json:"outcome"`
	StatusCode int      `json:"status_code,omitempty"`
	FinalURL   string   `json:"final_url,omitempty"`
	DurationMs int64    `json:"duration_ms"`
	Markers    []string `json:"markers,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// QueueMs is the time spent waiting for a free browser session.
	QueueMs int64 `json:"queue_ms"`

	// RetrievalMs is the time spent in attempts.
	RetrievalMs int64 `json:"retrieval_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status            string    `json:"status"` // "healthy" or "degraded"
	Uptime            string    `json:"uptime"`
	PoolStats         PoolStats `json:"pool_stats"`
	CachedResponses   int       `json:"cached_responses"`
	Version           string    `json:"version"`
	ScriptsVersion    string    `json:"scripts_version"`
	SignaturesVersion string    `json:"signatures_version"`
}

// PoolStats reports the state of the browser session pool.
type PoolStats struct {
	Sessions       int `json:"sessions"`
	ActiveSessions int `json:"active_sessions"`
}

// ErrorResponse is the body of requests rejected before reaching a handler.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}
