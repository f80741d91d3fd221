package models

// RetrievalParams are the retry and challenge settings shared by fetch and
// screenshot requests.
type RetrievalParams struct {
	// AntiBot enables challenge detection, waiting and the taint scan.
	// Default: server setting (true).
	AntiBot *bool `json:"anti_bot,omitempty"`

	// MaxRetries is the total number of attempts.
	// Default: server setting (3). Max: 10.
	MaxRetries int `json:"max_retries,omitempty" binding:"omitempty,min=1,max=10"`

	// ExtraWaitMs is slept after the page settles, before capture.
	// Default: server setting (3000). Max: 60000.
	ExtraWaitMs *int `json:"extra_wait_ms,omitempty" binding:"omitempty,min=0,max=60000"`

	// Timeout is the deadline in seconds for the whole operation, including
	// every attempt. Default: server setting (180). Capped by the server.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1"`
}

// RetrievalDefaults fill unset RetrievalParams fields.
type RetrievalDefaults struct {
	AntiBot     bool
	MaxRetries  int
	ExtraWaitMs int
	Timeout     int // seconds
	MaxTimeout  int // seconds
}

// Defaults applies d to unset fields and caps Timeout at d.MaxTimeout.
func (p *RetrievalParams) Defaults(d RetrievalDefaults) {
	if p.AntiBot == nil {
		v := d.AntiBot
		p.AntiBot = &v
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.ExtraWaitMs == nil {
		v := d.ExtraWaitMs
		p.ExtraWaitMs = &v
	}
	if p.Timeout == 0 {
		p.Timeout = d.Timeout
	}
	if d.MaxTimeout > 0 && p.Timeout > d.MaxTimeout {
		p.Timeout = d.MaxTimeout
	}
}

// FetchRequest is the payload for POST /api/v1/fetch.
type FetchRequest struct {
	// URL is the page to retrieve. Required.
	URL string `json:"url" binding:"required,url"`

	RetrievalParams

	// MaxAge serves a cached response younger than this many milliseconds.
	// 0 disables the cache for this request.
	MaxAge int64 `json:"max_age,omitempty" binding:"omitempty,min=0"`
}

// ScreenshotRequest is the payload for POST /api/v1/screenshot.
type ScreenshotRequest struct {
	// URL is the page to capture. Required.
	URL string `json:"url" binding:"required,url"`

	RetrievalParams

	// Path is where the PNG is written on the server. Empty generates a
	// name under the configured screenshot directory.
	Path string `json:"path,omitempty"`

	// FullPage captures the whole scrollable page. Default: server setting.
	FullPage *bool `json:"full_page,omitempty"`

	// Width and Height set the viewport. Default: server setting (1920x1080).
	Width  int `json:"width,omitempty" binding:"omitempty,min=100,max=7680"`
	Height int `json:"height,omitempty" binding:"omitempty,min=100,max=4320"`

	// IncludeImage returns the PNG base64-encoded in the response.
	IncludeImage bool `json:"include_image,omitempty"`
}

// ProbeRequest is the payload for POST /api/v1/probe.
type ProbeRequest struct {
	// URL is the page to probe. Required.
	URL string `json:"url" binding:"required,url"`

	// Timeout in seconds. Default: server setting (15). Max: 60.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=60"`
}

// Defaults applies default values to unset fields.
func (r *ProbeRequest) Defaults(timeout int) {
	if r.Timeout == 0 {
		r.Timeout = timeout
	}
}
