package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeSessionStart        = "SESSION_START_FAILED"
	ErrCodeSessionNotStarted   = "SESSION_NOT_STARTED"
	ErrCodePageInUse           = "PAGE_IN_USE"
	ErrCodeChallengeUnresolved = "CHALLENGE_UNRESOLVED"
	ErrCodeTaintedContent      = "CHALLENGE_MARKERS_IN_CONTENT"
	ErrCodeTransport           = "TRANSPORT_ERROR"
	ErrCodeExhausted           = "RETRIEVAL_EXHAUSTED"
	ErrCodeTimeout             = "RETRIEVAL_TIMEOUT"
	ErrCodeScreenshotWrite     = "SCREENSHOT_WRITE_FAILED"

	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Matching is by code only, so a RetrievalError
// carrying a message and a cause still matches its sentinel.
var (
	ErrSessionStart        = &RetrievalError{Code: ErrCodeSessionStart}
	ErrSessionNotStarted   = &RetrievalError{Code: ErrCodeSessionNotStarted}
	ErrPageInUse           = &RetrievalError{Code: ErrCodePageInUse}
	ErrChallengeUnresolved = &RetrievalError{Code: ErrCodeChallengeUnresolved}
	ErrTaintedContent      = &RetrievalError{Code: ErrCodeTaintedContent}
	ErrTransport           = &RetrievalError{Code: ErrCodeTransport}
	ErrExhausted           = &RetrievalError{Code: ErrCodeExhausted}
	ErrTimeout             = &RetrievalError{Code: ErrCodeTimeout}
	ErrScreenshotWrite     = &RetrievalError{Code: ErrCodeScreenshotWrite}
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RetrievalError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type RetrievalError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *RetrievalError) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return e.Code
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a RetrievalError with the same code.
func (e *RetrievalError) Is(target error) bool {
	t, ok := target.(*RetrievalError)
	return ok && t.Code == e.Code
}

// NewRetrievalError creates a new RetrievalError.
func NewRetrievalError(code, message string, err error) *RetrievalError {
	return &RetrievalError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *RetrievalError) ToDetail() *ErrorDetail {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return &ErrorDetail{Code: e.Code, Message: msg}
}

// CodeOf returns the code of the outermost RetrievalError in err's chain,
// or ErrCodeInternal when there is none.
func CodeOf(err error) string {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re.Code
	}
	return ErrCodeInternal
}
