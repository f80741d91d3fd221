package retrieval

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/pagegate/models"
)

// OutcomeKind classifies how one attempt ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeChallengeTimeout
	OutcomeTaintedContent
	OutcomeHTTPError
	OutcomeTransportError
	OutcomeSessionStart
	OutcomeCanceled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeChallengeTimeout:
		return "challenge_timeout"
	case OutcomeTaintedContent:
		return "tainted_content"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeSessionStart:
		return "session_start"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MarshalText lets outcome kinds render as names in JSON and logs.
func (k OutcomeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Outcome is the result of one attempt. Which fields are set depends on Kind:
// FinalURL and ContentLength on success, Status on HTTP errors (and whenever
// the navigation reported one), Markers on tainted content, Message on
// transport and session errors.
type Outcome struct {
	Kind          OutcomeKind `json:"kind"`
	Status        int         `json:"status,omitempty"`
	FinalURL      string      `json:"final_url,omitempty"`
	ContentLength int         `json:"content_length,omitempty"`
	Markers       []string    `json:"markers,omitempty"`
	Message       string      `json:"message,omitempty"`
}

// Attempt is one entry of the attempt log. It is never mutated once recorded.
type Attempt struct {
	URL       string        `json:"url"`
	Index     int           `json:"index"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Outcome   Outcome       `json:"outcome"`
}

func (a Attempt) clone() Attempt {
	if a.Outcome.Markers != nil {
		a.Outcome.Markers = append([]string(nil), a.Outcome.Markers...)
	}
	return a
}

// Info converts the attempt for API and CLI output.
func (a Attempt) Info() models.AttemptInfo {
	return models.AttemptInfo{
		Index:      a.Index,
		Outcome:    a.Outcome.Kind.String(),
		StatusCode: a.Outcome.Status,
		FinalURL:   a.Outcome.FinalURL,
		DurationMs: a.Duration.Milliseconds(),
		Markers:    a.Outcome.Markers,
		Message:    a.Outcome.Message,
	}
}

// Infos converts attempts with Info. No attempts yield nil.
func Infos(attempts []Attempt) []models.AttemptInfo {
	if len(attempts) == 0 {
		return nil
	}
	out := make([]models.AttemptInfo, len(attempts))
	for i, a := range attempts {
		out[i] = a.Info()
	}
	return out
}

// Failure is the error of a failed operation. It carries the attempts made
// and unwraps to the retrieval error.
type Failure struct {
	Attempts []Attempt
	Err      error
}

func (f *Failure) Error() string { return f.Err.Error() }
func (f *Failure) Unwrap() error { return f.Err }

// AttemptsOf returns the attempts carried by err, or nil.
func AttemptsOf(err error) []Attempt {
	var f *Failure
	if errors.As(err, &f) {
		return f.Attempts
	}
	return nil
}

func failure(err error, attempts []Attempt) error {
	if len(attempts) == 0 {
		return err
	}
	return &Failure{Attempts: attempts, Err: err}
}

// action is what the attempt loop does after an attempt.
type action int

const (
	actionSucceed action = iota
	actionRetry           // next attempt immediately; its jitter still applies
	actionBackoff         // sleep, then next attempt
	actionFail            // surface this attempt's error as is
	actionExhausted       // budget spent; wrap the last error
)

func (a action) String() string {
	return [...]string{"succeed", "retry", "backoff", "fail", "exhausted"}[a]
}

// decide maps an attempt outcome to the next step of the loop. index is the
// zero-based attempt index and budget the total number of attempts.
func decide(kind OutcomeKind, index, budget int, backoffStep time.Duration) (action, time.Duration) {
	switch kind {
	case OutcomeSuccess:
		return actionSucceed, 0
	case OutcomeSessionStart, OutcomeCanceled:
		return actionFail, 0
	}
	if index+1 >= budget {
		return actionExhausted, 0
	}
	switch kind {
	case OutcomeTransportError, OutcomeHTTPError:
		return actionBackoff, time.Duration(index+1) * backoffStep
	default:
		return actionRetry, 0
	}
}

// DefaultAttemptLogSize is the number of attempts an AttemptLog keeps.
const DefaultAttemptLogSize = 32

// AttemptLog is a bounded, concurrency-safe ring of recent attempts.
type AttemptLog struct {
	mu      sync.Mutex
	entries []Attempt
	next    int
	full    bool
}

// NewAttemptLog returns a log keeping the last size attempts.
func NewAttemptLog(size int) *AttemptLog {
	if size <= 0 {
		size = DefaultAttemptLogSize
	}
	return &AttemptLog{entries: make([]Attempt, size)}
}

// Append records an attempt, evicting the oldest when full.
func (l *AttemptLog) Append(a Attempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = a.clone()
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Snapshot returns the recorded attempts, oldest first.
func (l *AttemptLog) Snapshot() []Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Attempt
	if l.full {
		out = make([]Attempt, 0, len(l.entries))
		for i := l.next; i < len(l.entries); i++ {
			out = append(out, l.entries[i].clone())
		}
	}
	for i := 0; i < l.next; i++ {
		out = append(out, l.entries[i].clone())
	}
	return out
}

// Len returns the number of recorded attempts.
func (l *AttemptLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}

// summarize renders attempts as "0:transport_error 1:success" for logs.
func summarize(attempts []Attempt) string {
	parts := make([]string, len(attempts))
	for i, a := range attempts {
		parts[i] = strconv.Itoa(a.Index) + ":" + a.Outcome.Kind.String()
	}
	return strings.Join(parts, " ")
}
