package retrieval

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	const step = 2 * time.Second
	tests := []struct {
		name      string
		kind      OutcomeKind
		index     int
		budget    int
		want      action
		wantDelay time.Duration
	}{
		{"success", OutcomeSuccess, 0, 3, actionSucceed, 0},
		{"success on last", OutcomeSuccess, 2, 3, actionSucceed, 0},
		{"transport first", OutcomeTransportError, 0, 3, actionBackoff, 2 * time.Second},
		{"transport second", OutcomeTransportError, 1, 3, actionBackoff, 4 * time.Second},
		{"http error", OutcomeHTTPError, 0, 3, actionBackoff, 2 * time.Second},
		{"transport last", OutcomeTransportError, 2, 3, actionExhausted, 0},
		{"challenge timeout", OutcomeChallengeTimeout, 0, 2, actionRetry, 0},
		{"challenge timeout last", OutcomeChallengeTimeout, 1, 2, actionExhausted, 0},
		{"tainted", OutcomeTaintedContent, 0, 3, actionRetry, 0},
		{"session start", OutcomeSessionStart, 0, 3, actionFail, 0},
		{"canceled", OutcomeCanceled, 0, 3, actionFail, 0},
		{"single attempt", OutcomeTransportError, 0, 1, actionExhausted, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, delay := decide(tt.kind, tt.index, tt.budget, step)
			if got != tt.want || delay != tt.wantDelay {
				t.Errorf("decide = (%v, %v), want (%v, %v)", got, delay, tt.want, tt.wantDelay)
			}
		})
	}
}

func TestAttemptLog_KeepsNewestInOrder(t *testing.T) {
	t.Parallel()

	l := NewAttemptLog(3)
	if got := l.Snapshot(); len(got) != 0 {
		t.Fatalf("empty log snapshot = %v", got)
	}
	for i := 0; i < 5; i++ {
		l.Append(Attempt{Index: i})
	}
	got := l.Snapshot()
	if len(got) != 3 || l.Len() != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, a := range got {
		if a.Index != i+2 {
			t.Errorf("entry %d index = %d, want %d", i, a.Index, i+2)
		}
	}
}

func TestAttemptLog_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	l := NewAttemptLog(0)
	markers := []string{"turnstile-widget"}
	l.Append(Attempt{Outcome: Outcome{Kind: OutcomeTaintedContent, Markers: markers}})
	markers[0] = "mutated"

	snap := l.Snapshot()
	if snap[0].Outcome.Markers[0] != "turnstile-widget" {
		t.Error("Append should copy markers")
	}
	snap[0].Outcome.Markers[0] = "mutated"
	if l.Snapshot()[0].Outcome.Markers[0] != "turnstile-widget" {
		t.Error("Snapshot should copy markers")
	}
}

func TestOutcomeKind_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Outcome{Kind: OutcomeChallengeTimeout, Status: 503})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"kind":"challenge_timeout"`) {
		t.Errorf("json = %s", b)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	got := summarize([]Attempt{
		{Index: 0, Outcome: Outcome{Kind: OutcomeTransportError}},
		{Index: 1, Outcome: Outcome{Kind: OutcomeSuccess}},
	})
	if got != "0:transport_error 1:success" {
		t.Errorf("summarize = %q", got)
	}
}

func TestInfos(t *testing.T) {
	t.Parallel()

	if Infos(nil) != nil {
		t.Error("no attempts should convert to nil")
	}
	got := Infos([]Attempt{{
		Index:    1,
		Duration: 1500 * time.Millisecond,
		Outcome:  Outcome{Kind: OutcomeTaintedContent, Status: 200, Markers: []string{"turnstile-widget"}},
	}})
	if len(got) != 1 || got[0].Outcome != "tainted_content" || got[0].Markers[0] != "turnstile-widget" {
		t.Fatalf("Infos = %+v", got)
	}
	if got[0].StatusCode != 200 || got[0].DurationMs != 1500 || got[0].Index != 1 {
		t.Errorf("Infos = %+v", got)
	}
}
