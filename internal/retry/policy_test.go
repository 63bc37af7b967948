package retry

import (
	"testing"
	"time"

	"postpilot/internal/publish"
)

func TestDecideOutcomes(t *testing.T) {
	t.Parallel()
	p := New(Config{MaxAttempts: 3, Delay: time.Minute})

	tests := []struct {
		name    string
		attempt int
		kind    publish.ErrorKind
		outcome Outcome
		pause   bool
	}{
		{name: "success", attempt: 1, kind: "", outcome: Succeed},
		{name: "transient first attempt", attempt: 1, kind: publish.KindTransient, outcome: Retry},
		{name: "transient second attempt", attempt: 2, kind: publish.KindTransient, outcome: Retry},
		{name: "transient at ceiling", attempt: 3, kind: publish.KindTransient, outcome: Fail, pause: true},
		{name: "auth never retries", attempt: 1, kind: publish.KindAuth, outcome: Fail, pause: true},
		{name: "invalid media never retries", attempt: 1, kind: publish.KindInvalidMedia, outcome: Fail, pause: true},
		{name: "rate limited retries", attempt: 1, kind: publish.KindRateLimited, outcome: Retry},
		{name: "unknown treated as transient", attempt: 1, kind: publish.KindUnknown, outcome: Retry},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.attempt, tt.kind)
			if d.Outcome != tt.outcome {
				t.Fatalf("Outcome = %v, want %v", d.Outcome, tt.outcome)
			}
			if d.PauseQueue != tt.pause {
				t.Fatalf("PauseQueue = %v, want %v", d.PauseQueue, tt.pause)
			}
		})
	}
}

func TestDecideNeverExceedsMaxAttempts(t *testing.T) {
	t.Parallel()
	p := New(Config{MaxAttempts: 3, Delay: time.Minute})
	for attempt := 3; attempt <= 10; attempt++ {
		d := p.Decide(attempt, publish.KindTransient)
		if d.Outcome != Fail {
			t.Fatalf("attempt %d: Outcome = %v, want Fail", attempt, d.Outcome)
		}
	}
}

func TestFixedDelay(t *testing.T) {
	t.Parallel()
	p := New(Config{MaxAttempts: 5, Delay: 30 * time.Second})
	for attempt := 1; attempt <= 4; attempt++ {
		d := p.Decide(attempt, publish.KindTransient)
		if d.Delay != 30*time.Second {
			t.Fatalf("attempt %d: Delay = %v, want 30s", attempt, d.Delay)
		}
	}
}

func TestLinearDelay(t *testing.T) {
	t.Parallel()
	p := New(Config{MaxAttempts: 5, Delay: time.Minute, MaxDelay: time.Hour, Linear: true})

	for attempt, want := range map[int]time.Duration{
		1: time.Minute,
		2: 2 * time.Minute,
		3: 3 * time.Minute,
	} {
		d := p.Decide(attempt, publish.KindTransient)
		if d.Delay != want {
			t.Fatalf("attempt %d: Delay = %v, want %v", attempt, d.Delay, want)
		}
	}
}

func TestExponentialDelayCapped(t *testing.T) {
	t.Parallel()
	p := New(Config{MaxAttempts: 10, Delay: time.Minute, MaxDelay: 5 * time.Minute, Exponential: true})

	if d := p.Decide(1, publish.KindTransient); d.Delay != 2*time.Minute {
		t.Fatalf("attempt 1: Delay = %v, want 2m", d.Delay)
	}
	if d := p.Decide(2, publish.KindTransient); d.Delay != 4*time.Minute {
		t.Fatalf("attempt 2: Delay = %v, want 4m", d.Delay)
	}
	if d := p.Decide(5, publish.KindTransient); d.Delay != 5*time.Minute {
		t.Fatalf("attempt 5: Delay = %v, want cap 5m", d.Delay)
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	p := New(Config{})
	if p.MaxAttempts() != 3 {
		t.Fatalf("MaxAttempts = %d, want 3", p.MaxAttempts())
	}
	d := p.Decide(1, publish.KindTransient)
	if d.Delay != time.Minute {
		t.Fatalf("Delay = %v, want 1m", d.Delay)
	}
}
