// Package retry maps (attempt count, publish outcome) to the next action.
// The policy is pure: it owns no clocks, no state, no side effects.
package retry

import (
	"time"

	"postpilot/internal/publish"
)

// Outcome is the policy's verdict for one attempt.
type Outcome int

const (
	// Succeed: mark the job succeeded.
	Succeed Outcome = iota
	// Retry: re-queue the job, eligible again after Decision.Delay.
	Retry
	// Fail: mark the job permanently failed.
	Fail
)

// Decision is what the dispatcher applies to the queue.
//
// PauseQueue halts the whole queue for operator review: exhausted retries
// and non-retryable failures usually indicate systemic misconfiguration
// (bad token, bad destination), so burning through the remaining jobs
// would only multiply the damage.
type Decision struct {
	Outcome    Outcome
	Delay      time.Duration
	PauseQueue bool
}

// Config controls the retry curve.
//
// Delay is the base delay between attempts (default 1 minute). Exactly one
// shaping knob may be set:
//   - Exponential: delay × 2^attempt, capped at MaxDelay
//   - Linear: delay × attempt, capped at MaxDelay
//
// With neither set the delay is fixed.
type Config struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Exponential bool
	Linear      bool
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Delay <= 0 {
		c.Delay = time.Minute
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 15 * time.Minute
	}
	return c
}

type Policy struct {
	cfg Config
}

func New(cfg Config) *Policy {
	return &Policy{cfg: cfg.withDefaults()}
}

// MaxAttempts returns the effective attempt ceiling.
func (p *Policy) MaxAttempts() int { return p.cfg.MaxAttempts }

// Decide maps the outcome of attempt number attempt (1-based: the count
// AFTER the attempt was made) to the next action.
func (p *Policy) Decide(attempt int, kind publish.ErrorKind) Decision {
	if kind == "" {
		return Decision{Outcome: Succeed}
	}
	if !kind.Retryable() {
		// Authorization, invalid destination, malformed media: retrying
		// cannot help, and the rest of the queue likely shares the problem.
		return Decision{Outcome: Fail, PauseQueue: true}
	}
	if attempt >= p.cfg.MaxAttempts {
		return Decision{Outcome: Fail, PauseQueue: true}
	}
	return Decision{Outcome: Retry, Delay: p.delayFor(attempt)}
}

func (p *Policy) delayFor(attempt int) time.Duration {
	d := p.cfg.Delay
	switch {
	case p.cfg.Exponential:
		for i := 0; i < attempt; i++ {
			d *= 2
			if d >= p.cfg.MaxDelay {
				return p.cfg.MaxDelay
			}
		}
	case p.cfg.Linear:
		d = p.cfg.Delay * time.Duration(attempt)
	}
	if d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	return d
}
