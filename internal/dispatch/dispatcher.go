// Package dispatch runs the tick loop that turns due jobs into publish
// attempts. One job per tick, one attempt per wake-up; pacing between
// posts goes through a rate limiter instead of in-loop sleeps.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"postpilot/internal/eventbus"
	"postpilot/internal/job"
	"postpilot/internal/publish"
	"postpilot/internal/queue"
	"postpilot/internal/retry"
	"postpilot/internal/rotation"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

// State is the engine's run state. Paused is operator-initiated and
// reversible with Resume; ErrorPaused is entered by the retry policy and
// also reversible; Stopped is terminal for this process.
type State string

const (
	StateRunning     State = "running"
	StatePaused      State = "paused"
	StateErrorPaused State = "error_paused"
	StateStopped     State = "stopped"
)

// Config tunes the loop. Zero values pick the defaults.
type Config struct {
	// Tick is how often due jobs are checked.
	Tick time.Duration
	// PublishTimeout bounds a single publisher call; expiry surfaces as a
	// transient failure.
	PublishTimeout time.Duration
	// RateEvery is the minimum interval between publish calls. Zero
	// disables pacing.
	RateEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 10 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Minute
	}
	return c
}

// Dispatcher is the engine loop over one queue.
type Dispatcher struct {
	cfg    Config
	log    logx.Logger
	queue  *queue.Queue
	alloc  *rotation.Allocator
	policy *retry.Policy
	pub    publish.Publisher
	bus    eventbus.Bus
	audit  store.Store

	limiter *rate.Limiter

	mu       sync.Mutex
	state    State
	reason   string
	stopCh   chan struct{}
	stopDone chan struct{}
}

func New(cfg Config, q *queue.Queue, alloc *rotation.Allocator, policy *retry.Policy, pub publish.Publisher, bus eventbus.Bus, audit store.Store, log logx.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if cfg.RateEvery > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.RateEvery), 1)
	}
	d := &Dispatcher{
		cfg:     cfg,
		log:     log,
		queue:   q,
		alloc:   alloc,
		policy:  policy,
		pub:     pub,
		bus:     bus,
		audit:   audit,
		limiter: lim,
		state:   StateRunning,
	}
	if q.Paused() {
		// A persisted pause survives restarts until the operator resumes.
		d.state = StatePaused
		d.reason = "paused at last shutdown"
	}
	return d
}

// Start launches the tick loop. Safe to call once per process; a second
// call while running is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.stopCh != nil {
		d.mu.Unlock()
		return
	}
	d.stopCh = make(chan struct{})
	d.stopDone = make(chan struct{})
	stopCh, stopDone := d.stopCh, d.stopDone
	d.mu.Unlock()

	d.log.Info("dispatcher started",
		logx.Duration("tick", d.cfg.Tick),
		logx.Duration("publish_timeout", d.cfg.PublishTimeout),
		logx.Duration("rate_every", d.cfg.RateEvery))

	go func() {
		defer close(stopDone)
		ticker := time.NewTicker(d.cfg.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case now := <-ticker.C:
				if err := d.runTick(ctx, now); err != nil {
					d.fatal(err)
					return
				}
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight attempt to finish, bounded
// by ctx. Idempotent.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	stopCh, stopDone := d.stopCh, d.stopDone
	d.stopCh, d.stopDone = nil, nil
	d.state = StateStopped
	d.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	select {
	case <-stopDone:
	case <-ctx.Done():
		d.log.Warn("dispatcher stop timed out with attempt in flight")
	}
}

// State reports the engine state and, for paused states, the reason.
func (d *Dispatcher) State() (State, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.reason
}

// Pause suspends dispatch. The flag persists with the queue state.
func (d *Dispatcher) Pause(reason string) error {
	if err := d.queue.Pause(); err != nil {
		return err
	}
	d.setState(StatePaused, reason)
	d.publishEvent(EventQueuePaused, QueueEvent{State: StatePaused, Reason: reason})
	d.log.Info("dispatch paused", logx.String("reason", reason))
	return nil
}

// Resume restarts dispatch after an operator or error pause. Attempt
// counts are kept: a job that exhausted its retries stays failed.
func (d *Dispatcher) Resume() error {
	if err := d.queue.Resume(); err != nil {
		return err
	}
	d.setState(StateRunning, "")
	d.publishEvent(EventQueueResumed, QueueEvent{State: StateRunning})
	d.log.Info("dispatch resumed")
	return nil
}

// runTick processes at most one due job. A returned error is a
// persistence failure and stops the engine.
func (d *Dispatcher) runTick(ctx context.Context, now time.Time) error {
	if st, _ := d.State(); st != StateRunning {
		return nil
	}
	due := d.queue.DueJobs(now)
	if len(due) == 0 {
		return nil
	}
	next := due[0]

	cur, err := d.queue.MarkInFlight(next.ID, now)
	if err != nil {
		if isPersistence(err) {
			return err
		}
		// Raced with a cancel between DueJobs and here; skip this tick.
		d.log.Debug("job not dispatchable", logx.String("job", next.ID), logx.Err(err))
		return nil
	}
	d.publishEvent(EventJobStatus, JobEvent{JobID: cur.ID, Previous: next.Status, New: cur.Status, Attempt: cur.AttemptCount})

	start := time.Now()
	receipt, attemptErr := d.attempt(ctx, &cur)
	took := time.Since(start)
	if attemptErr != nil && isPersistence(attemptErr) {
		return attemptErr
	}

	var kind publish.ErrorKind
	summary := ""
	if attemptErr != nil {
		kind = publish.KindOf(attemptErr)
		summary = attemptErr.Error()
	}
	decision := d.policy.Decide(cur.AttemptCount, kind)

	updated, err := d.queue.MarkResult(cur.ID, decision, summary, time.Now())
	if err != nil {
		return err
	}

	d.recordAttempt(ctx, updated, took, summary, receipt)

	d.publishEvent(EventJobStatus, JobEvent{
		JobID:    updated.ID,
		Previous: cur.Status,
		New:      updated.Status,
		Attempt:  updated.AttemptCount,
		Error:    summary,
		PostRef:  receipt.PostRef,
	})

	switch updated.Status {
	case job.StatusSucceeded:
		d.log.Info("job published",
			logx.String("job", updated.ID),
			logx.Int("attempt", updated.AttemptCount),
			logx.Duration("took", took))
	case job.StatusRetrying:
		d.log.Warn("attempt failed, will retry",
			logx.String("job", updated.ID),
			logx.Int("attempt", updated.AttemptCount),
			logx.Duration("retry_in", decision.Delay),
			logx.String("error", summary))
	case job.StatusFailed:
		d.log.Error("job failed permanently",
			logx.String("job", updated.ID),
			logx.Int("attempt", updated.AttemptCount),
			logx.String("kind", string(kind)),
			logx.String("error", summary))
	}

	if decision.PauseQueue {
		reason := fmt.Sprintf("job %s failed: %s", updated.ID, summary)
		d.setState(StateErrorPaused, reason)
		d.publishEvent(EventQueueErrorPaused, QueueEvent{State: StateErrorPaused, Reason: reason})
	}
	return nil
}

// attempt resolves media and calls the publisher under the per-call
// timeout. Rotation cursor updates persist before the publish call so a
// crash mid-publish never re-serves the same file.
func (d *Dispatcher) attempt(ctx context.Context, j *job.Job) (publish.Receipt, error) {
	var refs []string
	if j.Media.Mode != job.RotationNone || j.Media.Ref != "" {
		rs, ok := d.queue.Rotation(j.Media.RotationKey)
		if !ok {
			// No seeded cursor: start before the first file, not on it.
			rs = job.RotationState{Mode: j.Media.Mode, LastIndex: -1}
		}
		resolved, updatedRS, changed, err := d.alloc.Resolve(ctx, j, rs)
		if err != nil {
			if errors.Is(err, rotation.ErrMediaNotFound) {
				return publish.Receipt{}, publish.NewError(publish.KindInvalidMedia, err)
			}
			return publish.Receipt{}, publish.NewError(publish.KindTransient, err)
		}
		if changed {
			if err := d.queue.SetRotation(j.Media.RotationKey, updatedRS); err != nil {
				return publish.Receipt{}, err
			}
		}
		refs = resolved
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return publish.Receipt{}, publish.NewError(publish.KindTransient, err)
		}
	}

	pctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()
	return d.pub.Publish(pctx, publish.Request{
		Text:       j.Text,
		MediaRefs:  refs,
		MediaLabel: j.Media.Label,
		GroupRef:   j.GroupRef,
		TokenRef:   j.TokenRef,
		PublishAt:  j.ScheduledAt,
	})
}

// recordAttempt is best-effort; audit failures never affect dispatch.
func (d *Dispatcher) recordAttempt(ctx context.Context, j job.Job, took time.Duration, summary string, receipt publish.Receipt) {
	if d.audit == nil {
		return
	}
	rec := store.AttemptRecord{
		At:       time.Now(),
		JobID:    j.ID,
		GroupRef: j.GroupRef,
		Attempt:  j.AttemptCount,
		Status:   string(j.Status),
		TookMS:   took.Milliseconds(),
		Error:    summary,
		PostRef:  receipt.PostRef,
	}
	if err := d.audit.AppendAttempt(ctx, rec); err != nil {
		d.log.Warn("audit append failed", logx.Err(err))
	}
}

// fatal stops the engine on a persistence failure: continuing against
// state that cannot be saved risks duplicate posts after a restart.
func (d *Dispatcher) fatal(err error) {
	d.log.Error("persistence failure, dispatch stopped", logx.Err(err))
	d.setState(StateStopped, err.Error())
	d.publishEvent(EventQueueError, QueueEvent{State: StateStopped, Reason: err.Error()})
}

func (d *Dispatcher) setState(s State, reason string) {
	d.mu.Lock()
	d.state = s
	d.reason = reason
	d.mu.Unlock()
}

func (d *Dispatcher) publishEvent(typ string, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func isPersistence(err error) bool {
	return errors.Is(err, store.ErrPersistence)
}
