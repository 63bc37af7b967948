// Package queue owns the in-memory queue state and is the only writer of
// the persisted state document. Every mutating operation persists the full
// state synchronously before returning, so a crash immediately after a
// successful call never loses the mutation.
package queue

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"postpilot/internal/job"
	"postpilot/internal/retry"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

var (
	// ErrValidation marks bad input to Enqueue; the queue is unaffected.
	ErrValidation = errors.New("queue: validation failed")

	ErrNotFound = errors.New("queue: job not found")

	// ErrInFlight: the job is already dispatched and cannot be recalled.
	ErrInFlight = errors.New("queue: job is in flight")

	ErrTerminal = errors.New("queue: job is terminal")
)

// Stats are the queue-level progress counters.
type Stats struct {
	Total     int
	Pending   int
	Retrying  int
	InFlight  int
	Succeeded int
	Failed    int
	Cancelled int
}

// Queue is the ordered, mutable job collection with pause/cancel controls.
//
// All access goes through one mutex: producer-side calls (enqueue, pause,
// cancel) and dispatcher-side status updates can never interleave
// inconsistently.
type Queue struct {
	mu   sync.Mutex
	log  logx.Logger
	file *store.StateFile
	st   *job.State
}

// Open loads the last durable state from file and returns a queue over it.
func Open(file *store.StateFile, log logx.Logger) (*Queue, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := file.Load()
	if err != nil {
		return nil, err
	}
	q := &Queue{log: log, file: file, st: st}
	if n := len(st.Jobs); n > 0 {
		log.Info("queue state loaded", logx.String("path", file.Path()), logx.Int("jobs", n), logx.Bool("paused", st.Paused))
	}
	return q, nil
}

// Enqueue appends jobs and merges rotation states in one atomic persist.
// Past-due jobs are accepted and simply run on the next tick.
func (q *Queue) Enqueue(jobs []job.Job, rotations map[string]job.RotationState) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]struct{}, len(q.st.Jobs)+len(jobs))
	for i := range q.st.Jobs {
		seen[q.st.Jobs[i].ID] = struct{}{}
	}

	now := time.Now()
	prepared := make([]job.Job, 0, len(jobs))
	for _, j := range jobs {
		if strings.TrimSpace(j.ID) == "" {
			return fmt.Errorf("%w: job id is required", ErrValidation)
		}
		if _, dup := seen[j.ID]; dup {
			return fmt.Errorf("%w: duplicate job id %q", ErrValidation, j.ID)
		}
		seen[j.ID] = struct{}{}
		if j.ScheduledAt.IsZero() {
			return fmt.Errorf("%w: job %s has no scheduled time", ErrValidation, j.ID)
		}
		if j.Status == "" {
			j.Status = job.StatusPending
		}
		if j.Status != job.StatusPending {
			return fmt.Errorf("%w: job %s enqueued with status %q", ErrValidation, j.ID, j.Status)
		}
		if j.AttemptCount != 0 {
			return fmt.Errorf("%w: job %s enqueued with attempts recorded", ErrValidation, j.ID)
		}
		if j.CreatedAt.IsZero() {
			j.CreatedAt = now
		}
		j.UpdatedAt = now
		prepared = append(prepared, j)
	}

	q.st.Jobs = append(q.st.Jobs, prepared...)
	for k, rs := range rotations {
		q.st.Rotations[k] = rs
	}
	if err := q.persistLocked(); err != nil {
		return err
	}
	q.log.Debug("jobs enqueued", logx.Int("count", len(prepared)), logx.Int("total", len(q.st.Jobs)))
	return nil
}

// DueJobs returns copies of all pending/retrying jobs whose scheduled time
// and retry delay have elapsed, ordered by scheduled time ascending with
// ties broken by id. While the queue is paused it returns nothing.
func (q *Queue) DueJobs(now time.Time) []job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.st.Paused {
		return nil
	}
	var due []job.Job
	for i := range q.st.Jobs {
		if q.st.Jobs[i].Due(now) {
			due = append(due, q.st.Jobs[i])
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if !due[a].ScheduledAt.Equal(due[b].ScheduledAt) {
			return due[a].ScheduledAt.Before(due[b].ScheduledAt)
		}
		return due[a].ID < due[b].ID
	})
	return due
}

func (q *Queue) Pause() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.st.Paused {
		return nil
	}
	q.st.Paused = true
	return q.persistLocked()
}

func (q *Queue) Resume() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.st.Paused {
		return nil
	}
	q.st.Paused = false
	return q.persistLocked()
}

func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.st.Paused
}

// CancelPending cancels every pending job. In-flight and retrying jobs are
// untouched. Returns how many jobs were cancelled.
func (q *Queue) CancelPending() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	n := 0
	for i := range q.st.Jobs {
		if q.st.Jobs[i].Status == job.StatusPending {
			q.st.Jobs[i].Status = job.StatusCancelled
			q.st.Jobs[i].UpdatedAt = now
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := q.persistLocked(); err != nil {
		return 0, err
	}
	q.log.Info("pending jobs cancelled", logx.Int("count", n))
	return n, nil
}

// CancelJob cancels one job that has not been dispatched yet. A job already
// handed to the publisher completes normally and cannot be recalled.
func (q *Queue) CancelJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.findLocked(id)
	if j == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.Status == job.StatusInFlight {
		return fmt.Errorf("%w: %s", ErrInFlight, id)
	}
	if j.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, j.Status)
	}
	j.Status = job.StatusCancelled
	j.UpdatedAt = time.Now()
	return q.persistLocked()
}

// Clear drops every job (history included) while keeping rotation cursors,
// typically right before a fresh scheduling session.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.st.Jobs) == 0 {
		return nil
	}
	n := len(q.st.Jobs)
	q.st.Jobs = nil
	if err := q.persistLocked(); err != nil {
		return err
	}
	q.log.Info("queue cleared", logx.Int("dropped", n))
	return nil
}

// MarkInFlight transitions a due job into in_flight and records the attempt
// start. The returned copy carries the incremented attempt count.
func (q *Queue) MarkInFlight(id string, now time.Time) (job.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.findLocked(id)
	if j == nil {
		return job.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.Status != job.StatusPending && j.Status != job.StatusRetrying {
		return job.Job{}, fmt.Errorf("queue: job %s is %s, not dispatchable", id, j.Status)
	}
	j.Status = job.StatusInFlight
	j.AttemptCount++
	j.UpdatedAt = now
	if err := q.persistLocked(); err != nil {
		return job.Job{}, err
	}
	return *j, nil
}

// MarkResult applies a retry-policy decision to an in-flight job and
// persists. PauseQueue decisions flip the queue-level paused flag in the
// same critical section.
func (q *Queue) MarkResult(id string, d retry.Decision, errSummary string, now time.Time) (job.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.findLocked(id)
	if j == nil {
		return job.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch d.Outcome {
	case retry.Succeed:
		j.Status = job.StatusSucceeded
		j.LastError = ""
		j.RetryNotBefore = time.Time{}
	case retry.Retry:
		j.Status = job.StatusRetrying
		j.LastError = errSummary
		j.RetryNotBefore = now.Add(d.Delay)
	case retry.Fail:
		j.Status = job.StatusFailed
		j.LastError = errSummary
		j.RetryNotBefore = time.Time{}
	default:
		return job.Job{}, fmt.Errorf("queue: unknown decision outcome %d", d.Outcome)
	}
	j.UpdatedAt = now
	if d.PauseQueue {
		q.st.Paused = true
	}
	if err := q.persistLocked(); err != nil {
		return job.Job{}, err
	}
	return *j, nil
}

// Rotation returns the rotation state under key.
func (q *Queue) Rotation(key string) (job.RotationState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rs, ok := q.st.Rotations[key]
	return rs, ok
}

// SetRotation stores an updated rotation cursor and persists.
func (q *Queue) SetRotation(key string, rs job.RotationState) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.st.Rotations[key] = rs
	return q.persistLocked()
}

// Snapshot returns a deep copy of the current state for display.
func (q *Queue) Snapshot() *job.State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.st.Clone()
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Total: len(q.st.Jobs)}
	for i := range q.st.Jobs {
		switch q.st.Jobs[i].Status {
		case job.StatusPending:
			s.Pending++
		case job.StatusRetrying:
			s.Retrying++
		case job.StatusInFlight:
			s.InFlight++
		case job.StatusSucceeded:
			s.Succeeded++
		case job.StatusFailed:
			s.Failed++
		case job.StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

func (q *Queue) findLocked(id string) *job.Job {
	for i := range q.st.Jobs {
		if q.st.Jobs[i].ID == id {
			return &q.st.Jobs[i]
		}
	}
	return nil
}

func (q *Queue) persistLocked() error {
	return q.file.Save(q.st)
}
