package queue

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"postpilot/internal/job"
	"postpilot/internal/retry"
	"postpilot/internal/store"
	logx "postpilot/pkg/logx"
)

func newTestQueue(t *testing.T) (*Queue, *store.StateFile) {
	t.Helper()
	f, err := store.NewStateFile(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewStateFile error: %v", err)
	}
	q, err := Open(f, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	return q, f
}

func pendingJob(id string, at time.Time) job.Job {
	return job.Job{ID: id, ScheduledAt: at, Text: "post " + id}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	at := time.Now().Add(time.Hour)

	tests := []struct {
		name string
		jobs []job.Job
	}{
		{name: "missing id", jobs: []job.Job{{ScheduledAt: at}}},
		{name: "missing schedule", jobs: []job.Job{{ID: "x"}}},
		{name: "duplicate in batch", jobs: []job.Job{pendingJob("d", at), pendingJob("d", at)}},
		{name: "non-pending status", jobs: []job.Job{{ID: "s", ScheduledAt: at, Status: job.StatusSucceeded}}},
		{name: "attempts recorded", jobs: []job.Job{{ID: "a", ScheduledAt: at, AttemptCount: 1}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := q.Enqueue(tt.jobs, nil); !errors.Is(err, ErrValidation) {
				t.Fatalf("Enqueue error = %v, want ErrValidation", err)
			}
		})
	}
	if got := q.Stats().Total; got != 0 {
		t.Fatalf("queue not empty after rejected batches: %d", got)
	}
}

func TestEnqueueRejectsDuplicateOfExisting(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	at := time.Now().Add(time.Hour)

	if err := q.Enqueue([]job.Job{pendingJob("a", at)}, nil); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if err := q.Enqueue([]job.Job{pendingJob("a", at)}, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("Enqueue error = %v, want ErrValidation", err)
	}
}

func TestDueJobsOrderingAndEligibility(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	err := q.Enqueue([]job.Job{
		pendingJob("late", now.Add(time.Hour)),
		pendingJob("b", now.Add(-time.Minute)),
		pendingJob("a", now.Add(-time.Minute)),
		pendingJob("first", now.Add(-2*time.Hour)),
	}, nil)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	due := q.DueJobs(now)
	ids := make([]string, len(due))
	for i, j := range due {
		ids[i] = j.ID
	}
	want := []string{"first", "a", "b"}
	if len(ids) != len(want) {
		t.Fatalf("due = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("due = %v, want %v", ids, want)
		}
	}
}

func TestDueJobsRespectsRetryNotBefore(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	now := time.Now()

	if err := q.Enqueue([]job.Job{pendingJob("r", now.Add(-time.Hour))}, nil); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if _, err := q.MarkInFlight("r", now); err != nil {
		t.Fatalf("MarkInFlight error: %v", err)
	}
	d := retry.Decision{Outcome: retry.Retry, Delay: 10 * time.Minute}
	if _, err := q.MarkResult("r", d, "boom", now); err != nil {
		t.Fatalf("MarkResult error: %v", err)
	}

	if due := q.DueJobs(now.Add(time.Minute)); len(due) != 0 {
		t.Fatalf("job due before retry delay elapsed: %v", due)
	}
	due := q.DueJobs(now.Add(11 * time.Minute))
	if len(due) != 1 || due[0].ID != "r" {
		t.Fatalf("job not due after retry delay: %v", due)
	}
}

func TestPauseStopsDispatchAndSurvivesReload(t *testing.T) {
	t.Parallel()
	q, f := newTestQueue(t)
	now := time.Now()

	if err := q.Enqueue([]job.Job{pendingJob("p", now.Add(-time.Hour))}, nil); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if err := q.Pause(); err != nil {
		t.Fatalf("Pause error: %v", err)
	}
	if due := q.DueJobs(now); due != nil {
		t.Fatalf("paused queue returned due jobs: %v", due)
	}

	q2, err := Open(f, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if !q2.Paused() {
		t.Fatal("paused flag lost across reload")
	}

	if err := q2.Resume(); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	if due := q2.DueJobs(now); len(due) != 1 {
		t.Fatalf("resumed queue has %d due jobs, want 1", len(due))
	}
}

func TestMarkInFlightIncrementsAttempts(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	now := time.Now()

	if err := q.Enqueue([]job.Job{pendingJob("j", now.Add(-time.Minute))}, nil); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	j, err := q.MarkInFlight("j", now)
	if err != nil {
		t.Fatalf("MarkInFlight error: %v", err)
	}
	if j.Status != job.StatusInFlight || j.AttemptCount != 1 {
		t.Fatalf("got %s attempts=%d, want in_flight/1", j.Status, j.AttemptCount)
	}

	// Already dispatched: a second claim must fail.
	if _, err := q.MarkInFlight("j", now); err == nil {
		t.Fatal("second MarkInFlight succeeded")
	}
}

func TestMarkResultTransitions(t *testing.T) {
	t.Parallel()
	now := time.Now()

	tests := []struct {
		name   string
		d      retry.Decision
		status job.Status
		paused bool
	}{
		{name: "succeed", d: retry.Decision{Outcome: retry.Succeed}, status: job.StatusSucceeded},
		{name: "retry", d: retry.Decision{Outcome: retry.Retry, Delay: time.Minute}, status: job.StatusRetrying},
		{name: "fail pauses queue", d: retry.Decision{Outcome: retry.Fail, PauseQueue: true}, status: job.StatusFailed, paused: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q, _ := newTestQueue(t)
			if err := q.Enqueue([]job.Job{pendingJob("j", now.Add(-time.Minute))}, nil); err != nil {
				t.Fatalf("Enqueue error: %v", err)
			}
			if _, err := q.MarkInFlight("j", now); err != nil {
				t.Fatalf("MarkInFlight error: %v", err)
			}
			j, err := q.MarkResult("j", tt.d, "err", now)
			if err != nil {
				t.Fatalf("MarkResult error: %v", err)
			}
			if j.Status != tt.status {
				t.Fatalf("Status = %s, want %s", j.Status, tt.status)
			}
			if q.Paused() != tt.paused {
				t.Fatalf("Paused = %v, want %v", q.Paused(), tt.paused)
			}
		})
	}
}

func TestCancelPendingLeavesOthersAlone(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	now := time.Now()

	err := q.Enqueue([]job.Job{
		pendingJob("a", now.Add(-time.Minute)),
		pendingJob("b", now.Add(time.Hour)),
		pendingJob("c", now.Add(time.Hour)),
	}, nil)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if _, err := q.MarkInFlight("a", now); err != nil {
		t.Fatalf("MarkInFlight error: %v", err)
	}

	n, err := q.CancelPending()
	if err != nil {
		t.Fatalf("CancelPending error: %v", err)
	}
	if n != 2 {
		t.Fatalf("cancelled %d, want 2", n)
	}
	s := q.Stats()
	if s.InFlight != 1 || s.Cancelled != 2 || s.Pending != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestCancelJob(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	now := time.Now()

	err := q.Enqueue([]job.Job{
		pendingJob("a", now.Add(-time.Minute)),
		pendingJob("b", now.Add(time.Hour)),
	}, nil)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if err := q.CancelJob("b"); err != nil {
		t.Fatalf("CancelJob error: %v", err)
	}
	if err := q.CancelJob("b"); !errors.Is(err, ErrTerminal) {
		t.Fatalf("cancel of cancelled job = %v, want ErrTerminal", err)
	}
	if err := q.CancelJob("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel of unknown job = %v, want ErrNotFound", err)
	}

	if _, err := q.MarkInFlight("a", now); err != nil {
		t.Fatalf("MarkInFlight error: %v", err)
	}
	if err := q.CancelJob("a"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("cancel of in-flight job = %v, want ErrInFlight", err)
	}
}

func TestMutationsSurviveReload(t *testing.T) {
	t.Parallel()
	q, f := newTestQueue(t)
	now := time.Now()

	if err := q.Enqueue([]job.Job{pendingJob("j", now.Add(-time.Minute))}, map[string]job.RotationState{
		"g|/pics": {Mode: job.RotationDirectory, LastIndex: -1},
	}); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if _, err := q.MarkInFlight("j", now); err != nil {
		t.Fatalf("MarkInFlight error: %v", err)
	}
	if _, err := q.MarkResult("j", retry.Decision{Outcome: retry.Retry, Delay: time.Minute}, "x", now); err != nil {
		t.Fatalf("MarkResult error: %v", err)
	}

	q2, err := Open(f, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	st := q2.Snapshot()
	if len(st.Jobs) != 1 || st.Jobs[0].Status != job.StatusRetrying || st.Jobs[0].AttemptCount != 1 {
		t.Fatalf("reloaded job = %+v", st.Jobs)
	}
	if _, ok := q2.Rotation("g|/pics"); !ok {
		t.Fatal("rotation state lost across reload")
	}
}

func TestClearKeepsRotations(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueue(t)
	now := time.Now()

	err := q.Enqueue([]job.Job{pendingJob("a", now)}, map[string]job.RotationState{
		"k": {Mode: job.RotationDirectory, LastServedName: "x.jpg", LastIndex: 3},
	})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if err := q.Clear(); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if got := q.Stats().Total; got != 0 {
		t.Fatalf("jobs remain after Clear: %d", got)
	}
	rs, ok := q.Rotation("k")
	if !ok || rs.LastServedName != "x.jpg" {
		t.Fatalf("rotation lost on Clear: %+v ok=%v", rs, ok)
	}
}
