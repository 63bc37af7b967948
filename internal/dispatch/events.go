package dispatch

import "postpilot/internal/job"

// Event types emitted on the bus.
const (
	EventJobStatus        = "job.status"
	EventQueuePaused      = "queue.paused"
	EventQueueResumed     = "queue.resumed"
	EventQueueErrorPaused = "queue.error_paused"
	// EventQueueError is critical: the engine stopped on a persistence
	// failure and will not continue until restarted.
	EventQueueError = "queue.error"
)

// JobEvent reports one job status transition.
type JobEvent struct {
	JobID    string     `json:"job_id"`
	Previous job.Status `json:"previous"`
	New      job.Status `json:"new"`
	Attempt  int        `json:"attempt"`
	Error    string     `json:"error,omitempty"`
	PostRef  string     `json:"post_ref,omitempty"`
}

// QueueEvent reports an engine-level state change.
type QueueEvent struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}
