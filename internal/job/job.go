package job

import "time"

// Status describes a job's position in its lifecycle.
//
// Transitions are owned by the dispatcher:
//
//	pending  -> in_flight -> succeeded | retrying | failed
//	retrying -> in_flight
//	pending  -> cancelled (operator)
//
// succeeded, failed and cancelled are terminal; terminal jobs are kept
// for history/statistics but never re-dispatched.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a job in this status may never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// RotationMode selects how media is attached to a job.
type RotationMode string

const (
	// RotationNone: the job carries a fixed media ref (possibly empty).
	RotationNone RotationMode = ""
	// RotationPreAssigned: the media ref was fixed at schedule time via a
	// slot index into the rotation's assignment table. Resolution is
	// idempotent so retries reuse the same media.
	RotationPreAssigned RotationMode = "preassigned"
	// RotationDirectory: media is resolved at execution time by cycling
	// through a directory listing.
	RotationDirectory RotationMode = "directory"
)

// MediaAssignment describes which media accompanies a job.
type MediaAssignment struct {
	Mode RotationMode `json:"mode,omitempty"`

	// Ref is the concrete media reference for RotationNone and
	// RotationPreAssigned jobs.
	Ref string `json:"ref,omitempty"`

	// Slot indexes the rotation's assignment table (RotationPreAssigned).
	Slot int `json:"slot,omitempty"`

	// RotationKey names the RotationState this job draws from.
	RotationKey string `json:"rotation_key,omitempty"`

	// Directory is the media directory for RotationDirectory jobs.
	Directory string `json:"directory,omitempty"`

	// Label is an optional display name passed through to the publisher
	// (used when publishing animations).
	Label string `json:"label,omitempty"`
}

// Job is one scheduled publish attempt.
type Job struct {
	ID          string    `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`

	// GroupRef and TokenRef are opaque destination identifiers, passed
	// through to the publisher and never interpreted here.
	GroupRef string `json:"group_ref"`
	TokenRef string `json:"token_ref"`

	Text  string          `json:"text,omitempty"`
	Media MediaAssignment `json:"media,omitempty"`

	Status       Status `json:"status"`
	AttemptCount int    `json:"attempt_count"`

	// RetryNotBefore delays a retrying job past its scheduled time.
	// Zero means no retry delay applies.
	RetryNotBefore time.Time `json:"retry_not_before,omitempty"`

	// LastError is a short summary of the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Due reports whether the job is eligible for dispatch at now: it must be
// pending or retrying, its scheduled time must have arrived, and any retry
// delay must have elapsed.
func (j *Job) Due(now time.Time) bool {
	if j.Status != StatusPending && j.Status != StatusRetrying {
		return false
	}
	if j.ScheduledAt.After(now) {
		return false
	}
	if !j.RetryNotBefore.IsZero() && j.RetryNotBefore.After(now) {
		return false
	}
	return true
}
