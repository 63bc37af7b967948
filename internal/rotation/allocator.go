// Package rotation assigns media to jobs under the two rotation modes:
// preassigned slot tables fixed at schedule time, and directory cycling
// resolved at execution time.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"postpilot/internal/job"
	"postpilot/internal/media"
)

// ErrMediaNotFound means the rotation source is empty or the assignment
// table cannot serve the job's slot. It is a non-retryable job failure.
var ErrMediaNotFound = errors.New("rotation: no media available")

type Allocator struct {
	src media.Source
}

func New(src media.Source) *Allocator {
	return &Allocator{src: src}
}

// Resolve returns the media refs for j along with the rotation state after
// resolution. changed reports whether the caller must persist the updated
// state.
//
// Preassigned resolution is idempotent: the same job always yields the same
// ref, so retries reuse the media of the original attempt. Directory
// resolution advances the cursor by one on every call and wraps past the
// last entry.
func (a *Allocator) Resolve(ctx context.Context, j *job.Job, st job.RotationState) (refs []string, updated job.RotationState, changed bool, err error) {
	switch j.Media.Mode {
	case job.RotationNone:
		if j.Media.Ref == "" {
			return nil, st, false, nil
		}
		return []string{j.Media.Ref}, st, false, nil

	case job.RotationPreAssigned:
		ref, err := resolveSlot(j, st)
		if err != nil {
			return nil, st, false, err
		}
		return []string{ref}, st, false, nil

	case job.RotationDirectory:
		return a.resolveDirectory(ctx, j, st)

	default:
		return nil, st, false, fmt.Errorf("rotation: unknown mode %q", j.Media.Mode)
	}
}

func resolveSlot(j *job.Job, st job.RotationState) (string, error) {
	if len(st.Assignments) == 0 {
		// A job may carry its resolved ref directly; the assignment table
		// is then only needed for bookkeeping.
		if j.Media.Ref != "" {
			return j.Media.Ref, nil
		}
		return "", fmt.Errorf("%w: empty assignment table for %q", ErrMediaNotFound, j.Media.RotationKey)
	}
	slot := j.Media.Slot
	if slot < 0 || slot >= len(st.Assignments) {
		return "", fmt.Errorf("%w: slot %d outside assignment table of %d", ErrMediaNotFound, slot, len(st.Assignments))
	}
	return st.Assignments[slot], nil
}

func (a *Allocator) resolveDirectory(ctx context.Context, j *job.Job, st job.RotationState) ([]string, job.RotationState, bool, error) {
	dir := j.Media.Directory
	names, err := a.src.ListDirectory(ctx, dir)
	if err != nil {
		return nil, st, false, fmt.Errorf("rotation: listing %s: %w", dir, err)
	}
	if len(names) == 0 {
		return nil, st, false, fmt.Errorf("%w: directory %s is empty", ErrMediaNotFound, dir)
	}

	// Locate the cursor by filename first; a listing that changed between
	// runs falls back to the stored index modulo the current count, so a
	// shrinking directory only changes which file comes next.
	cur := -1
	if st.LastServedName != "" {
		for i, n := range names {
			if n == st.LastServedName {
				cur = i
				break
			}
		}
	}
	if cur == -1 && st.LastIndex >= 0 {
		cur = st.LastIndex % len(names)
	}

	next := (cur + 1) % len(names)
	st.Mode = job.RotationDirectory
	st.LastServedName = names[next]
	st.LastIndex = next
	return []string{filepath.Join(dir, names[next])}, st, true, nil
}
