// Package schedule expands a date range crossed with daily time slots
// into a concrete list of jobs. It is pure: no clock, no queue, no I/O
// beyond listing media when pre-assigning.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"postpilot/internal/job"
	"postpilot/internal/media"
)

var ErrValidation = errors.New("schedule: invalid definition")

// MediaMode selects how expanded jobs obtain their media.
type MediaMode string

const (
	// MediaNone publishes text only, or a single fixed ref for every job.
	MediaNone MediaMode = "none"
	// MediaDifferent assigns each job its own file from Directory at
	// expansion time; no file repeats within one plan.
	MediaDifferent MediaMode = "different"
	// MediaRotate defers to directory rotation at publish time.
	MediaRotate MediaMode = "rotate"
)

// Definition describes one scheduling session.
type Definition struct {
	Start time.Time // first day, date part only
	End   time.Time // last day, inclusive
	// Slots are daily firing times: either "15:04" clock times or cron
	// specs ("30 9,18 * * *"); cron slots yield every firing inside a day.
	Slots []string
	Text  string

	GroupRef string
	TokenRef string

	MediaMode MediaMode
	MediaRef  string // fixed ref for MediaNone
	Directory string // source dir for MediaDifferent / MediaRotate
	Label     string

	Location *time.Location
}

// Plan is the expansion result, ready for Queue.Enqueue.
type Plan struct {
	Jobs      []job.Job
	Rotations map[string]job.RotationState
	// Truncated is set when MediaDifferent ran out of files before the
	// full date×slot grid was covered; Jobs holds the covered prefix.
	Truncated bool
}

// cron specs here have no seconds field and accept @every etc.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Expand walks every day from Start through End and materializes one job
// per slot firing, ordered by scheduled time ascending.
func Expand(ctx context.Context, def Definition, src media.Source, now time.Time) (Plan, error) {
	if len(def.Slots) == 0 {
		return Plan{}, fmt.Errorf("%w: no time slots", ErrValidation)
	}
	if strings.TrimSpace(def.Text) == "" && def.MediaMode == MediaNone && def.MediaRef == "" {
		return Plan{}, fmt.Errorf("%w: nothing to publish", ErrValidation)
	}
	loc := def.Location
	if loc == nil {
		loc = time.Local
	}
	start := dateOf(def.Start, loc)
	end := dateOf(def.End, loc)
	if end.IsZero() {
		end = start
	}
	if start.IsZero() {
		return Plan{}, fmt.Errorf("%w: start date is required", ErrValidation)
	}
	if end.Before(start) {
		return Plan{}, fmt.Errorf("%w: end date before start date", ErrValidation)
	}

	slots, err := parseSlots(def.Slots, loc)
	if err != nil {
		return Plan{}, err
	}

	var times []time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		for _, s := range slots {
			times = append(times, s.firings(day, loc)...)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	plan := Plan{Rotations: map[string]job.RotationState{}}
	var pool []string
	if def.MediaMode == MediaDifferent {
		if src == nil {
			return Plan{}, fmt.Errorf("%w: media source required for different-posts mode", ErrValidation)
		}
		pool, err = src.ListDirectory(ctx, def.Directory)
		if err != nil {
			return Plan{}, err
		}
		if len(pool) == 0 {
			return Plan{}, fmt.Errorf("%w: no media files in %s", ErrValidation, def.Directory)
		}
	}

	rotKey := rotationKey(def)
expand:
	for i, at := range times {
		j := job.Job{
			ID:          uuid.NewString(),
			ScheduledAt: at,
			GroupRef:    def.GroupRef,
			TokenRef:    def.TokenRef,
			Text:        def.Text,
			Status:      job.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		switch def.MediaMode {
		case MediaDifferent:
			if i >= len(pool) {
				plan.Truncated = true
				break expand
			}
			// ListDirectory yields bare filenames; the publisher needs a
			// ref it can open.
			j.Media = job.MediaAssignment{
				Mode:        job.RotationPreAssigned,
				Ref:         filepath.Join(def.Directory, pool[i]),
				Slot:        i,
				RotationKey: rotKey,
				Directory:   def.Directory,
				Label:       def.Label,
			}
		case MediaRotate:
			j.Media = job.MediaAssignment{
				Mode:        job.RotationDirectory,
				RotationKey: rotKey,
				Directory:   def.Directory,
				Label:       def.Label,
			}
		default:
			if def.MediaRef != "" {
				j.Media = job.MediaAssignment{Ref: def.MediaRef, Label: def.Label}
			}
		}
		plan.Jobs = append(plan.Jobs, j)
	}

	switch def.MediaMode {
	case MediaDifferent:
		assign := make([]string, len(plan.Jobs))
		for i := range assign {
			assign[i] = filepath.Join(def.Directory, pool[i])
		}
		plan.Rotations[rotKey] = job.RotationState{
			Mode:        job.RotationPreAssigned,
			LastIndex:   -1,
			Assignments: assign,
		}
	case MediaRotate:
		if _, ok := plan.Rotations[rotKey]; !ok {
			plan.Rotations[rotKey] = job.RotationState{
				Mode:      job.RotationDirectory,
				LastIndex: -1,
			}
		}
	}
	return plan, nil
}

func rotationKey(def Definition) string {
	if def.Directory != "" {
		return def.GroupRef + "|" + def.Directory
	}
	return def.GroupRef
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// slot is either a fixed clock time or a cron schedule.
type slot struct {
	hour, min int
	cron      cron.Schedule
}

func parseSlots(specs []string, loc *time.Location) ([]slot, error) {
	out := make([]slot, 0, len(specs))
	for _, raw := range specs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, fmt.Errorf("%w: empty time slot", ErrValidation)
		}
		if t, err := time.Parse("15:04", raw); err == nil {
			out = append(out, slot{hour: t.Hour(), min: t.Minute()})
			continue
		}
		sched, err := cronParser.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: slot %q is neither HH:MM nor a cron spec: %v", ErrValidation, raw, err)
		}
		out = append(out, slot{cron: sched})
	}
	return out, nil
}

// firings returns every time this slot fires within the given day.
func (s slot) firings(day time.Time, loc *time.Location) []time.Time {
	if s.cron == nil {
		return []time.Time{time.Date(day.Year(), day.Month(), day.Day(), s.hour, s.min, 0, 0, loc)}
	}
	var out []time.Time
	next := day.Add(-time.Second)
	dayEnd := day.AddDate(0, 0, 1)
	for {
		next = s.cron.Next(next)
		if next.IsZero() || !next.Before(dayEnd) {
			return out
		}
		out = append(out, next)
	}
}
