package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"postpilot/internal/job"
)

type fixedSource struct {
	names []string
}

func (s *fixedSource) ListDirectory(ctx context.Context, path string) ([]string, error) {
	return s.names, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestExpandStandardGrid(t *testing.T) {
	t.Parallel()
	def := Definition{
		Start:    day(2026, 9, 1),
		End:      day(2026, 9, 3),
		Slots:    []string{"09:00", "18:30"},
		Text:     "daily post",
		GroupRef: "g1",
		Location: time.UTC,
	}
	now := time.Now()

	plan, err := Expand(context.Background(), def, nil, now)
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if plan.Truncated {
		t.Fatal("standard mode reported truncation")
	}
	if len(plan.Jobs) != 6 {
		t.Fatalf("got %d jobs, want 3 days x 2 slots = 6", len(plan.Jobs))
	}

	seen := map[string]struct{}{}
	for i, j := range plan.Jobs {
		if _, dup := seen[j.ID]; dup {
			t.Fatalf("duplicate job id %s", j.ID)
		}
		seen[j.ID] = struct{}{}
		if j.Status != job.StatusPending {
			t.Fatalf("job %d status = %s, want pending", i, j.Status)
		}
		if i > 0 && plan.Jobs[i].ScheduledAt.Before(plan.Jobs[i-1].ScheduledAt) {
			t.Fatalf("jobs out of order at %d: %v after %v", i, plan.Jobs[i].ScheduledAt, plan.Jobs[i-1].ScheduledAt)
		}
	}
	first := plan.Jobs[0].ScheduledAt
	if want := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC); !first.Equal(want) {
		t.Fatalf("first slot = %v, want %v", first, want)
	}
	last := plan.Jobs[5].ScheduledAt
	if want := time.Date(2026, 9, 3, 18, 30, 0, 0, time.UTC); !last.Equal(want) {
		t.Fatalf("last slot = %v, want %v", last, want)
	}
}

func TestExpandCronSlot(t *testing.T) {
	t.Parallel()
	def := Definition{
		Start:    day(2026, 9, 1),
		End:      day(2026, 9, 1),
		Slots:    []string{"0 */6 * * *"}, // 00:00, 06:00, 12:00, 18:00
		Text:     "cron post",
		Location: time.UTC,
	}

	plan, err := Expand(context.Background(), def, nil, time.Now())
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if len(plan.Jobs) != 4 {
		t.Fatalf("got %d jobs, want 4 firings", len(plan.Jobs))
	}
	for i, hour := range []int{0, 6, 12, 18} {
		if got := plan.Jobs[i].ScheduledAt.Hour(); got != hour {
			t.Fatalf("firing %d at hour %d, want %d", i, got, hour)
		}
	}
}

func TestExpandDifferentPostsAssignsUniqueMedia(t *testing.T) {
	t.Parallel()
	src := &fixedSource{names: []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"}}
	def := Definition{
		Start:     day(2026, 9, 1),
		End:       day(2026, 9, 2),
		Slots:     []string{"10:00", "20:00"},
		Text:      "pic",
		GroupRef:  "g1",
		MediaMode: MediaDifferent,
		Directory: "/pics",
		Location:  time.UTC,
	}

	plan, err := Expand(context.Background(), def, src, time.Now())
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if plan.Truncated {
		t.Fatal("unexpected truncation with enough media")
	}
	if len(plan.Jobs) != 4 {
		t.Fatalf("got %d jobs, want 4", len(plan.Jobs))
	}

	used := map[string]struct{}{}
	for i, j := range plan.Jobs {
		if j.Media.Mode != job.RotationPreAssigned {
			t.Fatalf("job %d mode = %s, want preassigned", i, j.Media.Mode)
		}
		if j.Media.Slot != i {
			t.Fatalf("job %d slot = %d, want %d", i, j.Media.Slot, i)
		}
		// Refs carry the directory: the publisher opens them as-is.
		if want := filepath.Join("/pics", src.names[i]); j.Media.Ref != want {
			t.Fatalf("job %d ref = %q, want %q", i, j.Media.Ref, want)
		}
		if _, dup := used[j.Media.Ref]; dup {
			t.Fatalf("media ref %s assigned twice", j.Media.Ref)
		}
		used[j.Media.Ref] = struct{}{}
	}

	rs, ok := plan.Rotations["g1|/pics"]
	if !ok {
		t.Fatal("assignment table missing from plan")
	}
	if len(rs.Assignments) != 4 || rs.Mode != job.RotationPreAssigned {
		t.Fatalf("rotation state = %+v", rs)
	}
	for i, ref := range rs.Assignments {
		if want := filepath.Join("/pics", src.names[i]); ref != want {
			t.Fatalf("assignment %d = %q, want %q", i, ref, want)
		}
	}
}

func TestExpandDifferentPostsTruncatesOnExhaustion(t *testing.T) {
	t.Parallel()
	src := &fixedSource{names: []string{"a.jpg", "b.jpg", "c.jpg"}}
	def := Definition{
		Start:     day(2026, 9, 1),
		End:       day(2026, 9, 3),
		Slots:     []string{"10:00", "20:00"}, // 6 slots, 3 files
		Text:      "pic",
		GroupRef:  "g1",
		MediaMode: MediaDifferent,
		Directory: "/pics",
		Location:  time.UTC,
	}

	plan, err := Expand(context.Background(), def, src, time.Now())
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if !plan.Truncated {
		t.Fatal("expected truncation report")
	}
	if len(plan.Jobs) != 3 {
		t.Fatalf("got %d jobs, want 3 (one per media file)", len(plan.Jobs))
	}
	rs := plan.Rotations["g1|/pics"]
	if len(rs.Assignments) != 3 {
		t.Fatalf("assignment table has %d entries, want 3", len(rs.Assignments))
	}
}

func TestExpandRotateModeDefersResolution(t *testing.T) {
	t.Parallel()
	def := Definition{
		Start:     day(2026, 9, 1),
		End:       day(2026, 9, 1),
		Slots:     []string{"12:00"},
		Text:      "pic",
		GroupRef:  "g1",
		MediaMode: MediaRotate,
		Directory: "/pics",
		Location:  time.UTC,
	}

	plan, err := Expand(context.Background(), def, nil, time.Now())
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	j := plan.Jobs[0]
	if j.Media.Mode != job.RotationDirectory || j.Media.Ref != "" {
		t.Fatalf("media = %+v, want unresolved directory mode", j.Media)
	}
	rs, ok := plan.Rotations["g1|/pics"]
	if !ok || rs.LastIndex != -1 {
		t.Fatalf("rotation seed = %+v ok=%v", rs, ok)
	}
}

func TestExpandValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		def  Definition
	}{
		{name: "no slots", def: Definition{Start: day(2026, 9, 1), Text: "x"}},
		{name: "no start", def: Definition{Slots: []string{"10:00"}, Text: "x"}},
		{name: "end before start", def: Definition{Start: day(2026, 9, 2), End: day(2026, 9, 1), Slots: []string{"10:00"}, Text: "x"}},
		{name: "bad slot", def: Definition{Start: day(2026, 9, 1), Slots: []string{"25:99"}, Text: "x"}},
		{name: "nothing to publish", def: Definition{Start: day(2026, 9, 1), Slots: []string{"10:00"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tt.def.Location = time.UTC
			if _, err := Expand(context.Background(), tt.def, nil, time.Now()); !errors.Is(err, ErrValidation) {
				t.Fatalf("Expand error = %v, want ErrValidation", err)
			}
		})
	}
}
