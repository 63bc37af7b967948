package job

// SchemaVersion is the current on-disk state document version.
//
// Loaders must accept older documents: unknown fields are ignored and
// missing fields take the zero-value defaults applied by Normalize.
const SchemaVersion = 1

// RotationState tracks one media rotation source.
type RotationState struct {
	Mode RotationMode `json:"mode"`

	// LastServedName is the filename most recently served in directory
	// mode. Tracking by name keeps the cursor stable when the directory
	// listing changes between runs.
	LastServedName string `json:"last_served_name,omitempty"`

	// LastIndex is the most recently served position; -1 means nothing
	// has been served yet. In directory mode it is the fallback cursor
	// when LastServedName disappears from the listing.
	LastIndex int `json:"last_index"`

	// Assignments maps slot index -> media ref, fixed at schedule time
	// (preassigned mode). Within one cycle no ref appears twice.
	Assignments []string `json:"assignments,omitempty"`
}

// State is the persisted aggregate: the ordered job sequence, all rotation
// states, and the queue-level paused flag. It is the unit of atomic
// save/load.
type State struct {
	SchemaVersion int                      `json:"schema_version"`
	Paused        bool                     `json:"paused"`
	Jobs          []Job                    `json:"jobs"`
	Rotations     map[string]RotationState `json:"rotations"`
}

func NewState() *State {
	return &State{
		SchemaVersion: SchemaVersion,
		Rotations:     map[string]RotationState{},
	}
}

// Normalize repairs a freshly loaded state:
//
//   - missing maps/version get defaults,
//   - any job found in_flight is an attempt that was aborted by a crash or
//     shutdown; it is reset to pending (no attempts yet) or retrying
//     (attempts recorded) with its attempt count unchanged, so the attempt
//     is neither dropped nor double-counted.
func (s *State) Normalize() {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SchemaVersion
	}
	if s.Rotations == nil {
		s.Rotations = map[string]RotationState{}
	}
	for i := range s.Jobs {
		j := &s.Jobs[i]
		if j.AttemptCount < 0 {
			j.AttemptCount = 0
		}
		if j.Status == StatusInFlight {
			if j.AttemptCount > 0 {
				j.Status = StatusRetrying
			} else {
				j.Status = StatusPending
			}
		}
		if j.Status == "" {
			j.Status = StatusPending
		}
	}
}

// Clone returns a deep copy, safe to hand out as a snapshot.
func (s *State) Clone() *State {
	cp := &State{
		SchemaVersion: s.SchemaVersion,
		Paused:        s.Paused,
	}
	if s.Jobs != nil {
		cp.Jobs = make([]Job, len(s.Jobs))
		copy(cp.Jobs, s.Jobs)
	}
	cp.Rotations = make(map[string]RotationState, len(s.Rotations))
	for k, v := range s.Rotations {
		if v.Assignments != nil {
			v.Assignments = append([]string(nil), v.Assignments...)
		}
		cp.Rotations[k] = v
	}
	return cp
}
