package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"postpilot/internal/job"
)

// ErrPersistence marks a state save/load failure. The engine treats it as
// fatal: it must not keep running against possibly-stale state.
var ErrPersistence = errors.New("state persistence failed")

// StateFile persists one job.State document at a fixed path.
//
// Save is atomic at the filesystem level: the document is written to a
// sibling temp file, synced, then renamed over the target, so a crash
// mid-write can never leave a truncated state file behind.
type StateFile struct {
	path string
}

func NewStateFile(path string) (*StateFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: state path is required", ErrPersistence)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return &StateFile{path: path}, nil
}

func (f *StateFile) Path() string { return f.path }

func (f *StateFile) Save(st *job.State) error {
	if st == nil {
		return fmt.Errorf("%w: nil state", ErrPersistence)
	}
	if st.SchemaVersion == 0 {
		st.SchemaVersion = job.SchemaVersion
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersistence, err)
	}

	tmp := f.path + ".tmp"
	tf, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if _, err := tf.Write(b); err != nil {
		_ = tf.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write: %v", ErrPersistence, err)
	}
	if err := tf.Sync(); err != nil {
		_ = tf.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: sync: %v", ErrPersistence, err)
	}
	if err := tf.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: close: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename: %v", ErrPersistence, err)
	}
	return nil
}

// Load reads the last durable state. A missing file yields a fresh empty
// state. Unknown fields in the document are ignored and missing fields take
// their defaults, so minor schema drift never fails the load; the returned
// state is already normalized (aborted in_flight jobs reset, see
// job.State.Normalize).
func (f *StateFile) Load() (*job.State, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return job.NewState(), nil
		}
		return nil, fmt.Errorf("%w: read: %v", ErrPersistence, err)
	}
	st := job.NewState()
	if err := json.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrPersistence, f.path, err)
	}
	st.Normalize()
	return st, nil
}
