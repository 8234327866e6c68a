// Package throttle persists the last time each notification was sent, so
// repeated alerts are rate-limited across runs.
package throttle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"time"
)

// ReportKey is the throttle key of the digest report.
const ReportKey = "report"

// StatePersistenceError reports a throttle-state file that could not be read
// or written.
type StatePersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *StatePersistenceError) Error() string {
	return fmt.Sprintf("%s throttle state %s: %v", e.Op, e.Path, e.Err)
}

func (e *StatePersistenceError) Unwrap() error { return e.Err }

// State maps throttle keys to the time they last fired. Device keys live in
// Devices; the digest report has its own slot so a device can never shadow it.
type State struct {
	Devices map[string]time.Time `json:"devices"`
	Report  *time.Time           `json:"report"`
}

// New returns an empty state.
func New() State {
	return State{Devices: make(map[string]time.Time)}
}

// LastSent returns when key last fired.
func (s State) LastSent(key string) (time.Time, bool) {
	if key == ReportKey {
		if s.Report == nil {
			return time.Time{}, false
		}
		return *s.Report, true
	}
	t, ok := s.Devices[key]
	return t, ok
}

// LastSentOr returns when key last fired, or def if it never did.
func (s State) LastSentOr(key string, def time.Time) time.Time {
	if t, ok := s.LastSent(key); ok {
		return t
	}
	return def
}

// Mark records that key fired at t.
func (s *State) Mark(key string, t time.Time) {
	if key == ReportKey {
		s.Report = &t
		return
	}
	if s.Devices == nil {
		s.Devices = make(map[string]time.Time)
	}
	s.Devices[key] = t
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := State{Devices: make(map[string]time.Time, len(s.Devices))}
	maps.Copy(c.Devices, s.Devices)
	if s.Report != nil {
		r := *s.Report
		c.Report = &r
	}
	return c
}

// Load reads the state at path. A missing file yields an empty state and no
// error. An unreadable or corrupt file yields an empty state together with a
// *StatePersistenceError for the caller to log.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return New(), &StatePersistenceError{Op: "reading", Path: path, Err: err}
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return New(), &StatePersistenceError{Op: "parsing", Path: path, Err: err}
	}
	if s.Devices == nil {
		s.Devices = make(map[string]time.Time)
	}
	return s, nil
}

// Save writes s to path atomically: a temp file in the same directory is
// written, synced and renamed over path.
func Save(path string, s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return &StatePersistenceError{Op: "encoding", Path: path, Err: err}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &StatePersistenceError{Op: "writing", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return &StatePersistenceError{Op: "writing", Path: path, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StatePersistenceError{Op: "writing", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &StatePersistenceError{Op: "writing", Path: path, Err: err}
	}
	return nil
}
