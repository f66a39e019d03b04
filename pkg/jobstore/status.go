package jobstore

import (
	"os"
	"path/filepath"
	"strings"
)

// State is a test job's lifecycle stage. States are ordered by rank:
// once a poller has observed a state, it will never observe a
// lower-ranked one for the same test, because resolution walks the
// stage markers from highest rank down and agents only ever add
// markers (earlier ones are left in place for audit).
type State int

const (
	// StateInvalid means the intake metadata is missing or unreadable.
	StateInvalid State = iota

	// StatePending means no agent has picked the test up yet.
	StatePending

	// StateBuilding means the build agent is producing a patched browser.
	StateBuilding

	// StateRunning means the device agent is executing test runs.
	StateRunning

	// StateComplete means all runs finished and artifacts are final.
	StateComplete
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBuilding:
		return "building"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	default:
		return "invalid"
	}
}

// Status is the resolved lifecycle state of a test plus the
// human-readable progress message supplied by whichever agent wrote the
// winning stage marker.
type Status struct {
	State   State
	Heading string
	Message string
	Done    bool
}

// markerFiles maps each marker-backed state to its file name. Walked in
// descending rank order during resolution.
var markerFiles = []struct {
	state   State
	name    string
	heading string
}{
	{StateComplete, "done", "Test is complete"},
	{StateRunning, "running", "Test is running"},
	{StateBuilding, "building", "Test is building"},
	{StatePending, "status", "Test is pending"},
}

// HasMarkers reports whether any stage marker exists for the test,
// i.e. whether an agent has acknowledged it at all. Used by the
// reconciliation sweep to tell "queued but never picked up" apart from
// "in progress".
func (s *Store) HasMarkers(id string) bool {
	dir, err := s.Dir(id)
	if err != nil {
		return false
	}

	for _, m := range markerFiles {
		if _, err := os.Stat(filepath.Join(dir, m.name)); err == nil {
			return true
		}
	}

	return false
}

// Resolve derives the current status of a test from its stage markers.
// Purely observational: safe to call arbitrarily often and concurrently
// with agent writes. A marker that exists but cannot be read (torn
// write in progress) falls through to the next lower rank instead of
// failing the resolution.
func (s *Store) Resolve(id string) Status {
	info, err := s.Read(id)
	if err != nil {
		return Status{
			State:   StateInvalid,
			Heading: "Invalid test",
			Message: "Test not found",
		}
	}

	dir, _ := s.Dir(id)

	for _, m := range markerFiles {
		data, err := os.ReadFile(filepath.Join(dir, m.name))
		if err != nil {
			continue
		}

		return Status{
			State:   m.state,
			Heading: m.heading,
			Message: strings.TrimSpace(string(data)),
			Done:    m.state == StateComplete,
		}
	}

	msg := "Waiting to be tested"
	if info.NeedsBuild {
		msg = "Waiting for build bot"
	}

	return Status{
		State:   StatePending,
		Heading: "Test is pending",
		Message: msg,
	}
}
