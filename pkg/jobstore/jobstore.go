// Package jobstore persists test jobs as directories under a results
// root. Each job owns one directory (its storage key, derived from the
// id); the front end writes intake metadata there exactly once, and the
// external build/test agents write stage markers and per-run artifacts
// into it afterwards. This package only ever reads those.
package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/traceomatic/traceomatic/pkg/fsutil"
	"github.com/traceomatic/traceomatic/pkg/testid"
)

const infoFile = "testinfo.json"

// Artifact file suffixes, prefixed with the zero-padded run number.
const (
	screenshotSuffix    = "-screenshot.png"
	perfettoTraceSuffix = "-trace.perfetto.gz"
	jsonTraceSuffix     = "-trace.json.gz"
)

var (
	// ErrNotFound indicates the test does not exist.
	ErrNotFound = errors.New("test not found")

	// ErrInvalidID indicates the identifier failed character-class
	// validation. Callers report it exactly like ErrNotFound so probing
	// cannot distinguish malformed ids from nonexistent ones.
	ErrInvalidID = errors.New("invalid test id")
)

// StorageError wraps a filesystem failure during job creation. It is
// fatal for the submission.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storing test: %v", e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TestInfo is the intake metadata persisted for a test job. It is
// written once at submission and immutable afterwards.
type TestInfo struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	Runs       int      `json:"runs"`
	CL         int      `json:"cl,omitempty"`
	Rebuild    bool     `json:"rebuild"`
	Clear      bool     `json:"clear"`
	Video      bool     `json:"video"`
	CPU        bool     `json:"cpu"`
	Categories []string `json:"categories,omitempty"`
	NeedsBuild bool     `json:"needs_build"`
}

// RunArtifacts reports which artifacts exist for one run of a test.
type RunArtifacts struct {
	Screenshot    string
	PerfettoTrace string
	JSONTrace     string
}

// Store reads and writes test job directories under a results root.
type Store struct {
	log   logrus.FieldLogger
	dir   string
	owner *fsutil.OwnerConfig
}

// NewStore creates a Store rooted at dir. A non-nil owner is applied to
// everything the store creates so the agents can write into the same
// tree.
func NewStore(
	log logrus.FieldLogger, dir string, owner *fsutil.OwnerConfig,
) *Store {
	return &Store{
		log:   log.WithField("component", "jobstore"),
		dir:   dir,
		owner: owner,
	}
}

// Dir returns the absolute directory for a test id without touching the
// filesystem. Returns ErrInvalidID when the id fails validation.
func (s *Store) Dir(id string) (string, error) {
	if !testid.Valid(id) {
		return "", ErrInvalidID
	}

	return filepath.Join(s.dir, testid.Path(id)), nil
}

// Create makes the job directory and persists the intake metadata.
// Filesystem failures are returned as *StorageError; the submission is
// not usable after one.
func (s *Store) Create(info *TestInfo) error {
	dir, err := s.Dir(info.ID)
	if err != nil {
		return err
	}

	if err := fsutil.MkdirAll(dir, 0o755, s.owner); err != nil {
		return &StorageError{Err: err}
	}

	data, err := json.Marshal(info)
	if err != nil {
		return &StorageError{Err: err}
	}

	if err := fsutil.WriteFile(
		filepath.Join(dir, infoFile), data, 0o644, s.owner,
	); err != nil {
		return &StorageError{Err: err}
	}

	s.log.WithField("test", info.ID).Debug("Test record created")

	return nil
}

// Read loads the intake metadata for a test. Returns ErrInvalidID for a
// malformed id and ErrNotFound when the directory or metadata is
// missing or unparseable.
func (s *Store) Read(id string) (*TestInfo, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, infoFile))
	if err != nil {
		return nil, ErrNotFound
	}

	var info TestInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, ErrNotFound
	}

	if info.URL == "" || info.Runs == 0 {
		return nil, ErrNotFound
	}

	return &info, nil
}

// Artifacts existence-checks the per-run artifact files for one run and
// returns the names that are present, relative to the job directory.
// Side-effect free.
func (s *Store) Artifacts(id string, run int) (RunArtifacts, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return RunArtifacts{}, err
	}

	prefix := fmt.Sprintf("%03d", run)

	var arts RunArtifacts

	for _, probe := range []struct {
		field  *string
		suffix string
	}{
		{&arts.Screenshot, screenshotSuffix},
		{&arts.PerfettoTrace, perfettoTraceSuffix},
		{&arts.JSONTrace, jsonTraceSuffix},
	} {
		name := prefix + probe.suffix
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			*probe.field = name
		}
	}

	return arts, nil
}
