// Package submit turns a raw test request into a stored, enqueued test
// job.
package submit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/traceomatic/traceomatic/pkg/config"
	"github.com/traceomatic/traceomatic/pkg/jobstore"
	"github.com/traceomatic/traceomatic/pkg/queue"
	"github.com/traceomatic/traceomatic/pkg/testid"
)

// Request is a raw test request as received from the submission form.
// Numeric fields arrive as strings; booleans are presence-based and
// already collapsed by the HTTP layer.
type Request struct {
	URL        string
	Runs       string
	CL         string
	Rebuild    bool
	Clear      bool
	Video      bool
	CPU        bool
	Categories []string
}

// ValidationError reports bad or missing client input. Detected before
// any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// QueueError reports a broker failure after the test record was already
// stored. The record stays on disk in pending state; there is no
// rollback, only the reconciliation sweep (when enabled) or an operator
// re-enqueueing it.
type QueueError struct {
	TestID string
	Err    error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("enqueueing test %s: %v", e.TestID, e.Err)
}

func (e *QueueError) Unwrap() error { return e.Err }

// Service validates submissions, allocates ids, persists intake
// metadata, and enqueues the job for an agent.
type Service struct {
	log      logrus.FieldLogger
	store    *jobstore.Store
	ids      *testid.Generator
	producer queue.Producer
	cfg      *config.Config

	allowed map[string]struct{}
}

// NewService creates a submission Service.
func NewService(
	log logrus.FieldLogger,
	cfg *config.Config,
	store *jobstore.Store,
	ids *testid.Generator,
	producer queue.Producer,
) *Service {
	allowed := make(map[string]struct{}, len(cfg.Trace.Categories))
	for _, cat := range cfg.Trace.Categories {
		allowed[cat] = struct{}{}
	}

	return &Service{
		log:      log.WithField("component", "submit"),
		store:    store,
		ids:      ids,
		producer: producer,
		cfg:      cfg,
		allowed:  allowed,
	}
}

// Submit validates req and, on success, creates and enqueues a test
// job. Validation failures short-circuit before any mutation. A
// *jobstore.StorageError means the job is not usable; a *QueueError
// means the record exists on disk but never reached the broker.
func (s *Service) Submit(ctx context.Context, req *Request) (*jobstore.TestInfo, error) {
	info, err := s.validate(req)
	if err != nil {
		submissionsRejected.Inc()

		return nil, err
	}

	info.ID = s.ids.Generate()

	if err := s.store.Create(info); err != nil {
		submissionsFailed.Inc()

		return nil, err
	}

	tube := s.cfg.Queue.TestTube
	if info.NeedsBuild {
		tube = s.cfg.Queue.BuildTube
	}

	if err := s.producer.Put(ctx, tube, info.ID); err != nil {
		submissionsFailed.Inc()
		s.log.WithError(err).
			WithField("test", info.ID).
			Error("Stored test could not be enqueued")

		return nil, &QueueError{TestID: info.ID, Err: err}
	}

	submissionsTotal.WithLabelValues(tube).Inc()
	s.log.WithField("test", info.ID).
		WithField("url", info.URL).
		WithField("runs", info.Runs).
		Info("Test submitted")

	return info, nil
}

// validate checks every field independently and assembles the intake
// metadata. No side effects.
func (s *Service) validate(req *Request) (*jobstore.TestInfo, error) {
	if req.URL == "" {
		return nil, &ValidationError{Field: "url", Reason: "missing"}
	}

	u, err := url.Parse(req.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, &ValidationError{
			Field: "url", Reason: "must be an absolute URL",
		}
	}

	if req.Runs == "" {
		return nil, &ValidationError{Field: "runs", Reason: "missing"}
	}

	runs, err := strconv.Atoi(req.Runs)
	if err != nil {
		return nil, &ValidationError{
			Field: "runs", Reason: "must be an integer",
		}
	}

	if runs < 1 {
		return nil, &ValidationError{
			Field: "runs", Reason: "must be at least 1",
		}
	}

	info := &jobstore.TestInfo{
		URL:     req.URL,
		Runs:    runs,
		Rebuild: req.Rebuild,
		Clear:   req.Clear,
		Video:   req.Video,
		CPU:     req.CPU,
	}

	if req.CL != "" {
		cl, err := strconv.Atoi(req.CL)
		if err != nil {
			return nil, &ValidationError{
				Field: "cl", Reason: "must be an integer",
			}
		}

		info.CL = cl
		info.NeedsBuild = true
	}

	info.Categories = s.filterCategories(req.Categories)

	return info, nil
}

// filterCategories drops entries missing from the allow-list and
// collapses duplicates, preserving request order. Unknown categories
// are dropped silently, not rejected. Returns nil when nothing
// survives so the field is omitted from the persisted metadata.
func (s *Service) filterCategories(categories []string) []string {
	var out []string

	seen := make(map[string]struct{}, len(categories))

	for _, cat := range categories {
		if _, ok := s.allowed[cat]; !ok {
			continue
		}

		if _, dup := seen[cat]; dup {
			continue
		}

		seen[cat] = struct{}{}
		out = append(out, cat)
	}

	return out
}
