package index

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/traceomatic/traceomatic/pkg/config"
	"github.com/traceomatic/traceomatic/pkg/jobstore"
	"github.com/traceomatic/traceomatic/pkg/queue"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultInterval between indexing passes when none is configured.
	defaultInterval = 60 * time.Second

	// defaultConcurrency is the number of tests indexed in parallel
	// when no explicit concurrency value is configured.
	defaultConcurrency = 4

	// defaultRequeueAge is how long a pending, unacknowledged test may
	// sit before the sweep re-enqueues it.
	defaultRequeueAge = 15 * time.Minute
)

var dateSegment = regexp.MustCompile(`^\d{8}$`)

// Indexer is a background service that periodically scans the results
// tree, upserts indexed test data, and re-enqueues stranded tests.
type Indexer interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Indexer = (*indexer)(nil)

type indexer struct {
	log         logrus.FieldLogger
	cfg         *config.Config
	store       Store
	jobs        *jobstore.Store
	producer    queue.Producer
	interval    time.Duration
	concurrency int
	requeueAge  time.Duration
	done        chan struct{}
	wg          sync.WaitGroup
	dbMu        sync.Mutex // serializes DB writes to avoid SQLite contention
}

// NewIndexer creates a background indexer. The producer may be nil, in
// which case the requeue sweep is disabled regardless of config.
func NewIndexer(
	log logrus.FieldLogger,
	cfg *config.Config,
	store Store,
	jobs *jobstore.Store,
	producer queue.Producer,
) Indexer {
	idx := &indexer{
		log:         log.WithField("component", "indexer"),
		cfg:         cfg,
		store:       store,
		jobs:        jobs,
		producer:    producer,
		interval:    defaultInterval,
		concurrency: defaultConcurrency,
		requeueAge:  defaultRequeueAge,
		done:        make(chan struct{}),
	}

	ic := cfg.Indexing

	if ic.Interval != "" {
		if d, err := time.ParseDuration(ic.Interval); err == nil {
			idx.interval = d
		}
	}

	if ic.Concurrency > 0 {
		idx.concurrency = ic.Concurrency
	}

	if ic.Requeue.Age != "" {
		if d, err := time.ParseDuration(ic.Requeue.Age); err == nil {
			idx.requeueAge = d
		}
	}

	return idx
}

// Start launches a background goroutine that runs an immediate pass and
// then ticks at the configured interval.
func (idx *indexer) Start(ctx context.Context) error {
	idx.log.WithFields(logrus.Fields{
		"interval":    idx.interval.String(),
		"concurrency": idx.concurrency,
		"requeue":     idx.requeueEnabled(),
	}).Info("Starting indexer")

	idx.wg.Add(1)

	go func() {
		defer idx.wg.Done()

		idx.runPass(ctx)

		ticker := time.NewTicker(idx.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				idx.runPass(ctx)
			case <-idx.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the indexer goroutine to stop and waits for it.
func (idx *indexer) Stop() error {
	close(idx.done)
	idx.wg.Wait()

	idx.log.Info("Indexer stopped")

	return nil
}

func (idx *indexer) requeueEnabled() bool {
	return idx.producer != nil && idx.cfg.Indexing.Requeue.Enabled
}

// runPass executes one full indexing pass over the results tree.
func (idx *indexer) runPass(ctx context.Context) {
	start := time.Now()

	ids := idx.discoverTests()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)

	for _, id := range ids {
		id := id

		g.Go(func() error {
			idx.indexTest(gctx, id)

			return nil
		})
	}

	_ = g.Wait()

	if idx.requeueEnabled() {
		idx.requeueStranded(ctx)
	}

	idx.log.WithField("tests", len(ids)).
		WithField("duration", time.Since(start).String()).
		Debug("Indexing pass finished")
}

// discoverTests walks the two-level date/suffix layout of the results
// tree and returns the test ids found there.
func (idx *indexer) discoverTests() []string {
	var ids []string

	root := idx.cfg.Results.Dir

	dates, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			idx.log.WithError(err).Warn("Failed to read results root")
		}

		return nil
	}

	for _, date := range dates {
		if !date.IsDir() || !dateSegment.MatchString(date.Name()) {
			continue
		}

		entries, err := os.ReadDir(filepath.Join(root, date.Name()))
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			ids = append(ids, date.Name()+"_"+entry.Name())
		}
	}

	return ids
}

// indexTest resolves one test's state and upserts its index record.
func (idx *indexer) indexTest(ctx context.Context, id string) {
	info, err := idx.jobs.Read(id)
	if err != nil {
		return
	}

	status := idx.jobs.Resolve(id)

	test := &Test{
		TestID:       id,
		URL:          info.URL,
		Runs:         info.Runs,
		CL:           info.CL,
		NeedsBuild:   info.NeedsBuild,
		State:        status.State.String(),
		Message:      status.Message,
		Acknowledged: idx.jobs.HasMarkers(id),
		SubmittedAt:  idx.submittedAt(id),
		IndexedAt:    time.Now().UTC(),
	}

	idx.dbMu.Lock()
	defer idx.dbMu.Unlock()

	if err := idx.store.UpsertTest(ctx, test); err != nil {
		idx.log.WithError(err).
			WithField("test", id).
			Warn("Failed to upsert test")
	}
}

// submittedAt approximates the submission time from the intake
// metadata's modification time; the metadata is written exactly once.
func (idx *indexer) submittedAt(id string) time.Time {
	dir, err := idx.jobs.Dir(id)
	if err != nil {
		return time.Time{}
	}

	fi, err := os.Stat(filepath.Join(dir, "testinfo.json"))
	if err != nil {
		return time.Time{}
	}

	return fi.ModTime().UTC()
}

// requeueStranded pushes pending, unacknowledged tests older than the
// configured age back onto their queue. This compensates for the
// store-then-enqueue gap: a broker outage during submission leaves the
// record on disk but never delivers the job to an agent.
func (idx *indexer) requeueStranded(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-idx.requeueAge)

	idx.dbMu.Lock()
	stranded, err := idx.store.ListStranded(ctx, cutoff)
	idx.dbMu.Unlock()

	if err != nil {
		idx.log.WithError(err).Warn("Failed to list stranded tests")

		return
	}

	for _, test := range stranded {
		tube := idx.cfg.Queue.TestTube
		if test.NeedsBuild {
			tube = idx.cfg.Queue.BuildTube
		}

		if err := idx.producer.Put(ctx, tube, test.TestID); err != nil {
			idx.log.WithError(err).
				WithField("test", test.TestID).
				Warn("Failed to requeue stranded test")

			continue
		}

		idx.log.WithField("test", test.TestID).
			WithField("tube", tube).
			Info("Requeued stranded test")

		idx.dbMu.Lock()

		if err := idx.store.MarkRequeued(
			ctx, test.TestID, time.Now().UTC(),
		); err != nil {
			idx.log.WithError(err).
				WithField("test", test.TestID).
				Warn("Failed to mark test requeued")
		}

		idx.dbMu.Unlock()
	}
}
