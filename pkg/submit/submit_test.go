package submit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/traceomatic/traceomatic/pkg/config"
	"github.com/traceomatic/traceomatic/pkg/jobstore"
	"github.com/traceomatic/traceomatic/pkg/testid"
)

// fakeProducer records enqueued jobs or fails every Put.
type fakeProducer struct {
	puts []put
	err  error
}

type put struct {
	tube   string
	testID string
}

func (f *fakeProducer) Put(_ context.Context, tube, testID string) error {
	if f.err != nil {
		return f.err
	}

	f.puts = append(f.puts, put{tube: tube, testID: testID})

	return nil
}

func (f *fakeProducer) Close() error { return nil }

func newTestService(t *testing.T) (*Service, *fakeProducer, string) {
	t.Helper()

	dir := t.TempDir()
	log := logrus.New()

	cfg := &config.Config{}
	cfg.Results.Dir = dir
	cfg.Queue.BuildTube = "build"
	cfg.Queue.TestTube = "test"
	cfg.Trace.Categories = []string{"blink", "v8", "loading"}

	producer := &fakeProducer{}
	svc := NewService(
		log, cfg,
		jobstore.NewStore(log, dir, nil),
		testid.NewGenerator(dir),
		producer,
	)

	return svc, producer, dir
}

func TestSubmitPlainTest(t *testing.T) {
	svc, producer, dir := newTestService(t)

	info, err := svc.Submit(context.Background(), &Request{
		URL:  "https://example.com",
		Runs: "3",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "https://example.com", info.URL)
	assert.Equal(t, 3, info.Runs)
	assert.False(t, info.NeedsBuild)

	require.Len(t, producer.puts, 1)
	assert.Equal(t, "test", producer.puts[0].tube)
	assert.Equal(t, info.ID, producer.puts[0].testID)

	// Metadata round-trips through the store.
	stored, err := jobstore.NewStore(logrus.New(), dir, nil).Read(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info, stored)
}

func TestSubmitWithCLRoutesToBuildTube(t *testing.T) {
	svc, producer, _ := newTestService(t)

	info, err := svc.Submit(context.Background(), &Request{
		URL:  "https://example.com",
		Runs: "1",
		CL:   "123456",
	})
	require.NoError(t, err)

	assert.True(t, info.NeedsBuild)
	assert.Equal(t, 123456, info.CL)
	require.Len(t, producer.puts, 1)
	assert.Equal(t, "build", producer.puts[0].tube)
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{name: "missing url", req: Request{Runs: "1"}, field: "url"},
		{name: "relative url", req: Request{URL: "/local/path", Runs: "1"}, field: "url"},
		{name: "scheme only", req: Request{URL: "https://", Runs: "1"}, field: "url"},
		{name: "missing runs", req: Request{URL: "https://example.com"}, field: "runs"},
		{name: "non-integer runs", req: Request{URL: "https://example.com", Runs: "three"}, field: "runs"},
		{name: "zero runs", req: Request{URL: "https://example.com", Runs: "0"}, field: "runs"},
		{name: "bad cl", req: Request{URL: "https://example.com", Runs: "1", CL: "abc"}, field: "cl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, producer, dir := newTestService(t)

			_, err := svc.Submit(context.Background(), &tt.req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)

			// Fail fast: nothing stored, nothing enqueued.
			assert.Empty(t, producer.puts)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestSubmitFiltersCategories(t *testing.T) {
	svc, _, _ := newTestService(t)

	info, err := svc.Submit(context.Background(), &Request{
		URL:        "https://example.com",
		Runs:       "1",
		Categories: []string{"blink", "bogus", "v8", "blink"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"blink", "v8"}, info.Categories)
}

func TestSubmitAllCategoriesUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)

	info, err := svc.Submit(context.Background(), &Request{
		URL:        "https://example.com",
		Runs:       "1",
		Categories: []string{"bogus", "nope"},
	})
	require.NoError(t, err)
	assert.Nil(t, info.Categories)
}

func TestSubmitQueueFailureKeepsRecord(t *testing.T) {
	svc, producer, dir := newTestService(t)
	producer.err = errors.New("broker unreachable")

	_, err := svc.Submit(context.Background(), &Request{
		URL:  "https://example.com",
		Runs: "1",
	})

	var qerr *QueueError
	require.ErrorAs(t, err, &qerr)
	require.NotEmpty(t, qerr.TestID)

	// The stored record survives the enqueue failure and resolves as
	// pending.
	store := jobstore.NewStore(logrus.New(), dir, nil)
	info, err := store.Read(qerr.TestID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", info.URL)

	status := store.Resolve(qerr.TestID)
	assert.Equal(t, jobstore.StatePending, status.State)

	_, err = os.Stat(filepath.Join(dir, testid.Path(qerr.TestID), "testinfo.json"))
	assert.NoError(t, err)
}
