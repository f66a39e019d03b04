package jobstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	return NewStore(logrus.New(), t.TempDir(), nil)
}

func TestCreateAndRead(t *testing.T) {
	store := newTestStore(t)

	info := &TestInfo{
		ID:         "20240131_f3a9c0d1e2b34455a6b7",
		URL:        "https://example.com",
		Runs:       3,
		CL:         123456,
		Clear:      true,
		Categories: []string{"blink", "v8"},
		NeedsBuild: true,
	}

	require.NoError(t, store.Create(info))

	got, err := store.Read(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestCreateEmptyCategoriesOmitted(t *testing.T) {
	store := newTestStore(t)

	info := &TestInfo{
		ID:   "20240131_aaaaaaaaaaaaaaaaaaaa",
		URL:  "https://example.com",
		Runs: 1,
	}

	require.NoError(t, store.Create(info))

	dir, err := store.Dir(info.ID)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "testinfo.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "categories")
}

func TestDirRejectsInvalidID(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"", "../../etc", "a/b", "a b"} {
		_, err := store.Dir(id)
		assert.ErrorIs(t, err, ErrInvalidID, "id %q", id)
	}
}

func TestReadNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Read("20240131_bbbbbbbbbbbbbbbbbbbb")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadRejectsCorruptMetadata(t *testing.T) {
	store := newTestStore(t)
	id := "20240131_cccccccccccccccccccc"

	dir, err := store.Dir(id)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "testinfo.json"), []byte("{not json"), 0o644,
	))

	_, err = store.Read(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArtifacts(t *testing.T) {
	store := newTestStore(t)
	id := "20240131_dddddddddddddddddddd"

	info := &TestInfo{ID: id, URL: "https://example.com", Runs: 2}
	require.NoError(t, store.Create(info))

	dir, err := store.Dir(id)
	require.NoError(t, err)

	// Run 1 has a JSON trace and screenshot, run 2 only a perfetto trace.
	for _, name := range []string{
		"001-trace.json.gz",
		"001-screenshot.png",
		"002-trace.perfetto.gz",
	} {
		require.NoError(t, os.WriteFile(
			filepath.Join(dir, name), []byte("x"), 0o644,
		))
	}

	run1, err := store.Artifacts(id, 1)
	require.NoError(t, err)
	assert.Equal(t, "001-screenshot.png", run1.Screenshot)
	assert.Equal(t, "001-trace.json.gz", run1.JSONTrace)
	assert.Empty(t, run1.PerfettoTrace)

	run2, err := store.Artifacts(id, 2)
	require.NoError(t, err)
	assert.Empty(t, run2.Screenshot)
	assert.Empty(t, run2.JSONTrace)
	assert.Equal(t, "002-trace.perfetto.gz", run2.PerfettoTrace)

	run3, err := store.Artifacts(id, 3)
	require.NoError(t, err)
	assert.Equal(t, RunArtifacts{}, run3)
}
