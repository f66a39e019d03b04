package jobstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMarker(t *testing.T, store *Store, id, name, msg string) {
	t.Helper()

	dir, err := store.Dir(id)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, name), []byte(msg), 0o644,
	))
}

func TestResolveUnknownTest(t *testing.T) {
	store := newTestStore(t)

	status := store.Resolve("20240131_0000000000000000ffff")
	assert.Equal(t, StateInvalid, status.State)
	assert.Equal(t, "Invalid test", status.Heading)
	assert.Equal(t, "Test not found", status.Message)
	assert.False(t, status.Done)
}

func TestResolveInvalidID(t *testing.T) {
	store := newTestStore(t)

	status := store.Resolve("../../etc")
	assert.Equal(t, StateInvalid, status.State)
}

func TestResolvePendingMessages(t *testing.T) {
	store := newTestStore(t)

	plain := &TestInfo{
		ID: "20240131_1111111111111111aaaa", URL: "https://example.com", Runs: 1,
	}
	require.NoError(t, store.Create(plain))

	status := store.Resolve(plain.ID)
	assert.Equal(t, StatePending, status.State)
	assert.Equal(t, "Test is pending", status.Heading)
	assert.Equal(t, "Waiting to be tested", status.Message)

	patched := &TestInfo{
		ID: "20240131_1111111111111111bbbb", URL: "https://example.com",
		Runs: 1, CL: 123456, NeedsBuild: true,
	}
	require.NoError(t, store.Create(patched))

	status = store.Resolve(patched.ID)
	assert.Equal(t, StatePending, status.State)
	assert.Equal(t, "Waiting for build bot", status.Message)
}

// Markers accumulate in stage order and the resolved state must advance
// monotonically, never reverting once a later-stage marker appears.
func TestResolvePrecedence(t *testing.T) {
	store := newTestStore(t)
	id := "20240131_2222222222222222aaaa"

	info := &TestInfo{ID: id, URL: "https://example.com", Runs: 1, NeedsBuild: true}
	require.NoError(t, store.Create(info))

	steps := []struct {
		marker  string
		msg     string
		state   State
		heading string
		done    bool
	}{
		{"status", "queued behind 2 tests", StatePending, "Test is pending", false},
		{"building", "50%", StateBuilding, "Test is building", false},
		{"running", "run 1 of 1", StateRunning, "Test is running", false},
		{"done", "OK", StateComplete, "Test is complete", true},
	}

	for _, step := range steps {
		writeMarker(t, store, id, step.marker, step.msg)

		status := store.Resolve(id)
		assert.Equal(t, step.state, status.State, "after %s marker", step.marker)
		assert.Equal(t, step.heading, status.Heading)
		assert.Equal(t, step.msg, status.Message)
		assert.Equal(t, step.done, status.Done)
	}
}

func TestResolveIdempotent(t *testing.T) {
	store := newTestStore(t)
	id := "20240131_3333333333333333aaaa"

	info := &TestInfo{ID: id, URL: "https://example.com", Runs: 1}
	require.NoError(t, store.Create(info))
	writeMarker(t, store, id, "running", "run 1 of 1")

	first := store.Resolve(id)
	second := store.Resolve(id)
	assert.Equal(t, first, second)
}

// A marker that is present but unreadable must fall through to the next
// lower-ranked stage instead of failing resolution. A directory in the
// marker's place makes the read fail while the name still exists.
func TestResolveUnreadableMarkerFallsThrough(t *testing.T) {
	store := newTestStore(t)
	id := "20240131_4444444444444444aaaa"

	info := &TestInfo{ID: id, URL: "https://example.com", Runs: 1}
	require.NoError(t, store.Create(info))
	writeMarker(t, store, id, "building", "75%")

	dir, err := store.Dir(id)
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "done"), 0o755))

	status := store.Resolve(id)
	assert.Equal(t, StateBuilding, status.State)
	assert.Equal(t, "75%", status.Message)
	assert.False(t, status.Done)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "building", StateBuilding.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "complete", StateComplete.String())
	assert.Equal(t, "invalid", StateInvalid.String())
}
