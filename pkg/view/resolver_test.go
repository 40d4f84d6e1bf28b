package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentransit/gtfsrt.tools/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	return st
}

func seedSnapshot(t *testing.T, st *store.Store, providerID string, ts time.Time, finished bool) store.Snapshot {
	t.Helper()
	snap := store.Snapshot{
		ProviderID:          providerID,
		FeedTimestamp:       ts,
		GTFSRealtimeVersion: "2.0",
		FeedType:            "trip_updates",
		Finished:            finished,
	}
	require.NoError(t, st.DB.Create(&snap).Error)
	return snap
}

func TestClosestPicksNearestWithinWindow(t *testing.T) {
	st := newTestStore(t)
	r := NewResolver(st)
	at := time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC)

	seedSnapshot(t, st, "bart", at.Add(-45*time.Second), true)
	want := seedSnapshot(t, st, "bart", at.Add(10*time.Second), true)
	seedSnapshot(t, st, "bart", at.Add(55*time.Second), true)

	got, err := r.Closest("bart", at, DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
}

func TestClosestTieBreaksTowardLaterTimestamp(t *testing.T) {
	st := newTestStore(t)
	r := NewResolver(st)
	at := time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC)

	seedSnapshot(t, st, "bart", at.Add(-10*time.Second), true)
	want := seedSnapshot(t, st, "bart", at.Add(5*time.Second), true)

	got, err := r.Closest("bart", at, DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)

	// An exact tie also lands on the later side.
	st2 := newTestStore(t)
	r2 := NewResolver(st2)
	seedSnapshot(t, st2, "bart", at.Add(-30*time.Second), true)
	wantLater := seedSnapshot(t, st2, "bart", at.Add(30*time.Second), true)

	got, err = r2.Closest("bart", at, DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, wantLater.ID, got.ID)
}

func TestClosestExcludesOutsideWindowAndUnfinished(t *testing.T) {
	st := newTestStore(t)
	r := NewResolver(st)
	at := time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC)

	seedSnapshot(t, st, "bart", at.Add(-2*time.Minute), true)
	seedSnapshot(t, st, "bart", at.Add(90*time.Second), true)
	seedSnapshot(t, st, "bart", at.Add(5*time.Second), false)
	seedSnapshot(t, st, "caltrain", at, true)

	_, err := r.Closest("bart", at, DefaultWindow)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLatestFinishedSkipsUnfinished(t *testing.T) {
	st := newTestStore(t)
	r := NewResolver(st)
	base := time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC)

	want := seedSnapshot(t, st, "bart", base, true)
	seedSnapshot(t, st, "bart", base.Add(time.Minute), false)

	got, err := r.LatestFinished("bart")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
}

func TestLatestFinishedEmptyProvider(t *testing.T) {
	st := newTestStore(t)
	r := NewResolver(st)

	_, err := r.LatestFinished("bart")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestByIDChecksProvider(t *testing.T) {
	st := newTestStore(t)
	r := NewResolver(st)
	base := time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC)

	snap := seedSnapshot(t, st, "bart", base, true)

	got, err := r.ByID(snap.ID, "bart")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)

	_, err = r.ByID(snap.ID, "caltrain")
	require.ErrorIs(t, err, ErrProviderMismatch)

	_, err = r.ByID(snap.ID+100, "bart")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestByIDReturnsUnfinishedSnapshots(t *testing.T) {
	st := newTestStore(t)
	r := NewResolver(st)
	base := time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC)

	snap := seedSnapshot(t, st, "bart", base, false)

	got, err := r.ByID(snap.ID, "bart")
	require.NoError(t, err)
	assert.False(t, got.Finished)
}
