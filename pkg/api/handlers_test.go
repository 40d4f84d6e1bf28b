package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentransit/gtfsrt.tools/pkg/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	st, err := store.OpenMemory()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := echo.New()
	NewAPI(logger, st).RegisterRoutes(e)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func seedFinishedSnapshot(t *testing.T, st *store.Store, providerID string, ts time.Time) store.Snapshot {
	t.Helper()
	snap := store.Snapshot{
		ProviderID:          providerID,
		FeedTimestamp:       ts,
		GTFSRealtimeVersion: "2.0",
		FeedType:            "trip_updates",
		Finished:            true,
	}
	require.NoError(t, st.DB.Create(&snap).Error)
	return snap
}

func TestTripUpdatesNoSnapshotIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := getJSON(t, srv.URL+"/bart/trip-updates")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, "error")
}

func TestTripUpdatesLatestSnapshot(t *testing.T) {
	srv, st := newTestServer(t)

	ts := time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC)
	seedFinishedSnapshot(t, st, "bart", ts.Add(-time.Minute))
	latest := seedFinishedSnapshot(t, st, "bart", ts)

	status, body := getJSON(t, srv.URL+"/bart/trip-updates")
	require.Equal(t, http.StatusOK, status)

	snap, ok := body["snapshot"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(latest.ID), snap["id"])
	assert.Equal(t, "bart", body["provider"])

	updates, ok := body["trip_updates"].([]any)
	require.True(t, ok)
	assert.Empty(t, updates)
}

func TestTripUpdatesAtResolvesClosest(t *testing.T) {
	srv, st := newTestServer(t)

	ts := time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC)
	want := seedFinishedSnapshot(t, st, "bart", ts.Add(5*time.Second))
	seedFinishedSnapshot(t, st, "bart", ts.Add(10*time.Minute))

	status, body := getJSON(t, srv.URL+"/bart/trip-updates?at=2023-11-14T08:00:00Z")
	require.Equal(t, http.StatusOK, status)
	snap := body["snapshot"].(map[string]any)
	assert.Equal(t, float64(want.ID), snap["id"])

	// Nothing near an instant outside every window.
	status, _ = getJSON(t, srv.URL+"/bart/trip-updates?at=2023-11-14T12:00:00Z")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = getJSON(t, srv.URL+"/bart/trip-updates?at=yesterday-ish")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSnapshotIDProviderMismatchIs409(t *testing.T) {
	srv, st := newTestServer(t)

	snap := seedFinishedSnapshot(t, st, "bart", time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC))

	status, _ := getJSON(t, srv.URL+"/caltrain/trip-updates?snapshot_id="+itoa(snap.ID))
	assert.Equal(t, http.StatusConflict, status)

	status, _ = getJSON(t, srv.URL+"/bart/trip-updates?snapshot_id="+itoa(snap.ID))
	assert.Equal(t, http.StatusOK, status)

	status, _ = getJSON(t, srv.URL+"/bart/trip-updates?snapshot_id=abc")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = getJSON(t, srv.URL+"/bart/trip-updates?snapshot_id=99999")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeparturesUnknownStationIs404(t *testing.T) {
	srv, st := newTestServer(t)

	seedFinishedSnapshot(t, st, "bart", time.Now().UTC())

	status, body := getJSON(t, srv.URL+"/bart/departures/NOPE")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, "error")
}

func TestDeparturesForStation(t *testing.T) {
	srv, st := newTestServer(t)

	zone := "LAKE"
	platform := "1"
	require.NoError(t, st.DB.Create(&store.Stop{
		ProviderID:   "bart",
		StopID:       "LAKE-1",
		StopName:     "Lake Merritt",
		ZoneID:       &zone,
		PlatformCode: &platform,
	}).Error)
	seedFinishedSnapshot(t, st, "bart", time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC))

	status, body := getJSON(t, srv.URL+"/bart/departures/lake")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "LAKE", body["station"])
	assert.Equal(t, "all", body["platform"])
	assert.Equal(t, "Lake Merritt", body["station_name"])

	status, body = getJSON(t, srv.URL+"/bart/departures/LAKE/1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1", body["platform"])
}

func TestListSnapshots(t *testing.T) {
	srv, st := newTestServer(t)

	base := time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedFinishedSnapshot(t, st, "bart", base.Add(time.Duration(i)*time.Minute))
	}
	unfinished := store.Snapshot{ProviderID: "bart", FeedTimestamp: base.Add(time.Hour), FeedType: "trip_updates"}
	require.NoError(t, st.DB.Create(&unfinished).Error)

	status, body := getJSON(t, srv.URL+"/bart/snapshots?limit=2&page=1")
	require.Equal(t, http.StatusOK, status)

	snaps := body["snapshots"].([]any)
	assert.Len(t, snaps, 2)
	pagination := body["pagination"].(map[string]any)
	assert.Equal(t, float64(6), pagination["total"])
	assert.Equal(t, float64(3), pagination["total_pages"])
	assert.Equal(t, true, pagination["has_next"])
	assert.Equal(t, false, pagination["has_prev"])

	// Newest first.
	first := snaps[0].(map[string]any)
	assert.Equal(t, false, first["finished"])

	status, body = getJSON(t, srv.URL+"/bart/snapshots?finished=true")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["snapshots"].([]any), 5)

	status, _ = getJSON(t, srv.URL+"/bart/snapshots?page=0")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = getJSON(t, srv.URL+"/bart/snapshots?from=2023-11-14T08:03:00Z")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["snapshots"].([]any), 3)
}

func itoa(v uint) string {
	return fmt.Sprint(v)
}
