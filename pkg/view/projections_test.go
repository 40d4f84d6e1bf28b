package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentransit/gtfsrt.tools/pkg/store"
)

func TestProjectionsEmptySnapshot(t *testing.T) {
	st := newTestStore(t)
	p := NewProjector(st)

	snap := store.Snapshot{ProviderID: "bart", FeedTimestamp: time.Now().UTC(), Finished: true}
	require.NoError(t, st.DB.Create(&snap).Error)

	updates, err := p.TripUpdates(snap)
	require.NoError(t, err)
	assert.Empty(t, updates)

	positions, err := p.VehiclePositions(snap)
	require.NoError(t, err)
	assert.Empty(t, positions)

	alerts, err := p.Alerts(snap)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestTripUpdateProjectionNestsEventsAndJoins(t *testing.T) {
	st := newTestStore(t)
	p := NewProjector(st)
	seedStation(t, st, "bart")

	feedTS := time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC)
	snap := seedTrip(t, st, "bart", "trip-1", feedTS, strPtr("08:00:00"), &store.StopTimeEvent{
		Delay: i32Ptr(120),
		Time:  timePtr(feedTS.Add(2 * time.Minute)),
	})

	updates, err := p.TripUpdates(snap)
	require.NoError(t, err)
	require.Len(t, updates, 1)

	u := updates[0]
	assert.Equal(t, "ent-trip-1", u.EntityID)
	assert.False(t, u.IsDeleted)

	require.NotNil(t, u.Trip)
	assert.Equal(t, "trip-1", u.Trip.TripID)
	require.NotNil(t, u.Trip.RouteID)
	assert.Equal(t, "route-1", *u.Trip.RouteID)

	require.NotNil(t, u.Destination)
	assert.Equal(t, "SF Airport", *u.Destination)
	require.NotNil(t, u.Route)
	assert.Equal(t, "route-1", u.Route.RouteID)
	require.NotNil(t, u.Route.RouteName)
	assert.Equal(t, "Red", *u.Route.RouteName)

	require.NotNil(t, u.Vehicle)
	assert.Equal(t, "veh-trip-1", u.Vehicle.ID)

	require.Len(t, u.StopTimeUpdates, 1)
	stu := u.StopTimeUpdates[0]
	require.NotNil(t, stu.StopSequence)
	assert.Equal(t, uint32(5), *stu.StopSequence)
	assert.Nil(t, stu.Arrival)
	require.NotNil(t, stu.Departure)
	require.NotNil(t, stu.Departure.Delay)
	assert.Equal(t, int32(120), *stu.Departure.Delay)
	require.NotNil(t, stu.Departure.Time)
}

func TestVehiclePositionProjection(t *testing.T) {
	st := newTestStore(t)
	p := NewProjector(st)

	snap := store.Snapshot{
		ProviderID:    "bart",
		FeedTimestamp: time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC),
		FeedType:      "trip_updates",
		EntityCount:   1,
		Finished:      true,
	}
	require.NoError(t, st.DB.Create(&snap).Error)

	require.NoError(t, st.DB.Create(&store.VehicleDescriptor{
		ProviderID: "bart",
		VehicleID:  "veh-9",
		Label:      strPtr("Train 9"),
	}).Error)
	require.NoError(t, st.DB.Create(&store.Position{
		ProviderID: "bart",
		EntityID:   "ent-9",
		Latitude:   strPtr("37.7749"),
		Longitude:  strPtr("-122.4194"),
	}).Error)

	vp := store.VehiclePosition{
		ProviderID:          "bart",
		EntityID:            "ent-9",
		VehicleID:           "veh-9",
		CurrentStopSequence: u32Ptr(3),
		StopID:              strPtr("LAKE-1"),
	}
	require.NoError(t, st.DB.Create(&vp).Error)
	require.NoError(t, st.DB.Create(&store.Entity{
		SnapshotID:        snap.ID,
		EntityID:          "ent-9",
		Kind:              store.KindVehiclePosition,
		VehiclePositionID: &vp.ID,
	}).Error)

	positions, err := p.VehiclePositions(snap)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	v := positions[0]
	assert.Equal(t, "ent-9", v.EntityID)
	assert.Nil(t, v.Trip)
	require.NotNil(t, v.Vehicle)
	assert.Equal(t, "veh-9", v.Vehicle.ID)
	require.NotNil(t, v.Position)
	require.NotNil(t, v.Position.Latitude)
	assert.Equal(t, "37.7749", *v.Position.Latitude)
	require.NotNil(t, v.CurrentStopSequence)
	assert.Equal(t, uint32(3), *v.CurrentStopSequence)
}

func TestAlertProjection(t *testing.T) {
	st := newTestStore(t)
	p := NewProjector(st)

	snap := store.Snapshot{
		ProviderID:    "bart",
		FeedTimestamp: time.Date(2023, 11, 14, 8, 0, 0, 0, time.UTC),
		FeedType:      "alerts",
		EntityCount:   1,
		Finished:      true,
	}
	require.NoError(t, st.DB.Create(&snap).Error)

	header := `{"translation":[{"text":"Track work","language":"en"}]}`
	alert := store.Alert{
		ProviderID: "bart",
		EntityID:   "alert-1",
		Cause:      9,
		Effect:     4,
		HeaderText: &header,
	}
	require.NoError(t, st.DB.Create(&alert).Error)
	require.NoError(t, st.DB.Create(&store.Entity{
		SnapshotID: snap.ID,
		EntityID:   "alert-1",
		Kind:       store.KindAlert,
		AlertID:    &alert.ID,
	}).Error)

	start := time.Date(2023, 11, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.DB.Create(&store.TimeRange{AlertID: alert.ID, Start: &start}).Error)
	require.NoError(t, st.DB.Create(&store.EntitySelector{AlertID: alert.ID, RouteID: strPtr("route-1")}).Error)

	alerts, err := p.Alerts(snap)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	a := alerts[0]
	assert.Equal(t, "alert-1", a.EntityID)
	assert.Equal(t, int32(9), a.Cause)
	assert.JSONEq(t, header, string(a.HeaderText))
	require.Len(t, a.ActivePeriods, 1)
	require.NotNil(t, a.ActivePeriods[0].Start)
	assert.Nil(t, a.ActivePeriods[0].End)
	require.Len(t, a.InformedEntities, 1)
	require.NotNil(t, a.InformedEntities[0].RouteID)
	assert.Equal(t, "route-1", *a.InformedEntities[0].RouteID)
}
