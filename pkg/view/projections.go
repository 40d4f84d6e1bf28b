package view

import (
	"encoding/json"
	"time"

	"github.com/opentransit/gtfsrt.tools/pkg/store"
)

// Projector denormalizes a resolved snapshot's rows into plain nested records
// ready for serialization. All joins are batched per table.
type Projector struct {
	store *store.Store
}

func NewProjector(st *store.Store) *Projector {
	return &Projector{store: st}
}

// SnapshotRef is the snapshot header echoed alongside every projection.
type SnapshotRef struct {
	ID          uint      `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Version     string    `json:"version"`
	EntityCount int       `json:"entity_count"`
}

func NewSnapshotRef(snap store.Snapshot) SnapshotRef {
	return SnapshotRef{
		ID:          snap.ID,
		Timestamp:   snap.FeedTimestamp,
		Version:     snap.GTFSRealtimeVersion,
		EntityCount: snap.EntityCount,
	}
}

type TripRef struct {
	TripID               string  `json:"trip_id"`
	RouteID              *string `json:"route_id"`
	DirectionID          *uint32 `json:"direction_id"`
	StartDate            *string `json:"start_date"`
	StartTime            *string `json:"start_time"`
	ScheduleRelationship int32   `json:"schedule_relationship"`
}

type VehicleRef struct {
	ID           string  `json:"id"`
	Label        *string `json:"label"`
	LicensePlate *string `json:"license_plate"`
}

type RouteSummary struct {
	RouteID   string  `json:"route_id"`
	RouteName *string `json:"route_name"`
	Color     *string `json:"color"`
	TextColor *string `json:"text_color"`
}

type EventView struct {
	Delay       *int32     `json:"delay"`
	Time        *time.Time `json:"time"`
	Uncertainty *int32     `json:"uncertainty"`
}

type StopTimeUpdateView struct {
	StopSequence         *uint32    `json:"stop_sequence"`
	StopID               *string    `json:"stop_id"`
	ScheduleRelationship int32      `json:"schedule_relationship"`
	Arrival              *EventView `json:"arrival"`
	Departure            *EventView `json:"departure"`
}

type TripUpdateView struct {
	EntityID        string               `json:"entity_id"`
	IsDeleted       bool                 `json:"is_deleted"`
	Trip            *TripRef             `json:"trip"`
	Destination     *string              `json:"destination"`
	Route           *RouteSummary        `json:"route"`
	Vehicle         *VehicleRef          `json:"vehicle"`
	Timestamp       *time.Time           `json:"timestamp"`
	Delay           *int32               `json:"delay"`
	StopTimeUpdates []StopTimeUpdateView `json:"stop_time_updates"`
}

type PositionView struct {
	Latitude  *string `json:"latitude"`
	Longitude *string `json:"longitude"`
	Bearing   *int32  `json:"bearing"`
	Odometer  *string `json:"odometer"`
	Speed     *string `json:"speed"`
}

type VehiclePositionView struct {
	EntityID            string        `json:"entity_id"`
	IsDeleted           bool          `json:"is_deleted"`
	Trip                *TripRef      `json:"trip"`
	Vehicle             *VehicleRef   `json:"vehicle"`
	Position            *PositionView `json:"position"`
	CurrentStopSequence *uint32       `json:"current_stop_sequence"`
	StopID              *string       `json:"stop_id"`
	CurrentStatus       int32         `json:"current_status"`
	Timestamp           *time.Time    `json:"timestamp"`
	CongestionLevel     int32         `json:"congestion_level"`
	OccupancyStatus     int32         `json:"occupancy_status"`
	OccupancyPercentage *uint32       `json:"occupancy_percentage"`
}

type ActivePeriodView struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

type InformedEntityView struct {
	AgencyID    *string `json:"agency_id"`
	RouteID     *string `json:"route_id"`
	RouteType   *int32  `json:"route_type"`
	TripID      *string `json:"trip_id"`
	DirectionID *uint32 `json:"direction_id"`
	StopID      *string `json:"stop_id"`
}

type AlertView struct {
	EntityID           string               `json:"entity_id"`
	IsDeleted          bool                 `json:"is_deleted"`
	Cause              int32                `json:"cause"`
	Effect             int32                `json:"effect"`
	SeverityLevel      int32                `json:"severity_level"`
	URL                json.RawMessage      `json:"url"`
	HeaderText         json.RawMessage      `json:"header_text"`
	DescriptionText    json.RawMessage      `json:"description_text"`
	TTSHeaderText      json.RawMessage      `json:"tts_header_text"`
	TTSDescriptionText json.RawMessage      `json:"tts_description_text"`
	ActivePeriods      []ActivePeriodView   `json:"active_periods"`
	InformedEntities   []InformedEntityView `json:"informed_entities"`
}

// TripUpdates projects every trip update entity of the snapshot, enriched
// with its trip descriptor, static headsign, route summary, vehicle
// descriptor and per-stop events.
func (p *Projector) TripUpdates(snap store.Snapshot) ([]TripUpdateView, error) {
	ents, err := p.store.EntitiesForSnapshot(snap.ID, store.KindTripUpdate)
	if err != nil {
		return nil, err
	}

	tuIDs := make([]uint, 0, len(ents))
	for _, e := range ents {
		if e.TripUpdateID != nil {
			tuIDs = append(tuIDs, *e.TripUpdateID)
		}
	}
	tus, err := p.store.TripUpdatesByIDs(tuIDs)
	if err != nil {
		return nil, err
	}

	tripIDs, vehicleIDs := updateTripVehicleIDs(tus)
	joins, err := p.tripJoins(snap.ProviderID, tripIDs, vehicleIDs)
	if err != nil {
		return nil, err
	}

	stusByTU, err := p.store.StopTimeUpdatesForTripUpdates(tuIDs)
	if err != nil {
		return nil, err
	}
	var stuIDs []uint
	for _, stus := range stusByTU {
		for _, stu := range stus {
			stuIDs = append(stuIDs, stu.ID)
		}
	}
	eventsByStu, err := p.store.StopTimeEventsForUpdates(stuIDs)
	if err != nil {
		return nil, err
	}

	out := make([]TripUpdateView, 0, len(ents))
	for _, e := range ents {
		if e.TripUpdateID == nil {
			continue
		}
		tu, ok := tus[*e.TripUpdateID]
		if !ok {
			continue
		}

		v := TripUpdateView{
			EntityID:        e.EntityID,
			IsDeleted:       e.IsDeleted,
			Timestamp:       tu.Timestamp,
			Delay:           tu.Delay,
			StopTimeUpdates: []StopTimeUpdateView{},
		}
		v.Trip, v.Destination, v.Route = joins.tripViews(tu.TripID)
		v.Vehicle = joins.vehicleView(tu.VehicleID)

		for _, stu := range stusByTU[tu.ID] {
			sv := StopTimeUpdateView{
				StopSequence:         stu.StopSequence,
				StopID:               stu.StopID,
				ScheduleRelationship: stu.ScheduleRelationship,
			}
			if ev, ok := eventsByStu[stu.ID][store.EventArrival]; ok {
				sv.Arrival = &EventView{Delay: ev.Delay, Time: ev.Time, Uncertainty: ev.Uncertainty}
			}
			if ev, ok := eventsByStu[stu.ID][store.EventDeparture]; ok {
				sv.Departure = &EventView{Delay: ev.Delay, Time: ev.Time, Uncertainty: ev.Uncertainty}
			}
			v.StopTimeUpdates = append(v.StopTimeUpdates, sv)
		}

		out = append(out, v)
	}
	return out, nil
}

// VehiclePositions projects every vehicle position entity of the snapshot.
func (p *Projector) VehiclePositions(snap store.Snapshot) ([]VehiclePositionView, error) {
	ents, err := p.store.EntitiesForSnapshot(snap.ID, store.KindVehiclePosition)
	if err != nil {
		return nil, err
	}

	vpIDs := make([]uint, 0, len(ents))
	entityIDs := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.VehiclePositionID != nil {
			vpIDs = append(vpIDs, *e.VehiclePositionID)
		}
		entityIDs = append(entityIDs, e.EntityID)
	}
	vps, err := p.store.VehiclePositionsByIDs(vpIDs)
	if err != nil {
		return nil, err
	}

	tripIDs, vehicleIDs := positionTripVehicleIDs(vps)
	joins, err := p.tripJoins(snap.ProviderID, tripIDs, vehicleIDs)
	if err != nil {
		return nil, err
	}
	positions, err := p.store.PositionsByEntityIDs(snap.ProviderID, entityIDs)
	if err != nil {
		return nil, err
	}

	out := make([]VehiclePositionView, 0, len(ents))
	for _, e := range ents {
		if e.VehiclePositionID == nil {
			continue
		}
		vp, ok := vps[*e.VehiclePositionID]
		if !ok {
			continue
		}

		v := VehiclePositionView{
			EntityID:            e.EntityID,
			IsDeleted:           e.IsDeleted,
			CurrentStopSequence: vp.CurrentStopSequence,
			StopID:              vp.StopID,
			CurrentStatus:       vp.CurrentStatus,
			Timestamp:           vp.Timestamp,
			CongestionLevel:     vp.CongestionLevel,
			OccupancyStatus:     vp.OccupancyStatus,
			OccupancyPercentage: vp.OccupancyPercentage,
		}
		v.Trip, _, _ = joins.tripViews(vp.TripID)
		v.Vehicle = joins.vehicleView(vp.VehicleID)
		if pos, ok := positions[e.EntityID]; ok {
			v.Position = &PositionView{
				Latitude:  pos.Latitude,
				Longitude: pos.Longitude,
				Bearing:   pos.Bearing,
				Odometer:  pos.Odometer,
				Speed:     pos.Speed,
			}
		}

		out = append(out, v)
	}
	return out, nil
}

// Alerts projects every alert entity of the snapshot with its active periods
// and informed entities.
func (p *Projector) Alerts(snap store.Snapshot) ([]AlertView, error) {
	ents, err := p.store.EntitiesForSnapshot(snap.ID, store.KindAlert)
	if err != nil {
		return nil, err
	}

	alertIDs := make([]uint, 0, len(ents))
	for _, e := range ents {
		if e.AlertID != nil {
			alertIDs = append(alertIDs, *e.AlertID)
		}
	}
	alerts, err := p.store.AlertsByIDs(alertIDs)
	if err != nil {
		return nil, err
	}
	periods, err := p.store.TimeRangesForAlerts(alertIDs)
	if err != nil {
		return nil, err
	}
	selectors, err := p.store.EntitySelectorsForAlerts(alertIDs)
	if err != nil {
		return nil, err
	}

	out := make([]AlertView, 0, len(ents))
	for _, e := range ents {
		if e.AlertID == nil {
			continue
		}
		a, ok := alerts[*e.AlertID]
		if !ok {
			continue
		}

		v := AlertView{
			EntityID:           e.EntityID,
			IsDeleted:          e.IsDeleted,
			Cause:              a.Cause,
			Effect:             a.Effect,
			SeverityLevel:      a.SeverityLevel,
			URL:                rawJSON(a.URL),
			HeaderText:         rawJSON(a.HeaderText),
			DescriptionText:    rawJSON(a.DescriptionText),
			TTSHeaderText:      rawJSON(a.TTSHeaderText),
			TTSDescriptionText: rawJSON(a.TTSDescriptionText),
			ActivePeriods:      []ActivePeriodView{},
			InformedEntities:   []InformedEntityView{},
		}
		for _, tr := range periods[a.ID] {
			v.ActivePeriods = append(v.ActivePeriods, ActivePeriodView{Start: tr.Start, End: tr.End})
		}
		for _, sel := range selectors[a.ID] {
			v.InformedEntities = append(v.InformedEntities, InformedEntityView{
				AgencyID:    sel.AgencyID,
				RouteID:     sel.RouteID,
				RouteType:   sel.RouteType,
				TripID:      sel.TripID,
				DirectionID: sel.DirectionID,
				StopID:      sel.StopID,
			})
		}

		out = append(out, v)
	}
	return out, nil
}

// tripJoinSet holds the batched descriptor and schedule joins shared by the
// trip update and vehicle position projections.
type tripJoinSet struct {
	tripDescs    map[string]store.TripDescriptor
	vehicleDescs map[string]store.VehicleDescriptor
	staticTrips  map[string]store.Trip
	routes       map[string]store.Route
}

func (p *Projector) tripJoins(providerID string, tripIDs, vehicleIDs []string) (*tripJoinSet, error) {
	tripDescs, err := p.store.TripDescriptorsByIDs(providerID, tripIDs)
	if err != nil {
		return nil, err
	}
	vehicleDescs, err := p.store.VehicleDescriptorsByIDs(providerID, vehicleIDs)
	if err != nil {
		return nil, err
	}
	staticTrips, err := p.store.TripsByIDs(providerID, tripIDs)
	if err != nil {
		return nil, err
	}

	routeIDs := make([]string, 0, len(tripDescs))
	seen := map[string]bool{}
	for _, d := range tripDescs {
		if d.RouteID != nil && !seen[*d.RouteID] {
			seen[*d.RouteID] = true
			routeIDs = append(routeIDs, *d.RouteID)
		}
	}
	for _, t := range staticTrips {
		if !seen[t.RouteID] {
			seen[t.RouteID] = true
			routeIDs = append(routeIDs, t.RouteID)
		}
	}
	routes, err := p.store.RoutesByIDs(providerID, routeIDs)
	if err != nil {
		return nil, err
	}

	return &tripJoinSet{
		tripDescs:    tripDescs,
		vehicleDescs: vehicleDescs,
		staticTrips:  staticTrips,
		routes:       routes,
	}, nil
}

// tripViews resolves one trip id into its descriptor view, static headsign
// and route summary. The descriptor's route id wins over the static trip's.
func (j *tripJoinSet) tripViews(tripID string) (*TripRef, *string, *RouteSummary) {
	if tripID == "" {
		return nil, nil, nil
	}

	var ref *TripRef
	var routeID string
	if d, ok := j.tripDescs[tripID]; ok {
		ref = &TripRef{
			TripID:               d.TripID,
			RouteID:              d.RouteID,
			DirectionID:          d.DirectionID,
			StartDate:            d.StartDate,
			StartTime:            d.StartTime,
			ScheduleRelationship: d.ScheduleRelationship,
		}
		if d.RouteID != nil {
			routeID = *d.RouteID
		}
	}

	var headsign *string
	if t, ok := j.staticTrips[tripID]; ok {
		headsign = t.TripHeadsign
		if routeID == "" {
			routeID = t.RouteID
		}
	}

	var summary *RouteSummary
	if r, ok := j.routes[routeID]; ok {
		summary = &RouteSummary{
			RouteID:   r.RouteID,
			RouteName: r.RouteShortName,
			Color:     r.RouteColor,
			TextColor: r.RouteTextColor,
		}
	}
	return ref, headsign, summary
}

func (j *tripJoinSet) vehicleView(vehicleID string) *VehicleRef {
	if vehicleID == "" {
		return nil
	}
	d, ok := j.vehicleDescs[vehicleID]
	if !ok {
		return nil
	}
	return &VehicleRef{ID: d.VehicleID, Label: d.Label, LicensePlate: d.LicensePlate}
}

func updateTripVehicleIDs(tus map[uint]store.TripUpdate) ([]string, []string) {
	seenT, seenV := map[string]bool{}, map[string]bool{}
	var tripIDs, vehicleIDs []string
	for _, tu := range tus {
		if tu.TripID != "" && !seenT[tu.TripID] {
			seenT[tu.TripID] = true
			tripIDs = append(tripIDs, tu.TripID)
		}
		if tu.VehicleID != "" && !seenV[tu.VehicleID] {
			seenV[tu.VehicleID] = true
			vehicleIDs = append(vehicleIDs, tu.VehicleID)
		}
	}
	return tripIDs, vehicleIDs
}

func positionTripVehicleIDs(vps map[uint]store.VehiclePosition) ([]string, []string) {
	seenT, seenV := map[string]bool{}, map[string]bool{}
	var tripIDs, vehicleIDs []string
	for _, vp := range vps {
		if vp.TripID != "" && !seenT[vp.TripID] {
			seenT[vp.TripID] = true
			tripIDs = append(tripIDs, vp.TripID)
		}
		if vp.VehicleID != "" && !seenV[vp.VehicleID] {
			seenV[vp.VehicleID] = true
			vehicleIDs = append(vehicleIDs, vp.VehicleID)
		}
	}
	return tripIDs, vehicleIDs
}

func rawJSON(s *string) json.RawMessage {
	if s == nil {
		return nil
	}
	return json.RawMessage(*s)
}
