package view

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opentransit/gtfsrt.tools/pkg/store"
)

// Departure is one computed departure at a station for one snapshot.
type Departure struct {
	Destination        string        `json:"destination"`
	Route              *RouteSummary `json:"route"`
	Platform           *string       `json:"platform"`
	Minutes            *int          `json:"minutes"`
	DepartureTime      *time.Time    `json:"departure_time"`
	ScheduledDeparture *string       `json:"scheduled_departure"`
	Delay              int32         `json:"delay"`
	VehicleLabel       *string       `json:"vehicle_label"`
	StopSequence       *uint32       `json:"stop_sequence"`
}

// DepartureBoard is the sorted list of upcoming departures at a station,
// computed against one snapshot.
type DepartureBoard struct {
	Station     string      `json:"station"`
	Platform    string      `json:"platform"`
	StationName string      `json:"station_name"`
	Timestamp   time.Time   `json:"timestamp"`
	Platforms   []string    `json:"platforms"`
	Departures  []Departure `json:"departures"`
}

// Compositor builds departure boards by joining a snapshot's trip updates
// against the static schedule.
type Compositor struct {
	store *store.Store
}

func NewCompositor(st *store.Store) *Compositor {
	return &Compositor{store: st}
}

// Departures computes the board for (provider, station zone code, optional
// platform) against the given snapshot. The station resolves to the static
// stops sharing its zone id; an empty resolution is ErrStationNotFound.
func (c *Compositor) Departures(providerID, stationCode string, platform *string, snap store.Snapshot) (*DepartureBoard, error) {
	stationCode = strings.ToUpper(stationCode)

	stationStops, err := c.store.StopsInZone(providerID, stationCode, platform)
	if err != nil {
		return nil, err
	}
	if len(stationStops) == 0 {
		return nil, ErrStationNotFound
	}

	// The platform list covers the whole station even when the query is
	// platform-qualified.
	zoneStops := stationStops
	if platform != nil {
		zoneStops, err = c.store.StopsInZone(providerID, stationCode, nil)
		if err != nil {
			return nil, err
		}
	}

	stopsByID := make(map[string]store.Stop, len(stationStops))
	for _, s := range stationStops {
		stopsByID[s.StopID] = s
	}

	departures, err := c.collectDepartures(providerID, snap, stopsByID)
	if err != nil {
		return nil, err
	}
	sortDepartures(departures)

	board := &DepartureBoard{
		Station:     stationCode,
		Platform:    "all",
		StationName: stationStops[0].StopName,
		Timestamp:   snap.FeedTimestamp,
		Platforms:   platformCodes(zoneStops),
		Departures:  departures,
	}
	if platform != nil {
		board.Platform = *platform
	}
	return board, nil
}

// collectDepartures scans the snapshot's trip updates for stop time updates
// whose scheduled stop falls inside the station's stop set, computing one
// departure per match. Joins are batched per table.
func (c *Compositor) collectDepartures(providerID string, snap store.Snapshot, stationStops map[string]store.Stop) ([]Departure, error) {
	ents, err := c.store.EntitiesForSnapshot(snap.ID, store.KindTripUpdate)
	if err != nil {
		return nil, err
	}
	tuIDs := make([]uint, 0, len(ents))
	for _, e := range ents {
		if e.TripUpdateID != nil {
			tuIDs = append(tuIDs, *e.TripUpdateID)
		}
	}
	tus, err := c.store.TripUpdatesByIDs(tuIDs)
	if err != nil {
		return nil, err
	}

	seenTrips, seenVehicles := map[string]bool{}, map[string]bool{}
	var tripIDs, vehicleIDs []string
	for _, tu := range tus {
		if tu.TripID != "" && !seenTrips[tu.TripID] {
			seenTrips[tu.TripID] = true
			tripIDs = append(tripIDs, tu.TripID)
		}
		if tu.VehicleID != "" && !seenVehicles[tu.VehicleID] {
			seenVehicles[tu.VehicleID] = true
			vehicleIDs = append(vehicleIDs, tu.VehicleID)
		}
	}

	tripDescs, err := c.store.TripDescriptorsByIDs(providerID, tripIDs)
	if err != nil {
		return nil, err
	}
	staticTrips, err := c.store.TripsByIDs(providerID, tripIDs)
	if err != nil {
		return nil, err
	}
	schedules, err := c.store.StopTimesForTrips(providerID, tripIDs)
	if err != nil {
		return nil, err
	}
	vehicleDescs, err := c.store.VehicleDescriptorsByIDs(providerID, vehicleIDs)
	if err != nil {
		return nil, err
	}

	routeIDs := make([]string, 0, len(tripDescs))
	seenRoutes := map[string]bool{}
	for _, d := range tripDescs {
		if d.RouteID != nil && !seenRoutes[*d.RouteID] {
			seenRoutes[*d.RouteID] = true
			routeIDs = append(routeIDs, *d.RouteID)
		}
	}
	for _, t := range staticTrips {
		if !seenRoutes[t.RouteID] {
			seenRoutes[t.RouteID] = true
			routeIDs = append(routeIDs, t.RouteID)
		}
	}
	routes, err := c.store.RoutesByIDs(providerID, routeIDs)
	if err != nil {
		return nil, err
	}

	stusByTU, err := c.store.StopTimeUpdatesForTripUpdates(tuIDs)
	if err != nil {
		return nil, err
	}
	var stuIDs []uint
	for _, stus := range stusByTU {
		for _, stu := range stus {
			stuIDs = append(stuIDs, stu.ID)
		}
	}
	eventsByStu, err := c.store.StopTimeEventsForUpdates(stuIDs)
	if err != nil {
		return nil, err
	}

	var departures []Departure
	for _, e := range ents {
		if e.TripUpdateID == nil {
			continue
		}
		tu, ok := tus[*e.TripUpdateID]
		if !ok || tu.TripID == "" {
			continue
		}
		schedule := schedules[tu.TripID]
		if schedule == nil {
			continue
		}

		for _, stu := range stusByTU[tu.ID] {
			if stu.StopSequence == nil {
				continue
			}
			scheduled, ok := schedule[*stu.StopSequence]
			if !ok {
				continue
			}
			stop, ok := stationStops[scheduled.StopID]
			if !ok {
				continue
			}

			var depEvent *store.StopTimeEvent
			if ev, ok := eventsByStu[stu.ID][store.EventDeparture]; ok {
				depEvent = &ev
			}

			depTime := authoritativeDeparture(snap.FeedTimestamp, scheduled.DepartureTime, depEvent)

			d := Departure{
				Destination:        "Unknown",
				Platform:           stop.PlatformCode,
				ScheduledDeparture: scheduled.DepartureTime,
				StopSequence:       stu.StopSequence,
			}
			if depTime != nil {
				mins := int(math.Round(depTime.Sub(snap.FeedTimestamp).Minutes()))
				d.Minutes = &mins
				d.DepartureTime = depTime
			}
			if depEvent != nil && depEvent.Delay != nil {
				d.Delay = *depEvent.Delay
			}
			if t, ok := staticTrips[tu.TripID]; ok && t.TripHeadsign != nil {
				d.Destination = *t.TripHeadsign
			}
			if vd, ok := vehicleDescs[tu.VehicleID]; ok {
				d.VehicleLabel = vd.Label
			}

			routeID := ""
			if desc, ok := tripDescs[tu.TripID]; ok && desc.RouteID != nil {
				routeID = *desc.RouteID
			} else if t, ok := staticTrips[tu.TripID]; ok {
				routeID = t.RouteID
			}
			if r, ok := routes[routeID]; ok {
				d.Route = &RouteSummary{
					RouteID:   r.RouteID,
					RouteName: r.RouteShortName,
					Color:     r.RouteColor,
					TextColor: r.RouteTextColor,
				}
			}

			departures = append(departures, d)
		}
	}
	return departures, nil
}

// authoritativeDeparture picks the departure instant per precedence: an
// absolute event time wins; else a scheduled time-of-day on the feed
// timestamp's calendar date shifted by the reported delay; else unknown.
func authoritativeDeparture(feedTS time.Time, scheduledHHMMSS *string, ev *store.StopTimeEvent) *time.Time {
	if ev != nil && ev.Time != nil {
		return ev.Time
	}
	if scheduledHHMMSS == nil || ev == nil || ev.Delay == nil {
		return nil
	}

	var h, m, s int
	if _, err := fmt.Sscanf(*scheduledHHMMSS, "%d:%d:%d", &h, &m, &s); err != nil {
		return nil
	}
	y, mo, day := feedTS.Date()
	t := time.Date(y, mo, day, h, m, s, 0, feedTS.Location()).
		Add(time.Duration(*ev.Delay) * time.Second)
	return &t
}

// sortDepartures orders ascending by minutes with unknown times last,
// preserving scan order among equals.
func sortDepartures(ds []Departure) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i].Minutes, ds[j].Minutes
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}

// platformCodes returns the distinct platform codes across the stops, numeric
// codes first in numeric order, then the rest lexicographically.
func platformCodes(stops []store.Stop) []string {
	seen := map[string]bool{}
	var codes []string
	for _, s := range stops {
		if s.PlatformCode == nil || *s.PlatformCode == "" || seen[*s.PlatformCode] {
			continue
		}
		seen[*s.PlatformCode] = true
		codes = append(codes, *s.PlatformCode)
	}

	sort.Slice(codes, func(i, j int) bool {
		ni, errI := strconv.Atoi(codes[i])
		nj, errJ := strconv.Atoi(codes[j])
		switch {
		case errI == nil && errJ == nil:
			return ni < nj
		case errI == nil:
			return true
		case errJ == nil:
			return false
		default:
			return codes[i] < codes[j]
		}
	})
	return codes
}
