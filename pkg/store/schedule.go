package store

import (
	"fmt"
)

// Read-only schedule lookups. Everything is keyed by (provider, natural id)
// and fetched in batches so callers stay linear in snapshot entity count.

// StopsInZone returns the static stops matching (provider, zone) and, when
// platform is non-nil, also the platform code.
func (s *Store) StopsInZone(providerID, zoneID string, platform *string) ([]Stop, error) {
	q := s.DB.Where("provider_id = ? AND zone_id = ?", providerID, zoneID)
	if platform != nil {
		q = q.Where("platform_code = ?", *platform)
	}

	var stops []Stop
	if err := q.Find(&stops).Error; err != nil {
		return nil, fmt.Errorf("failed to query stops for zone %q: %w", zoneID, err)
	}
	return stops, nil
}

// StopsByIDs returns the stops for the given natural ids, keyed by stop id.
func (s *Store) StopsByIDs(providerID string, ids []string) (map[string]Stop, error) {
	out := make(map[string]Stop, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var stops []Stop
	err := s.DB.Where("provider_id = ? AND stop_id IN ?", providerID, ids).Find(&stops).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	for _, st := range stops {
		out[st.StopID] = st
	}
	return out, nil
}

// TripsByIDs returns the static trips for the given natural ids, keyed by
// trip id.
func (s *Store) TripsByIDs(providerID string, ids []string) (map[string]Trip, error) {
	out := make(map[string]Trip, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var trips []Trip
	err := s.DB.Where("provider_id = ? AND trip_id IN ?", providerID, ids).Find(&trips).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	for _, t := range trips {
		out[t.TripID] = t
	}
	return out, nil
}

// RoutesByIDs returns the routes for the given natural ids, keyed by route id.
func (s *Store) RoutesByIDs(providerID string, ids []string) (map[string]Route, error) {
	out := make(map[string]Route, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var routes []Route
	err := s.DB.Where("provider_id = ? AND route_id IN ?", providerID, ids).Find(&routes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	for _, r := range routes {
		out[r.RouteID] = r
	}
	return out, nil
}

// StopTimesForTrips returns the scheduled stop times for the given trips,
// keyed by trip id then stop sequence.
func (s *Store) StopTimesForTrips(providerID string, tripIDs []string) (map[string]map[uint32]ScheduledStopTime, error) {
	out := make(map[string]map[uint32]ScheduledStopTime, len(tripIDs))
	if len(tripIDs) == 0 {
		return out, nil
	}

	var rows []ScheduledStopTime
	err := s.DB.Where("provider_id = ? AND trip_id IN ?", providerID, tripIDs).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled stop times: %w", err)
	}
	for _, st := range rows {
		bySeq := out[st.TripID]
		if bySeq == nil {
			bySeq = make(map[uint32]ScheduledStopTime)
			out[st.TripID] = bySeq
		}
		bySeq[st.StopSequence] = st
	}
	return out, nil
}
