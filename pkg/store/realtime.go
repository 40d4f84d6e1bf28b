package store

import (
	"fmt"
	"time"
)

// Batched lookups over snapshot-scoped realtime rows. One query per table per
// snapshot; callers fan results back out in memory.

// EntitiesForSnapshot returns the snapshot's entities of the given kind, in
// insertion order.
func (s *Store) EntitiesForSnapshot(snapshotID uint, kind string) ([]Entity, error) {
	var ents []Entity
	err := s.DB.Where("snapshot_id = ? AND kind = ?", snapshotID, kind).
		Order("entity_id").
		Find(&ents).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query entities for snapshot %d: %w", snapshotID, err)
	}
	return ents, nil
}

// TripUpdatesByIDs returns trip update rows keyed by row id.
func (s *Store) TripUpdatesByIDs(ids []uint) (map[uint]TripUpdate, error) {
	out := make(map[uint]TripUpdate, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []TripUpdate
	if err := s.DB.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query trip updates: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// VehiclePositionsByIDs returns vehicle position rows keyed by row id.
func (s *Store) VehiclePositionsByIDs(ids []uint) (map[uint]VehiclePosition, error) {
	out := make(map[uint]VehiclePosition, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []VehiclePosition
	if err := s.DB.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query vehicle positions: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// AlertsByIDs returns alert rows keyed by row id.
func (s *Store) AlertsByIDs(ids []uint) (map[uint]Alert, error) {
	out := make(map[uint]Alert, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []Alert
	if err := s.DB.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// StopTimeUpdatesForTripUpdates returns stop time updates grouped by owning
// trip update, each group in id order.
func (s *Store) StopTimeUpdatesForTripUpdates(tripUpdateIDs []uint) (map[uint][]StopTimeUpdate, error) {
	out := make(map[uint][]StopTimeUpdate, len(tripUpdateIDs))
	if len(tripUpdateIDs) == 0 {
		return out, nil
	}

	var rows []StopTimeUpdate
	err := s.DB.Where("trip_update_id IN ?", tripUpdateIDs).Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query stop time updates: %w", err)
	}
	for _, r := range rows {
		out[r.TripUpdateID] = append(out[r.TripUpdateID], r)
	}
	return out, nil
}

// StopTimeEventsForUpdates returns events keyed by stop time update id then
// event type.
func (s *Store) StopTimeEventsForUpdates(stuIDs []uint) (map[uint]map[int]StopTimeEvent, error) {
	out := make(map[uint]map[int]StopTimeEvent, len(stuIDs))
	if len(stuIDs) == 0 {
		return out, nil
	}

	var rows []StopTimeEvent
	if err := s.DB.Where("stop_time_update_id IN ?", stuIDs).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query stop time events: %w", err)
	}
	for _, r := range rows {
		byType := out[r.StopTimeUpdateID]
		if byType == nil {
			byType = make(map[int]StopTimeEvent, 2)
			out[r.StopTimeUpdateID] = byType
		}
		byType[r.Type] = r
	}
	return out, nil
}

// TimeRangesForAlerts returns active periods grouped by owning alert.
func (s *Store) TimeRangesForAlerts(alertIDs []uint) (map[uint][]TimeRange, error) {
	out := make(map[uint][]TimeRange, len(alertIDs))
	if len(alertIDs) == 0 {
		return out, nil
	}

	var rows []TimeRange
	if err := s.DB.Where("alert_id IN ?", alertIDs).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query time ranges: %w", err)
	}
	for _, r := range rows {
		out[r.AlertID] = append(out[r.AlertID], r)
	}
	return out, nil
}

// EntitySelectorsForAlerts returns informed entities grouped by owning alert.
func (s *Store) EntitySelectorsForAlerts(alertIDs []uint) (map[uint][]EntitySelector, error) {
	out := make(map[uint][]EntitySelector, len(alertIDs))
	if len(alertIDs) == 0 {
		return out, nil
	}

	var rows []EntitySelector
	if err := s.DB.Where("alert_id IN ?", alertIDs).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query entity selectors: %w", err)
	}
	for _, r := range rows {
		out[r.AlertID] = append(out[r.AlertID], r)
	}
	return out, nil
}

// SnapshotFilter narrows ListSnapshots. Nil fields are unconstrained.
type SnapshotFilter struct {
	Finished *bool
	From     *time.Time
	To       *time.Time
}

// ListSnapshots returns one page of a provider's snapshots, newest feed
// timestamp first, along with the total matching count.
func (s *Store) ListSnapshots(providerID string, filter SnapshotFilter, limit, offset int) ([]Snapshot, int64, error) {
	q := s.DB.Model(&Snapshot{}).Where("provider_id = ?", providerID)
	if filter.Finished != nil {
		q = q.Where("finished = ?", *filter.Finished)
	}
	if filter.From != nil {
		q = q.Where("feed_timestamp >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("feed_timestamp <= ?", *filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count snapshots: %w", err)
	}

	var snaps []Snapshot
	err := q.Order("feed_timestamp desc").Limit(limit).Offset(offset).Find(&snaps).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query snapshots: %w", err)
	}
	return snaps, total, nil
}

// DeleteStaleUnfinished removes unfinished snapshots older than the cutoff,
// along with any entities they own, and returns how many snapshots went. Rows
// like these exist only after a crash mid-ingest; resolvers already ignore
// them, this just reclaims the space.
func (s *Store) DeleteStaleUnfinished(cutoff time.Time) (int64, error) {
	var stale []Snapshot
	err := s.DB.Where("finished = ? AND created_at < ?", false, cutoff).Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("failed to query stale snapshots: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]uint, 0, len(stale))
	for _, snap := range stale {
		ids = append(ids, snap.ID)
	}

	if err := s.DB.Where("snapshot_id IN ?", ids).Delete(&Entity{}).Error; err != nil {
		return 0, fmt.Errorf("failed to delete stale entities: %w", err)
	}
	res := s.DB.Where("id IN ?", ids).Delete(&Snapshot{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete stale snapshots: %w", res.Error)
	}
	return res.RowsAffected, nil
}
