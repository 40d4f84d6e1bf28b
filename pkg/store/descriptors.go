package store

import (
	"fmt"
)

// Batched lookups over the shared descriptor tables. Projections and the
// departure compositor join these by natural key, never by owning-row
// pointer.

// TripDescriptorsByIDs returns descriptors keyed by trip id.
func (s *Store) TripDescriptorsByIDs(providerID string, ids []string) (map[string]TripDescriptor, error) {
	out := make(map[string]TripDescriptor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []TripDescriptor
	err := s.DB.Where("provider_id = ? AND trip_id IN ?", providerID, ids).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query trip descriptors: %w", err)
	}
	for _, d := range rows {
		out[d.TripID] = d
	}
	return out, nil
}

// VehicleDescriptorsByIDs returns descriptors keyed by vehicle id.
func (s *Store) VehicleDescriptorsByIDs(providerID string, ids []string) (map[string]VehicleDescriptor, error) {
	out := make(map[string]VehicleDescriptor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []VehicleDescriptor
	err := s.DB.Where("provider_id = ? AND vehicle_id IN ?", providerID, ids).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle descriptors: %w", err)
	}
	for _, d := range rows {
		out[d.VehicleID] = d
	}
	return out, nil
}

// PositionsByEntityIDs returns positions keyed by owning entity id.
func (s *Store) PositionsByEntityIDs(providerID string, ids []string) (map[string]Position, error) {
	out := make(map[string]Position, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []Position
	err := s.DB.Where("provider_id = ? AND entity_id IN ?", providerID, ids).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	for _, p := range rows {
		out[p.EntityID] = p
	}
	return out, nil
}
