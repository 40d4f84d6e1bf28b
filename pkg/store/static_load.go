package store

import (
	"fmt"

	"gorm.io/gorm"
)

const batchSize = 100

// ReplaceStatic swaps out one provider's entire static schedule in a single
// transaction. Readers see either the old timetable or the new one, never a
// mix.
func (s *Store) ReplaceStatic(
	providerID string,
	routes []Route,
	stops []Stop,
	trips []Trip,
	stopTimes []ScheduledStopTime,
	calendars []Calendar,
) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&Route{}, &Stop{}, &Trip{}, &ScheduledStopTime{}, &Calendar{}} {
			if err := tx.Where("provider_id = ?", providerID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to clear static rows: %w", err)
			}
		}

		if len(routes) > 0 {
			if err := tx.CreateInBatches(routes, batchSize).Error; err != nil {
				return fmt.Errorf("failed to create routes: %w", err)
			}
		}
		if len(stops) > 0 {
			if err := tx.CreateInBatches(stops, batchSize).Error; err != nil {
				return fmt.Errorf("failed to create stops: %w", err)
			}
		}
		if len(trips) > 0 {
			if err := tx.CreateInBatches(trips, batchSize).Error; err != nil {
				return fmt.Errorf("failed to create trips: %w", err)
			}
		}
		if len(stopTimes) > 0 {
			if err := tx.CreateInBatches(stopTimes, batchSize).Error; err != nil {
				return fmt.Errorf("failed to create stop times: %w", err)
			}
		}
		if len(calendars) > 0 {
			if err := tx.CreateInBatches(calendars, batchSize).Error; err != nil {
				return fmt.Errorf("failed to create calendars: %w", err)
			}
		}
		return nil
	})
}
