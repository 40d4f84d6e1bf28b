package view

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/opentransit/gtfsrt.tools/pkg/store"
)

// DefaultWindow bounds how far a closest-snapshot lookup may stray from the
// requested instant.
const DefaultWindow = time.Minute

// Resolver maps instants and ids onto snapshots. Lookups that pick a snapshot
// by time only ever consider finished rows; a crash mid-ingest leaves an
// unfinished row that is invisible here until the sweeper reclaims it.
type Resolver struct {
	store *store.Store
}

func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

// Closest returns the finished snapshot whose feed timestamp is nearest to at,
// within at most window on either side. Ties break toward the later timestamp.
func (r *Resolver) Closest(providerID string, at time.Time, window time.Duration) (store.Snapshot, error) {
	var candidates []store.Snapshot
	err := r.store.DB.
		Where("provider_id = ? AND finished = ? AND feed_timestamp BETWEEN ? AND ?",
			providerID, true, at.Add(-window), at.Add(window)).
		Order("feed_timestamp desc").
		Find(&candidates).Error
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("failed to query snapshot candidates: %w", err)
	}
	if len(candidates) == 0 {
		return store.Snapshot{}, ErrNotFound
	}

	// Candidates come later-first, so a strict comparison keeps the later of
	// two equally distant timestamps.
	closest := candidates[0]
	minDiff := absDuration(at.Sub(closest.FeedTimestamp))
	for _, c := range candidates[1:] {
		if d := absDuration(at.Sub(c.FeedTimestamp)); d < minDiff {
			minDiff = d
			closest = c
		}
	}
	return closest, nil
}

// LatestFinished returns the provider's finished snapshot with the greatest
// feed timestamp.
func (r *Resolver) LatestFinished(providerID string) (store.Snapshot, error) {
	var snap store.Snapshot
	err := r.store.DB.
		Where("provider_id = ? AND finished = ?", providerID, true).
		Order("feed_timestamp desc").
		First(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.Snapshot{}, ErrNotFound
		}
		return store.Snapshot{}, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	return snap, nil
}

// ByID returns the snapshot with the given id, finished or not, after
// checking it belongs to the expected provider.
func (r *Resolver) ByID(id uint, providerID string) (store.Snapshot, error) {
	var snap store.Snapshot
	err := r.store.DB.First(&snap, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.Snapshot{}, ErrNotFound
		}
		return store.Snapshot{}, fmt.Errorf("failed to query snapshot %d: %w", id, err)
	}
	if snap.ProviderID != providerID {
		return store.Snapshot{}, ErrProviderMismatch
	}
	return snap, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
