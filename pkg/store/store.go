package store

import (
	"fmt"
	"sync/atomic"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	slogGorm "github.com/orandin/slog-gorm"
)

// Store wraps the sqlite database holding realtime snapshots and the static
// schedule.
type Store struct {
	DB *gorm.DB
}

// Open opens (and optionally migrates) the sqlite database at path. The
// TranslateError option is load-bearing: the normalizer relies on
// gorm.ErrDuplicatedKey to detect a replayed snapshot.
func Open(path string, migrate bool) (*Store, error) {
	gormLogger := slogGorm.New()

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	// Set pragmas for performance
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=normal;")

	if migrate {
		err = db.AutoMigrate(
			&Provider{},
			&Snapshot{},
			&Entity{},
			&TripUpdate{},
			&VehiclePosition{},
			&Alert{},
			&TripDescriptor{},
			&VehicleDescriptor{},
			&Position{},
			&StopTimeUpdate{},
			&StopTimeEvent{},
			&TimeRange{},
			&EntitySelector{},
			&Route{},
			&Stop{},
			&Trip{},
			&ScheduledStopTime{},
			&Calendar{},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return &Store{DB: db}, nil
}

var memoryDBSeq atomic.Int64

// OpenMemory opens a fresh, isolated in-memory store, used by tests.
func OpenMemory() (*Store, error) {
	name := fmt.Sprintf("file:mem%d?mode=memory&cache=shared", memoryDBSeq.Add(1))
	return Open(name, true)
}

// EnsureProvider registers a provider row if it is not already present.
func (s *Store) EnsureProvider(id, name string) error {
	err := s.DB.Where(&Provider{ID: id}).
		Attrs(Provider{ID: id, Name: name}).
		FirstOrCreate(&Provider{}).Error
	if err != nil {
		return fmt.Errorf("failed to ensure provider %q: %w", id, err)
	}
	return nil
}
