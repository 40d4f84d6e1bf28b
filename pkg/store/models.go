package store

import (
	"time"
)

// Entity kinds, stored on the Entity row's Kind column.
const (
	KindTripUpdate      = "TRIP_UPDATE"
	KindVehiclePosition = "VEHICLE_POSITION"
	KindAlert           = "ALERT"
	KindUnknown         = "UNKNOWN"
)

// StopTimeEvent types.
const (
	EventArrival   = 0
	EventDeparture = 1
)

// Incrementality modes from the feed header.
const (
	IncrementalityFullDataset  = 0
	IncrementalityDifferential = 1
)

type Provider struct {
	ID   string `gorm:"primarykey"`
	Name string
}

// Snapshot is one row per successful feed poll per provider. At most one
// snapshot may exist per (provider, feed timestamp); concurrent duplicate
// ingests race to a single winner on the unique index.
type Snapshot struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time

	ProviderID          string    `gorm:"index;uniqueIndex:idx_snapshots_provider_feed_ts"`
	FeedTimestamp       time.Time `gorm:"index;uniqueIndex:idx_snapshots_provider_feed_ts"`
	GTFSRealtimeVersion string
	Incrementality      int32
	FeedVersion         *string
	FeedType            string `gorm:"index"`
	EntityCount         int

	// Finished flips to true exactly once, as the last write of the
	// normalizer's transaction. Resolvers never return unfinished rows.
	Finished bool `gorm:"index:idx_snapshots_provider_finished,priority:2"`
}

// Entity is one feed entity within a snapshot. Exactly one of the three typed
// references is non-nil, consistent with Kind; a bare deletion marker has
// none and Kind Unknown.
type Entity struct {
	SnapshotID uint   `gorm:"primarykey;autoIncrement:false"`
	EntityID   string `gorm:"primarykey"`
	IsDeleted  bool
	Kind       string

	TripUpdateID      *uint
	VehiclePositionID *uint
	AlertID           *uint
}

type TripUpdate struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time

	ProviderID string `gorm:"index"`
	EntityID   string

	// Natural keys into the shared descriptor tables.
	TripID    string `gorm:"index"`
	VehicleID string

	Timestamp *time.Time
	Delay     *int32
}

type VehiclePosition struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time

	ProviderID string `gorm:"index"`
	EntityID   string

	TripID    string
	VehicleID string

	CurrentStopSequence *uint32
	StopID              *string
	CurrentStatus       int32
	Timestamp           *time.Time
	CongestionLevel     int32
	OccupancyStatus     int32
	OccupancyPercentage *uint32
}

// Alert holds the kind-specific scalars plus localized text blobs, stored as
// JSON-encoded TranslatedStrings the way the feed carries them.
type Alert struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time

	ProviderID string `gorm:"index"`
	EntityID   string

	Cause         int32
	Effect        int32
	SeverityLevel int32

	URL                *string
	HeaderText         *string
	DescriptionText    *string
	TTSHeaderText      *string
	TTSDescriptionText *string
}

// TripDescriptor is shared by reference across trip updates and vehicle
// positions, keyed by natural id and upserted insert-if-absent.
type TripDescriptor struct {
	ProviderID string `gorm:"primarykey"`
	TripID     string `gorm:"primarykey"`

	RouteID              *string `gorm:"index"`
	DirectionID          *uint32
	ScheduleRelationship int32
	StartDate            *string
	StartTime            *string
}

type VehicleDescriptor struct {
	ProviderID string `gorm:"primarykey"`
	VehicleID  string `gorm:"primarykey"`

	Label        *string
	LicensePlate *string
}

// Position is keyed by the owning entity's id rather than an owning-row
// pointer so vehicle positions across snapshots share one row. Coordinates
// stay text to preserve feed precision.
type Position struct {
	ProviderID string `gorm:"primarykey"`
	EntityID   string `gorm:"primarykey"`

	Latitude  *string
	Longitude *string
	Bearing   *int32
	Odometer  *string
	Speed     *string
}

type StopTimeUpdate struct {
	ID           uint `gorm:"primarykey"`
	TripUpdateID uint `gorm:"index"`

	StopSequence         *uint32
	StopID               *string
	ScheduleRelationship int32
}

type StopTimeEvent struct {
	StopTimeUpdateID uint `gorm:"primarykey;autoIncrement:false"`
	Type             int  `gorm:"primarykey"`

	Delay       *int32
	Time        *time.Time
	Uncertainty *int32
}

type TimeRange struct {
	ID      uint `gorm:"primarykey"`
	AlertID uint `gorm:"index"`

	Start *time.Time
	End   *time.Time
}

type EntitySelector struct {
	ID      uint `gorm:"primarykey"`
	AlertID uint `gorm:"index"`

	AgencyID    *string
	RouteID     *string
	RouteType   *int32
	TripID      *string
	DirectionID *uint32
	StopID      *string
}
