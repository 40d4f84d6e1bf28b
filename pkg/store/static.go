package store

// Static schedule tables, loaded by cmd/loadgtfs and read-only to the
// realtime pipeline. Column shapes (text lat/lon, HH:MM:SS times) are the
// durable contract shared with external migration tooling; realtime rows
// join against these by natural id only.

type Route struct {
	ProviderID string `gorm:"primarykey"`
	RouteID    string `gorm:"primarykey"`

	RouteShortName *string
	RouteLongName  *string
	RouteType      int32
	RouteColor     *string
	RouteTextColor *string
	RouteURL       *string
}

type Stop struct {
	ProviderID string `gorm:"primarykey"`
	StopID     string `gorm:"primarykey"`

	StopCode      *string
	StopName      string
	StopLat       *string
	StopLon       *string
	ZoneID        *string `gorm:"index:idx_stops_provider_zone,priority:2"`
	ParentStation *string
	PlatformCode  *string
}

type Trip struct {
	ProviderID string `gorm:"primarykey"`
	TripID     string `gorm:"primarykey"`

	RouteID      string `gorm:"index"`
	ServiceID    string
	TripHeadsign *string
	DirectionID  *uint32
	BlockID      *string
	ShapeID      *string
}

type ScheduledStopTime struct {
	ID uint `gorm:"primarykey"`

	ProviderID   string `gorm:"index:idx_stop_times_provider_trip,priority:1"`
	TripID       string `gorm:"index:idx_stop_times_provider_trip,priority:2"`
	StopID       string `gorm:"index"`
	StopSequence uint32

	ArrivalTime   *string // HH:MM:SS
	DepartureTime *string // HH:MM:SS
	StopHeadsign  *string
}

type Calendar struct {
	ProviderID string `gorm:"primarykey"`
	ServiceID  string `gorm:"primarykey"`

	Monday    bool
	Tuesday   bool
	Wednesday bool
	Thursday  bool
	Friday    bool
	Saturday  bool
	Sunday    bool
	StartDate string // YYYYMMDD
	EndDate   string
}
