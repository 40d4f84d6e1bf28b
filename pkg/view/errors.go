package view

import "errors"

var (
	// ErrNotFound is returned when no snapshot satisfies a resolver lookup.
	ErrNotFound = errors.New("snapshot not found")

	// ErrProviderMismatch is returned when a snapshot fetched by id belongs
	// to a different provider than the caller asked about.
	ErrProviderMismatch = errors.New("snapshot belongs to a different provider")

	// ErrStationNotFound is returned when no static stop matches a station
	// code (and platform, when given).
	ErrStationNotFound = errors.New("station not found")
)
