package ingest

import (
	"fmt"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"github.com/opentransit/gtfsrt.tools/pkg/store"
)

// payload is the tagged union of a feed entity's variants: exactly one of
// tripUpdate, vehiclePosition or alert is non-nil, consistent with kind. A
// bare deletion marker (is_deleted with no variant) carries none and kind
// Unknown. Construct only through classify.
type payload struct {
	entityID  string
	isDeleted bool
	kind      string

	tripUpdate      *gtfsrt.TripUpdate
	vehiclePosition *gtfsrt.VehiclePosition
	alert           *gtfsrt.Alert
}

func classify(e *gtfsrt.FeedEntity) (payload, error) {
	p := payload{
		entityID:  e.GetId(),
		isDeleted: e.GetIsDeleted(),
		kind:      store.KindUnknown,
	}

	set := 0
	if e.GetTripUpdate() != nil {
		set++
		p.kind = store.KindTripUpdate
		p.tripUpdate = e.GetTripUpdate()
	}
	if e.GetVehicle() != nil {
		set++
		p.kind = store.KindVehiclePosition
		p.vehiclePosition = e.GetVehicle()
	}
	if e.GetAlert() != nil {
		set++
		p.kind = store.KindAlert
		p.alert = e.GetAlert()
	}

	if set > 1 {
		return payload{}, fmt.Errorf("entity %q carries %d payload variants, want at most one", e.GetId(), set)
	}
	return p, nil
}
