package feed

import (
	"errors"
	"fmt"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// ErrDecode marks failures at the protobuf boundary, distinguishable from
// normalization failures downstream.
var ErrDecode = errors.New("failed to decode feed message")

// Decode parses raw GTFS-Realtime protobuf bytes into a FeedMessage.
func Decode(b []byte) (*gtfsrt.FeedMessage, error) {
	var fm gtfsrt.FeedMessage
	if err := proto.Unmarshal(b, &fm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &fm, nil
}
