package feed

import (
	"testing"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func TestDecodeRoundTrip(t *testing.T) {
	fm := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(1700000000),
		},
		Entity: []*gtfsrt.FeedEntity{
			{Id: proto.String("e1"), TripUpdate: &gtfsrt.TripUpdate{}},
		},
	}
	b, err := proto.Marshal(fm)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "2.0", got.GetHeader().GetGtfsRealtimeVersion())
	assert.Equal(t, uint64(1700000000), got.GetHeader().GetTimestamp())
	require.Len(t, got.GetEntity(), 1)
	assert.Equal(t, "e1", got.GetEntity()[0].GetId())
}

func TestDecodeGarbageIsDecodeError(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff, 0xff, 0x01, 0x02})
	require.ErrorIs(t, err, ErrDecode)
}
