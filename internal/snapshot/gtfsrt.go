package snapshot

import (
	"strconv"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"dispatch/internal/types"
)

const gtfsRealtimeVersion = "2.0"

// FeedMessage renders the snapshot as a full-dataset GTFS-Realtime feed with
// one VehiclePosition entity per bus. Buses without coordinates are skipped.
func (t *Tracker) FeedMessage(now time.Time) *gtfs.FeedMessage {
	latest := t.Latest()

	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: make([]*gtfs.FeedEntity, 0, len(latest)),
	}

	for _, ev := range latest {
		if !ev.HasCoordinates() {
			continue
		}
		feed.Entity = append(feed.Entity, vehicleEntity(ev))
	}
	return feed
}

// MarshalFeed encodes FeedMessage(now) in protobuf wire format.
func (t *Tracker) MarshalFeed(now time.Time) ([]byte, error) {
	return proto.Marshal(t.FeedMessage(now))
}

func vehicleEntity(ev types.PositionEvent) *gtfs.FeedEntity {
	vp := &gtfs.VehiclePosition{
		Vehicle: &gtfs.VehicleDescriptor{
			Id: proto.String(*ev.BusID),
		},
		Position: &gtfs.Position{
			Latitude:  proto.Float32(float32(*ev.Latitude)),
			Longitude: proto.Float32(float32(*ev.Longitude)),
		},
	}

	if ev.NextBusStopID != nil {
		vp.StopId = proto.String(*ev.NextBusStopID)
		status := gtfs.VehiclePosition_IN_TRANSIT_TO
		if ev.IsBusStop != nil && *ev.IsBusStop {
			status = gtfs.VehiclePosition_STOPPED_AT
		}
		vp.CurrentStatus = status.Enum()
	}
	if ev.CreationTime != nil {
		vp.Timestamp = proto.Uint64(uint64(ev.CreationTime.Unix()))
	}

	return &gtfs.FeedEntity{
		Id:      proto.String(strconv.FormatInt(ev.ID, 10)),
		Vehicle: vp,
	}
}
