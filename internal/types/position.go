package types

import (
	"log/slog"
	"time"
)

// PositionEvent is one bus position update as announced by the database
// notify trigger. Only ID is required; every other attribute is optional and
// is nil when the payload did not carry it.
//
// A PositionEvent is delivered by value to every subscriber, but the optional
// fields are pointers shared between the copies, so receivers must treat it
// as read-only.
//
// Wire shape:
//
//	{"id":42,"creationtime":"2024-05-01T10:00:00.000000Z","busId":"492",
//	 "latitude":41.9096,"longitude":12.52975,"nextBusStopId":"2","isBusStop":false}
type PositionEvent struct {
	ID            int64      `json:"id"`
	CreationTime  *time.Time `json:"creationtime,omitempty"`
	BusID         *string    `json:"busId,omitempty"`
	Latitude      *float64   `json:"latitude,omitempty"`
	Longitude     *float64   `json:"longitude,omitempty"`
	NextBusStopID *string    `json:"nextBusStopId,omitempty"`
	IsBusStop     *bool      `json:"isBusStop,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are present.
func (e PositionEvent) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// LogValue renders the identifying fields only.
func (e PositionEvent) LogValue() slog.Value {
	attrs := []slog.Attr{slog.Int64("id", e.ID)}
	if e.BusID != nil {
		attrs = append(attrs, slog.String("bus_id", *e.BusID))
	}
	return slog.GroupValue(attrs...)
}

// Ptr returns a pointer to v. Used to populate optional PositionEvent fields.
func Ptr[T any](v T) *T {
	return &v
}
