package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"dispatch/internal/types"
)

// latestPositionsSQL selects the newest row per bus.
const latestPositionsSQL = `SELECT DISTINCT ON (bus_id)
	id, creationtime, bus_id, latitude, longitude, next_bus_stop_id, is_bus_stop
FROM bus_position
ORDER BY bus_id, creationtime DESC, id DESC`

// LatestPositions returns the most recent stored position of every bus. It is
// used to warm the snapshot before live notifications arrive.
func LatestPositions(ctx context.Context, db DBTX) ([]types.PositionEvent, error) {
	rows, err := db.Query(ctx, latestPositionsSQL)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query latest positions", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.PositionEvent, error) {
		var (
			ev           types.PositionEvent
			creationTime time.Time
			busID        string
			lat, lon     float64
			nextStop     string
			isBusStop    bool
		)
		if err := row.Scan(&ev.ID, &creationTime, &busID, &lat, &lon, &nextStop, &isBusStop); err != nil {
			return types.PositionEvent{}, err
		}
		creationTime = creationTime.UTC()
		ev.CreationTime = &creationTime
		ev.BusID = &busID
		ev.Latitude = &lat
		ev.Longitude = &lon
		ev.NextBusStopID = &nextStop
		ev.IsBusStop = &isBusStop
		return ev, nil
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan latest positions", err)
	}
	return events, nil
}
