package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dispatch/internal/types"
)

const (
	positionTable   = "bus_position"
	triggerName     = "notify_bus_position"
	triggerFunction = "notify_bus_position_event"
)

const positionTableExistsSQL = `SELECT to_regclass('public.bus_position') IS NOT NULL`

// notifyFunctionSQL publishes each inserted row as a JSON object whose keys
// match the relay decoder. creationtime is rendered as UTC with microseconds.
const notifyFunctionSQL = `CREATE OR REPLACE FUNCTION notify_bus_position_event() RETURNS TRIGGER AS
$$
BEGIN
	PERFORM pg_notify(%s, json_build_object(
		'id', NEW.id,
		'creationtime', to_char(NEW.creationtime, 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"'),
		'busId', NEW.bus_id,
		'latitude', NEW.latitude,
		'longitude', NEW.longitude,
		'nextBusStopId', NEW.next_bus_stop_id,
		'isBusStop', NEW.is_bus_stop
	)::text);
	RETURN NULL;
END;
$$
LANGUAGE plpgsql`

const dropTriggerSQL = `DROP TRIGGER IF EXISTS notify_bus_position ON bus_position`

const createTriggerSQL = `CREATE TRIGGER notify_bus_position
	AFTER INSERT ON bus_position
	FOR EACH ROW
	EXECUTE FUNCTION notify_bus_position_event()`

// quoteLiteral renders s as a SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// InstallNotifyTrigger (re)creates the notify function and the AFTER INSERT
// trigger on bus_position in one transaction, publishing on channel. It
// reports false without changing anything when the table does not exist yet.
func InstallNotifyTrigger(ctx context.Context, db TxBeginner, channel string, logger *slog.Logger) (bool, error) {
	if channel == "" {
		channel = DefaultChannel
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to begin trigger install", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, positionTableExistsSQL).Scan(&exists); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to look up position table", err)
	}
	if !exists {
		logger.Warn("position table missing, notify trigger not installed", "table", positionTable)
		return false, nil
	}

	steps := []struct {
		name string
		sql  string
	}{
		{name: "create function " + triggerFunction, sql: fmt.Sprintf(notifyFunctionSQL, quoteLiteral(channel))},
		{name: "drop trigger " + triggerName, sql: dropTriggerSQL},
		{name: "create trigger " + triggerName, sql: createTriggerSQL},
	}
	for _, step := range steps {
		if _, err := tx.Exec(ctx, step.sql); err != nil {
			return false, types.NewAppError(types.ErrCodeInternalDB, "failed to "+step.name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to commit trigger install", err)
	}

	logger.Info("notify trigger installed", "table", positionTable, "trigger", triggerName, "channel", channel)
	return true, nil
}
