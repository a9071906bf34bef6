package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dispatch/internal/types"
)

func TestLatestPositions_Success(t *testing.T) {
	db := new(mockDBTX)
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	rows := newMockRows([][]any{
		{int64(11), ts, "B-1", 52.5, 13.4, "S-2", false},
		{int64(14), ts.Add(time.Second), "B-2", 52.6, 13.5, "S-7", true},
	})
	db.On("Query", mock.Anything, latestPositionsSQL, mock.Anything).Return(rows, nil)

	got, err := LatestPositions(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(11), got[0].ID)
	assert.Equal(t, "B-1", *got[0].BusID)
	assert.Equal(t, ts, *got[0].CreationTime)
	assert.Equal(t, "S-7", *got[1].NextBusStopID)
	assert.True(t, *got[1].IsBusStop)
	assert.True(t, rows.closed)
	db.AssertExpectations(t)
}

func TestLatestPositions_QueryError(t *testing.T) {
	db := new(mockDBTX)
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("relation does not exist"))

	_, err := LatestPositions(context.Background(), db)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestLatestPositions_ScanError(t *testing.T) {
	db := new(mockDBTX)
	rows := newMockRows([][]any{{int64(1)}})
	rows.scanErr = errors.New("cannot scan NULL")
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(rows, nil)

	_, err := LatestPositions(context.Background(), db)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}
