package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/abschwenker/wps/internal/types"
)

func TestSchemaCascades(t *testing.T) {
	// Retention relies on deleting a model run removing its predictions and
	// polygons.
	assert.Equal(t, 2, strings.Count(schemaSQL, "ON DELETE CASCADE"))
	assert.Contains(t, schemaSQL, "geometry(Polygon, 4269)")
}

func TestApplySchema(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()
	db.On("Exec", ctx, sqlContains("CREATE TABLE IF NOT EXISTS c_haines_polygons"), mock.Anything).
		Return(pgconn.NewCommandTag("CREATE INDEX"), nil).Once()
	for _, args := range [][]any{
		{"Global Deterministic Prediction System", "GDPS", "latlon.15x.15"},
		{"Regional Deterministic Prediction System", "RDPS", "ps10km"},
		{"High Resolution Deterministic Prediction System", "HRDPS", "ps2.5km"},
	} {
		db.On("Exec", ctx, sqlContains("INSERT INTO prediction_models"), args).
			Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	}

	require.NoError(t, ApplySchema(ctx, db))
	db.AssertExpectations(t)
}

func TestApplySchema_Error(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("permission denied to create extension"))

	err := ApplySchema(context.Background(), db)
	assert.True(t, types.HasCode(err, types.ErrCodeInternalDB))
	db.AssertNumberOfCalls(t, "Exec", 1)
}
