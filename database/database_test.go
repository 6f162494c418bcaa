package database

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/siherrmann/grounder/helper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleErrorKeepsHealthyPool(t *testing.T) {
	database := initDB(t)
	ctx := context.Background()

	first, err := database.Conn(ctx)
	require.NoError(t, err)

	err = database.HandleError(ctx, "select", &pq.Error{Code: "57P01", Message: "terminating connection"})
	assert.ErrorIs(t, err, helper.ErrStoreUnavailable)
	assert.Equal(t, helper.StateOpen, database.State(), "Expected the pool to stay open while it answers pings")

	second, err := database.Conn(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	var one int
	require.NoError(t, second.QueryRowContext(ctx, "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}
