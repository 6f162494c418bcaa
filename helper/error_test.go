package helper

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestNewError(t *testing.T) {
	t.Run("Wraps with reference", func(t *testing.T) {
		err := NewError("scan", sql.ErrNoRows)
		assert.EqualError(t, err, "scan: sql: no rows in result set")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})

	t.Run("Nil stays nil", func(t *testing.T) {
		assert.NoError(t, NewError("scan", nil))
	})

	t.Run("Nested references keep the sentinel", func(t *testing.T) {
		err := NewError("retrieve", NewError("expand", Errorf(ErrInvalidArgument, "hops %d", 0)))
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Contains(t, err.Error(), "retrieve: expand: invalid argument: hops 0")
	})
}

func TestClassifyPostgresError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"bad conn", driver.ErrBadConn, ErrStoreUnavailable},
		{"conn done", fmt.Errorf("exec: %w", sql.ErrConnDone), ErrStoreUnavailable},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), ErrStoreUnavailable},
		{"closed pool", fmt.Errorf("query: %w", errors.New("sql: database is closed")), ErrStoreUnavailable},
		{"connection exception", &pq.Error{Code: "08006", Message: "connection failure"}, ErrStoreUnavailable},
		{"admin shutdown", &pq.Error{Code: "57P01", Message: "terminating connection"}, ErrStoreUnavailable},
		{"dimension mismatch", &pq.Error{Code: CodeDimensionMismatch, Message: "expected 3"}, ErrDimensionMismatch},
		{"index not ready", &pq.Error{Code: CodeIndexNotReady, Message: "no index"}, ErrIndexNotReady},
		{"schema mismatch", &pq.Error{Code: CodeSchemaMismatch, Message: "query has 2"}, ErrSchemaMismatch},
		{"invalid argument", &pq.Error{Code: CodeInvalidArgument, Message: "bad name"}, ErrInvalidArgument},
		{"not found", &pq.Error{Code: CodeNotFound, Message: "entity missing"}, ErrNotFound},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.ErrorIs(t, ClassifyPostgresError(test.err), test.want)
		})
	}

	t.Run("Unknown errors pass through", func(t *testing.T) {
		original := &pq.Error{Code: "42601", Message: "syntax error"}
		err := ClassifyPostgresError(original)
		assert.Same(t, original, err)
	})

	t.Run("Classified errors are not wrapped twice", func(t *testing.T) {
		original := Errorf(ErrNotFound, "entity %q", "A")
		assert.Same(t, original, ClassifyPostgresError(original))
	})

	t.Run("Context errors pass through", func(t *testing.T) {
		err := ClassifyPostgresError(context.Canceled)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.False(t, IsKind(err, ErrStoreUnavailable))
	})
}
