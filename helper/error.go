package helper

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/lib/pq"
)

var (
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrNotFound             = errors.New("not found")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrSchemaMismatch       = errors.New("schema mismatch")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrIndexNotReady        = errors.New("index not ready")
	ErrEmbeddingFailed      = errors.New("embedding failed")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)

// errDBClosed is the unexported error of database/sql for calls on a closed pool.
const errDBClosed = "sql: database is closed"

// SQLSTATE codes raised by the embedded SQL functions.
const (
	CodeDimensionMismatch = "GR001"
	CodeIndexNotReady     = "GR002"
	CodeSchemaMismatch    = "GR003"
	CodeInvalidArgument   = "GR004"
	CodeNotFound          = "P0002"
)

// Error adds a reference to the failing step while keeping the cause unwrappable.
type Error struct {
	Reference string
	Original  error
}

// NewError wraps err with the given reference.
func NewError(reference string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Reference: reference, Original: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Reference, e.Original)
}

func (e *Error) Unwrap() error {
	return e.Original
}

// Errorf wraps a formatted message with one of the sentinel kinds above.
func Errorf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// IsKind reports whether err matches any of the given sentinel kinds.
func IsKind(err error, kinds ...error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// ClassifyPostgresError maps driver and network errors onto the sentinel kinds.
// Errors that already carry a kind are returned unchanged.
func ClassifyPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if IsKind(err, ErrStoreUnavailable, ErrNotFound, ErrInvalidArgument, ErrSchemaMismatch,
		ErrDimensionMismatch, ErrIndexNotReady, ErrEmbeddingFailed, ErrRetrievalUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == CodeDimensionMismatch:
			return fmt.Errorf("%w: %s", ErrDimensionMismatch, pqErr.Message)
		case code == CodeIndexNotReady:
			return fmt.Errorf("%w: %s", ErrIndexNotReady, pqErr.Message)
		case code == CodeSchemaMismatch:
			return fmt.Errorf("%w: %s", ErrSchemaMismatch, pqErr.Message)
		case code == CodeInvalidArgument:
			return fmt.Errorf("%w: %s", ErrInvalidArgument, pqErr.Message)
		case code == CodeNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, pqErr.Message)
		case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"), code == "53300":
			// connection exception, operator intervention, too many connections
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		strings.Contains(err.Error(), errDBClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return err
}
