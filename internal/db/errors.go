package db

import "errors"

// Sentinel errors for database operations.
var (
	ErrKeyNotFound = errors.New("db: key not found")
	ErrClosed      = errors.New("db: store closed")
)

// Op constants name the backend operation for error context.
const (
	OpCount  = "COUNT"
	OpScan   = "SCAN"
	OpWrite  = "WRITE"
	OpFetch  = "FETCH"
	OpDelete = "DELETE"
	OpInit   = "INIT"
	OpPing   = "PING"

	OpDel     = "DEL"
	OpHGetAll = "HGETALL"
	OpHSet    = "HSET"
	OpHLen    = "HLEN"
	OpGet     = "GET"
	OpSet     = "SET"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
