package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownBackend signals a backend kind with no registered adapter.
	ErrUnknownBackend = errors.New("unknown backend kind")
	// ErrInvalidOptions signals migration options that cannot be clamped into range.
	ErrInvalidOptions = errors.New("invalid migration options")
	// ErrPreserveIDsUnsupported signals a target that assigns its own ids while the caller asked to keep them.
	ErrPreserveIDsUnsupported = errors.New("target cannot preserve source ids")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidVector signals an empty vector or one with non-finite components.
	ErrInvalidVector = errors.New("invalid vector")
	// ErrCheckpointNotFound signals that no checkpoint exists for a run key.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrMappingLost signals a checkpoint whose recorded id pairs cannot be reloaded.
	ErrMappingLost = errors.New("id mapping of checkpoint cannot be restored")
	// ErrCancelled signals a run stopped by its caller.
	ErrCancelled = errors.New("migration cancelled")
	// ErrTargetUnreachable signals a target that failed its readiness ping.
	ErrTargetUnreachable = errors.New("target unreachable")
)

// DimMismatchError wraps ErrVectorDimMismatch with the observed and expected sizes.
type DimMismatchError struct {
	Got  int
	Want int
}

func (e *DimMismatchError) Error() string {
	return fmt.Sprintf("%s: got %d, want %d", ErrVectorDimMismatch.Error(), e.Got, e.Want)
}

func (e *DimMismatchError) Unwrap() error { return ErrVectorDimMismatch }

// NewDimMismatch creates a dimension mismatch error.
func NewDimMismatch(got, want int) error {
	return &DimMismatchError{Got: got, Want: want}
}
