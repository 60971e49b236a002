package event

import (
	"errors"
	"fmt"
)

// ErrVersionConflict indicates an append raced with another writer of the same aggregate.
var ErrVersionConflict = errors.New("version conflict")

// VersionConflictError reports the expected and supplied versions of a rejected append.
type VersionConflictError struct {
	AggregateType AggregateType
	AggregateID   string
	// Current is the last recorded version for the aggregate.
	Current int64
	// Supplied is the version the caller tried to append.
	Supplied int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s %s/%s: supplied version %d, expected %d",
		ErrVersionConflict, e.AggregateType, e.AggregateID, e.Supplied, e.Current+1)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }
