package wbh

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so timestamps and temp names are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator produces WatchItem local ids. Ids are process-scoped and
// only need to be unique within one queue document.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
