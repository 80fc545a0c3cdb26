package otp

import (
	"context"
	"time"
)

// Mutation describes what Store.Attempt writes back after the callback.
type Mutation struct {
	// IncrementAttempts adds one to the attempt counter.
	IncrementAttempts bool

	// Consume marks the code used and retires every other outstanding code
	// for the same phone+purpose.
	Consume bool

	// At is the timestamp recorded for updated_at and consumed_at.
	At time.Time
}

// Store persists code records.
type Store interface {
	// Create inserts a new record.
	Create(ctx context.Context, c Code) error

	// CountOutstanding counts unconsumed, unexpired codes for phone+purpose created at or after since.
	// oldest is the created_at of the oldest counted record (zero when n == 0).
	CountOutstanding(ctx context.Context, phone string, purpose Purpose, since, now time.Time) (n int, oldest time.Time, err error)

	// Attempt locks the newest unconsumed record for phone+purpose, passes a copy
	// to fn and applies the returned Mutation before releasing the lock.
	// The mutation is written even when fn returns an error; that error is then
	// returned after the write. ErrNotFound is returned when no record exists.
	Attempt(ctx context.Context, phone string, purpose Purpose, fn func(Code) (Mutation, error)) (Code, error)

	// SetDispatchStatus records delivery progress. Missing ids yield ErrNotFound.
	SetDispatchStatus(ctx context.Context, now time.Time, id string, status DispatchStatus, providerMessageID string) error

	// Get loads a record by id.
	Get(ctx context.Context, id string) (Code, error)
}
