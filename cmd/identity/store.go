package identity

import (
	"context"
	"time"
)

// User is the security principal a verified phone resolves to.
type User struct {
	ID        string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the user persistence boundary.
type Store interface {
	// UpsertByPhone returns the user owning phone (E.164), creating it when absent.
	// created reports whether a new row was inserted.
	UpsertByPhone(ctx context.Context, phone string, now time.Time) (u User, created bool, err error)

	// GetByID loads a user; missing users yield ErrNotFound.
	GetByID(ctx context.Context, id string) (User, error)
}
