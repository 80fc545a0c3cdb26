package session

import "context"

// Store holds the single current refresh-token hash per subject.
//
// Hashes are 64-char hex digests produced by token.Hasher; the store never
// sees plaintext tokens.
type Store interface {
	// GetRefreshHash returns the current hash; ok is false when there is no session.
	GetRefreshHash(ctx context.Context, subject string) (hash string, ok bool, err error)

	// SetRefreshHash overwrites the current hash, replacing any previous session.
	SetRefreshHash(ctx context.Context, subject, hash string) error

	// SwapRefreshHash replaces oldHash with newHash atomically.
	// swapped is false when the stored value is not oldHash (or absent).
	SwapRefreshHash(ctx context.Context, subject, oldHash, newHash string) (swapped bool, err error)

	// ClearRefreshHash removes the session. Clearing an absent session is not an error.
	ClearRefreshHash(ctx context.Context, subject string) error
}
