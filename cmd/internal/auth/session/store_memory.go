package session

import (
	"context"
	"sync"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/security/token"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	hashes map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hashes: make(map[string]string)}
}

func (s *MemoryStore) GetRefreshHash(ctx context.Context, subject string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[subject]
	return h, ok, nil
}

func (s *MemoryStore) SetRefreshHash(ctx context.Context, subject, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[subject] = hash
	return nil
}

func (s *MemoryStore) SwapRefreshHash(ctx context.Context, subject, oldHash, newHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.hashes[subject]
	if !ok || !token.Equal(cur, oldHash) {
		return false, nil
	}
	s.hashes[subject] = newHash
	return true, nil
}

func (s *MemoryStore) ClearRefreshHash(ctx context.Context, subject string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hashes, subject)
	return nil
}

var _ Store = (*MemoryStore)(nil)
