package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/identity/ids"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]User
	byPhone map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byPhone: make(map[string]string),
	}
}

func (s *MemoryStore) UpsertByPhone(ctx context.Context, phone string, now time.Time) (User, bool, error) {
	const op = "identity.UpsertByPhone"

	if err := ctx.Err(); err != nil {
		return User{}, false, err
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return User{}, false, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing phone"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPhone[phone]; ok {
		u := s.byID[id]
		u.UpdatedAt = now
		s.byID[id] = u
		return u, false, nil
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, false, err
	}
	u := User{ID: id, Phone: phone, CreatedAt: now, UpdatedAt: now}
	s.byID[id] = u
	s.byPhone[phone] = id
	return u, true, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, OpError{Op: "identity.GetByID", Kind: ErrNotFound}
	}
	return u, nil
}

var _ Store = (*MemoryStore)(nil)
