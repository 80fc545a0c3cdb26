package otp

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
//
// Attempt serializes per phone+purpose key; the argon2 compare inside fn
// runs under that key lock only, never under the table lock. Key locks are
// reference counted and dropped once no Attempt holds or waits on them.
// Issued codes are kept for the life of the process.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]Code
	keyMu map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes: make(map[string]Code),
		keyMu: make(map[string]*keyLock),
	}
}

func memKey(phone string, purpose Purpose) string {
	return phone + "|" + string(purpose)
}

func (s *MemoryStore) lockKey(key string) *keyLock {
	s.mu.Lock()
	kl, ok := s.keyMu[key]
	if !ok {
		kl = &keyLock{}
		s.keyMu[key] = kl
	}
	kl.refs++
	s.mu.Unlock()

	kl.mu.Lock()
	return kl
}

func (s *MemoryStore) unlockKey(key string, kl *keyLock) {
	kl.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(s.keyMu, key)
	}
}

func (s *MemoryStore) Create(ctx context.Context, c Code) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[c.ID]; exists {
		return ErrInvalidInput
	}
	s.codes[c.ID] = c
	return nil
}

func (s *MemoryStore) CountOutstanding(ctx context.Context, phone string, purpose Purpose, since, now time.Time) (int, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		n      int
		oldest time.Time
	)
	for _, c := range s.codes {
		if c.Phone != phone || c.Purpose != purpose || c.ConsumedAt != nil {
			continue
		}
		if c.CreatedAt.Before(since) || !now.Before(c.ExpiresAt) {
			continue
		}
		n++
		if oldest.IsZero() || c.CreatedAt.Before(oldest) {
			oldest = c.CreatedAt
		}
	}
	return n, oldest, nil
}

// newestOutstandingLocked returns the newest unconsumed code. Caller holds s.mu.
func (s *MemoryStore) newestOutstandingLocked(phone string, purpose Purpose) (Code, bool) {
	var cands []Code
	for _, c := range s.codes {
		if c.Phone == phone && c.Purpose == purpose && c.ConsumedAt == nil {
			cands = append(cands, c)
		}
	}
	if len(cands) == 0 {
		return Code{}, false
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].CreatedAt.Equal(cands[j].CreatedAt) {
			return cands[i].ID > cands[j].ID
		}
		return cands[i].CreatedAt.After(cands[j].CreatedAt)
	})
	return cands[0], true
}

func (s *MemoryStore) Attempt(ctx context.Context, phone string, purpose Purpose, fn func(Code) (Mutation, error)) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}

	key := memKey(phone, purpose)
	kl := s.lockKey(key)
	defer s.unlockKey(key, kl)

	s.mu.Lock()
	c, ok := s.newestOutstandingLocked(phone, purpose)
	s.mu.Unlock()
	if !ok {
		return Code{}, ErrNotFound
	}

	mut, fnErr := fn(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.codes[c.ID]
	if mut.IncrementAttempts && cur.Attempts < cur.MaxAttempts {
		cur.Attempts++
		cur.UpdatedAt = mut.At
	}
	if mut.Consume {
		at := mut.At
		cur.ConsumedAt = &at
		cur.UpdatedAt = at
		for id, other := range s.codes {
			if id == cur.ID || other.Phone != phone || other.Purpose != purpose || other.ConsumedAt != nil {
				continue
			}
			other.ConsumedAt = &at
			other.UpdatedAt = at
			s.codes[id] = other
		}
	}
	s.codes[cur.ID] = cur
	return cur, fnErr
}

func (s *MemoryStore) SetDispatchStatus(ctx context.Context, now time.Time, id string, status DispatchStatus, providerMessageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[id]
	if !ok {
		return ErrNotFound
	}
	c.DispatchStatus = status
	if providerMessageID != "" {
		c.ProviderMessageID = providerMessageID
	}
	c.UpdatedAt = now
	s.codes[id] = c
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Code, error) {
	if err := ctx.Err(); err != nil {
		return Code{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[id]
	if !ok {
		return Code{}, ErrNotFound
	}
	return c, nil
}

var _ Store = (*MemoryStore)(nil)
