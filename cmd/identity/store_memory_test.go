package identity

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_UpsertByPhone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	u1, created, err := s.UpsertByPhone(ctx, "+99361999999", now)
	if err != nil {
		t.Fatalf("UpsertByPhone: %v", err)
	}
	if !created || len(u1.ID) != 26 {
		t.Fatalf("expected a new user with ULID, got created=%v id=%q", created, u1.ID)
	}

	u2, created, err := s.UpsertByPhone(ctx, "+99361999999", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpsertByPhone again: %v", err)
	}
	if created || u2.ID != u1.ID {
		t.Fatalf("expected existing user, got created=%v id=%q", created, u2.ID)
	}
	if !u2.UpdatedAt.After(u1.UpdatedAt) {
		t.Fatalf("expected updated_at to move forward")
	}

	got, err := s.GetByID(ctx, u1.ID)
	if err != nil || got.Phone != "+99361999999" {
		t.Fatalf("GetByID: user=%+v err=%v", got, err)
	}

	if _, err := s.GetByID(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := s.UpsertByPhone(ctx, " ", now); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
