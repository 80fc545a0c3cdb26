package identity

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsConflict(t *testing.T) {
	t.Parallel()

	conflict := ConflictError{Op: "identity.UpsertByPhone", Field: "phone"}
	if !IsConflict(conflict) || !IsConflict(fmt.Errorf("wrap: %w", conflict)) {
		t.Fatalf("expected conflict to be detected")
	}
	if !errors.Is(conflict, ErrConflict) {
		t.Fatalf("ConflictError must unwrap to ErrConflict")
	}
	if IsConflict(OpError{Op: "x", Kind: ErrInvalidInput}) || IsConflict(nil) {
		t.Fatalf("unexpected conflict")
	}
	if got := conflict.Error(); got != "identity.UpsertByPhone: conflict: phone" {
		t.Fatalf("Error()=%q", got)
	}
}
