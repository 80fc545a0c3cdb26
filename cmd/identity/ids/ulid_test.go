package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewULID_TimestampAndOrder(t *testing.T) {
	t.Parallel()

	t1 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err := NewULID(t1)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	b, err := NewULID(t1.Add(time.Second))
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("expected 26-char ids, got %q %q", a, b)
	}
	if a >= b {
		t.Fatalf("expected lexicographic order by time: %q >= %q", a, b)
	}

	parsed, err := ulid.Parse(a)
	if err != nil {
		t.Fatalf("ulid.Parse: %v", err)
	}
	if got := ulid.Time(parsed.Time()); !got.Equal(t1) {
		t.Fatalf("timestamp mismatch: got %v want %v", got, t1)
	}
}
