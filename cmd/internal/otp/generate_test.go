package otp

import (
	"bytes"
	"testing"
)

func TestGenerateCode_KeepsLeadingZeros(t *testing.T) {
	t.Parallel()

	got, err := generateCode(bytes.NewReader(make([]byte, 64)), 5)
	if err != nil {
		t.Fatalf("generateCode: %v", err)
	}
	if got != "00000" {
		t.Fatalf("got %q, want 00000", got)
	}
}

func TestGenerateCode_Length(t *testing.T) {
	t.Parallel()

	for _, n := range []int{4, 5, 6, 8} {
		code, err := generateCode(nil, n)
		if err != nil {
			t.Fatalf("generateCode(%d): %v", n, err)
		}
		if len(code) != n || !allDigits(code) {
			t.Fatalf("generateCode(%d) = %q", n, code)
		}
	}

	if _, err := generateCode(nil, 0); err == nil {
		t.Fatalf("expected error for zero length")
	}
}
