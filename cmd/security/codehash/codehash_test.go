package codehash

import (
	"strings"
	"testing"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 1024
	cfg.Params.Iterations = 1
	return cfg
}

func TestHashAndVerify_OK(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	h, err := cfg.Hash("12345")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if h == "12345" || strings.Contains(h, "12345$") {
		t.Fatalf("hash must not carry the plaintext: %q", h)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$") {
		t.Fatalf("unexpected encoding: %q", h)
	}

	ok, err := cfg.Verify(h, "12345")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestHash_SaltedPerCall(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	a, err := cfg.Hash("00000")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := cfg.Hash("00000")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct salts to produce distinct hashes")
	}
}

func TestVerify_WrongCode(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	h, err := cfg.Hash("12345")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	for _, wrong := range []string{"12346", "1234", "abcde", ""} {
		ok, err := cfg.Verify(h, wrong)
		if err != nil {
			t.Fatalf("Verify(%q) error: %v", wrong, err)
		}
		if ok {
			t.Fatalf("Verify(%q): expected mismatch", wrong)
		}
	}
}

func TestHash_RejectsNonDigits(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	for _, in := range []string{"", "12a45", "1234567890123"} {
		if _, err := cfg.Hash(in); err != ErrInvalidCode {
			t.Fatalf("Hash(%q): expected ErrInvalidCode, got %v", in, err)
		}
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	ok, err := cfg.Verify("not-a-hash", "12345")
	if err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
	if ok {
		t.Fatalf("expected false")
	}
}

func TestVerify_RejectsOversizedParams(t *testing.T) {
	t.Parallel()

	big := DefaultConfig()
	big.Params.MemoryKiB = 64 * 1024
	big.Params.Iterations = 1
	h, err := big.Hash("12345")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if _, err := fastConfig().Verify(h, "12345"); err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash for oversized params, got %v", err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("AUTOTM_OTP_ARGON2_MEMORY_KIB", "4096")
	t.Setenv("AUTOTM_OTP_ARGON2_ITERATIONS", "3")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Params.MemoryKiB != 4096 || cfg.Params.Iterations != 3 {
		t.Fatalf("unexpected params: %+v", cfg.Params)
	}

	t.Setenv("AUTOTM_OTP_ARGON2_ITERATIONS", "0")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for out-of-range iterations")
	}
}
