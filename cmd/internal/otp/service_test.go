package otp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Hash.Params.MemoryKiB = 1024
	cfg.Hash.Params.Iterations = 1
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, cfg Config) (*Service, *MemoryStore) {
	t.Helper()
	st := NewMemoryStore()
	svc, err := NewService(cfg, st, WithLogger(quietLogger()), WithMetrics(NewMetrics(nil)))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, st
}

func wrongCode(code string) string {
	if code == "00000" {
		return "11111"
	}
	return "00000"
}

func TestCreateVerify_TestNumber(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TestNumbersEnabled = true
	svc, _ := newTestService(t, cfg)

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	iss, err := svc.Create(ctx, now, CreateInput{Phone: "+99361999999", Purpose: PurposeLogin})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if iss.Code != "12345" || !iss.IsTestNumber {
		t.Fatalf("expected fixed test code, got code=%q test=%v", iss.Code, iss.IsTestNumber)
	}

	res, err := svc.Verify(ctx, now.Add(time.Minute), VerifyInput{Phone: "+99361999999", Code: "12345", Purpose: PurposeLogin})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Valid || res.CodeID != iss.ID {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Single use.
	_, err = svc.Verify(ctx, now.Add(2*time.Minute), VerifyInput{Phone: "+99361999999", Code: "12345", Purpose: PurposeLogin})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after consumption, got %v", err)
	}
}

func TestCreate_TestNumbersDisabledByDefault(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testConfig())

	iss, err := svc.Create(context.Background(), time.Now(), CreateInput{Phone: "+99361999999", Purpose: PurposeLogin})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if iss.IsTestNumber || svc.IsTestNumber("+99361999999") {
		t.Fatalf("test numbers must be inert unless enabled")
	}
}

func TestCreate_RandomCodes(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RateLimitMax = 1000
	svc, st := newTestService(t, cfg)

	ctx := context.Background()
	now := time.Now().UTC()
	seen := make(map[string]int)

	for i := 0; i < 100; i++ {
		iss, err := svc.Create(ctx, now, CreateInput{Phone: "+99365000000", Purpose: PurposeLogin})
		if err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
		if len(iss.Code) != 5 || !allDigits(iss.Code) {
			t.Fatalf("code %q is not 5 digits", iss.Code)
		}
		seen[iss.Code]++

		rec, err := st.Get(ctx, iss.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.CodeHash == iss.Code || strings.Contains(rec.CodeHash, iss.Code+"$") {
			t.Fatalf("stored hash leaks plaintext")
		}
		if !strings.HasPrefix(rec.CodeHash, "$argon2id$") {
			t.Fatalf("unexpected hash format: %q", rec.CodeHash)
		}
	}

	if len(seen) < 2 {
		t.Fatalf("expected varied codes, got %v", seen)
	}
}

func TestCreate_RejectsBadInput(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()

	cases := []CreateInput{
		{Phone: "not-a-phone", Purpose: PurposeLogin},
		{Phone: "+99365000000", Purpose: "signup"},
		{Phone: "", Purpose: PurposeLogin},
	}
	for _, in := range cases {
		if _, err := svc.Create(ctx, time.Now(), in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Create(%+v): expected ErrInvalidInput, got %v", in, err)
		}
	}
}

func TestCreate_RateLimited(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RateLimitMax = 3
	svc, _ := newTestService(t, cfg)

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, now.Add(time.Duration(i)*time.Second), CreateInput{Phone: "+99365000000", Purpose: PurposeLogin}); err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}

	_, err := svc.Create(ctx, now.Add(5*time.Second), CreateInput{Phone: "+99365000000", Purpose: PurposeLogin})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.RetryAfter <= 0 {
		t.Fatalf("expected RateLimitError with RetryAfter, got %#v", err)
	}

	// Other purposes have their own budget.
	if _, err := svc.Create(ctx, now.Add(5*time.Second), CreateInput{Phone: "+99365000000", Purpose: PurposeRegister}); err != nil {
		t.Fatalf("register purpose should not be limited: %v", err)
	}

	// Expired codes stop counting.
	if _, err := svc.Create(ctx, now.Add(cfg.TTL+time.Minute), CreateInput{Phone: "+99365000000", Purpose: PurposeLogin}); err != nil {
		t.Fatalf("expected budget to free up after expiry: %v", err)
	}
}

func TestVerify_NotFound(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testConfig())
	_, err := svc.Verify(context.Background(), time.Now(), VerifyInput{Phone: "+99365000000", Code: "12345", Purpose: PurposeLogin})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerify_PurposeIsolation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	iss, err := svc.Create(ctx, now, CreateInput{Phone: "+99365000000", Purpose: PurposeLogin})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = svc.Verify(ctx, now, VerifyInput{Phone: "+99365000000", Code: iss.Code, Purpose: PurposeRegister})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound across purposes, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	svc, _ := newTestService(t, cfg)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	iss, err := svc.Create(ctx, now, CreateInput{Phone: "+99365000000", Purpose: PurposeLogin})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Expiry is inclusive of expires_at.
	_, err = svc.Verify(ctx, iss.ExpiresAt, VerifyInput{Phone: "+99365000000", Code: iss.Code, Purpose: PurposeLogin})
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerify_AttemptBudget(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	svc, st := newTestService(t, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	iss, err := svc.Create(ctx, now, CreateInput{Phone: "+99365000000", Purpose: PurposeLogin})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	bad := wrongCode(iss.Code)

	for want := cfg.MaxAttempts - 1; want >= 0; want-- {
		_, err := svc.Verify(ctx, now, VerifyInput{Phone: "+99365000000", Code: bad, Purpose: PurposeLogin})
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid, got %v", err)
		}
		got, ok := AttemptsRemaining(err)
		if !ok || got != want {
			t.Fatalf("attempts remaining: got %d (ok=%v), want %d", got, ok, want)
		}
	}

	// The correct code no longer helps.
	_, err = svc.Verify(ctx, now, VerifyInput{Phone: "+99365000000", Code: iss.Code, Purpose: PurposeLogin})
	if !errors.Is(err, ErrMaxAttemptsExceeded) {
		t.Fatalf("expected ErrMaxAttemptsExceeded, got %v", err)
	}

	rec, err := st.Get(ctx, iss.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Attempts != cfg.MaxAttempts || rec.ConsumedAt != nil {
		t.Fatalf("unexpected record state: attempts=%d consumed=%v", rec.Attempts, rec.ConsumedAt)
	}
}

func TestVerify_ConcurrentAttemptsStayBounded(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	svc, st := newTestService(t, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	iss, err := svc.Create(ctx, now, CreateInput{Phone: "+99365000000", Purpose: PurposeLogin})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	bad := wrongCode(iss.Code)

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		invalid int
		maxed   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Verify(ctx, now, VerifyInput{Phone: "+99365000000", Code: bad, Purpose: PurposeLogin})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrInvalid):
				invalid++
			case errors.Is(err, ErrMaxAttemptsExceeded):
				maxed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if invalid != cfg.MaxAttempts || maxed != workers-cfg.MaxAttempts {
		t.Fatalf("invalid=%d maxed=%d, want %d/%d", invalid, maxed, cfg.MaxAttempts, workers-cfg.MaxAttempts)
	}
	rec, _ := st.Get(ctx, iss.ID)
	if rec.Attempts != cfg.MaxAttempts {
		t.Fatalf("attempts=%d, want %d", rec.Attempts, cfg.MaxAttempts)
	}
}

func TestVerify_ConcurrentCorrectCodeSingleWinner(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TestNumbersEnabled = true
	svc, _ := newTestService(t, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.Create(ctx, now, CreateInput{Phone: "+99361999999", Purpose: PurposeLogin}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 10
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		valid int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Verify(ctx, now, VerifyInput{Phone: "+99361999999", Code: "12345", Purpose: PurposeLogin})
			if err == nil && res.Valid {
				mu.Lock()
				valid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if valid != 1 {
		t.Fatalf("expected exactly one successful verification, got %d", valid)
	}
}

func TestVerify_NewestCodeSupersedesAndRetiresOlder(t *testing.T) {
	t.Parallel()

	svc, st := newTestService(t, testConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	older, err := svc.Create(ctx, now, CreateInput{Phone: "+99365000000", Purpose: PurposeLogin})
	if err != nil {
		t.Fatalf("Create older: %v", err)
	}
	newer, err := svc.Create(ctx, now.Add(time.Second), CreateInput{Phone: "+99365000000", Purpose: PurposeLogin})
	if err != nil {
		t.Fatalf("Create newer: %v", err)
	}
	if older.Code == newer.Code {
		t.Skip("codes collided; nothing to distinguish")
	}

	_, err = svc.Verify(ctx, now.Add(2*time.Second), VerifyInput{Phone: "+99365000000", Code: older.Code, Purpose: PurposeLogin})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("older code must not verify while a newer one is outstanding, got %v", err)
	}

	if _, err := svc.Verify(ctx, now.Add(3*time.Second), VerifyInput{Phone: "+99365000000", Code: newer.Code, Purpose: PurposeLogin}); err != nil {
		t.Fatalf("Verify newer: %v", err)
	}

	rec, err := st.Get(ctx, older.ID)
	if err != nil {
		t.Fatalf("Get older: %v", err)
	}
	if rec.ConsumedAt == nil {
		t.Fatalf("older code should be retired after a successful verification")
	}

	_, err = svc.Verify(ctx, now.Add(4*time.Second), VerifyInput{Phone: "+99365000000", Code: older.Code, Purpose: PurposeLogin})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for retired code, got %v", err)
	}
}

func TestDispatchStatus_DoesNotGateVerification(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, testConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	iss, err := svc.Create(ctx, now, CreateInput{Phone: "+99365000000", Purpose: PurposeLogin})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.SetDispatchStatus(ctx, now, iss.ID, DispatchFailed, "corr-1"); err != nil {
		t.Fatalf("SetDispatchStatus: %v", err)
	}

	rec, err := svc.Get(ctx, iss.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.DispatchStatus != DispatchFailed || rec.ProviderMessageID != "corr-1" {
		t.Fatalf("dispatch fields not recorded: %+v", rec)
	}

	if _, err := svc.Verify(ctx, now, VerifyInput{Phone: "+99365000000", Code: iss.Code, Purpose: PurposeLogin}); err != nil {
		t.Fatalf("failed delivery must not block verification: %v", err)
	}

	if err := svc.SetDispatchStatus(ctx, now, iss.ID, "bounced", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown status, got %v", err)
	}
	if err := svc.SetDispatchStatus(ctx, now, "missing", DispatchSent, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestNewService_RejectsBadTestNumber(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TestNumbersEnabled = true
	cfg.TestNumbers = []string{"garbage"}
	if _, err := NewService(cfg, NewMemoryStore()); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestMaskPhone(t *testing.T) {
	t.Parallel()

	if got := MaskPhone("+99365000000"); got != "+993****0000" {
		t.Fatalf("MaskPhone: %q", got)
	}
	if got := MaskPhone("123"); got != "***" {
		t.Fatalf("MaskPhone short: %q", got)
	}
}

