package otp

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/identity/ids"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/dbschema"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestPostgresStore_VerifyLifecycle(t *testing.T) {
	t.Parallel()

	st := mustPostgresStore(t)

	cfg := testConfig()
	cfg.TestNumbersEnabled = true
	svc, err := NewService(cfg, st, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	iss, err := svc.Create(ctx, now, CreateInput{Phone: "+99361999999", Purpose: PurposeLogin, Region: "ashgabat"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := st.Get(ctx, iss.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Region != "ashgabat" || rec.DispatchStatus != DispatchPending || rec.Channel != ChannelSMS {
		t.Fatalf("unexpected record: %+v", rec)
	}

	_, err = svc.Verify(ctx, now, VerifyInput{Phone: "+99361999999", Code: "54321", Purpose: PurposeLogin})
	if n, ok := AttemptsRemaining(err); !ok || n != cfg.MaxAttempts-1 {
		t.Fatalf("expected invalid with %d remaining, got %v", cfg.MaxAttempts-1, err)
	}

	if err := svc.SetDispatchStatus(ctx, now, iss.ID, DispatchDelivered, "corr-42"); err != nil {
		t.Fatalf("SetDispatchStatus: %v", err)
	}

	res, err := svc.Verify(ctx, now.Add(time.Second), VerifyInput{Phone: "+99361999999", Code: "12345", Purpose: PurposeLogin})
	if err != nil || !res.Valid {
		t.Fatalf("Verify: res=%+v err=%v", res, err)
	}

	rec, err = st.Get(ctx, iss.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.ConsumedAt == nil || rec.Attempts != 1 || rec.ProviderMessageID != "corr-42" {
		t.Fatalf("unexpected final state: %+v", rec)
	}

	n, _, err := st.CountOutstanding(ctx, "+99361999999", PurposeLogin, now.Add(-time.Hour), now)
	if err != nil || n != 0 {
		t.Fatalf("CountOutstanding: n=%d err=%v", n, err)
	}
}

func TestPostgresStore_ConcurrentAttemptsStayBounded(t *testing.T) {
	t.Parallel()

	st := mustPostgresStore(t)
	svc, err := NewService(testConfig(), st, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC()
	iss, err := svc.Create(ctx, now, CreateInput{Phone: "+99365000000", Purpose: PurposeLogin})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	bad := wrongCode(iss.Code)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Verify(ctx, now, VerifyInput{Phone: "+99365000000", Code: bad, Purpose: PurposeLogin})
		}()
	}
	wg.Wait()

	rec, err := st.Get(ctx, iss.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Attempts != rec.MaxAttempts {
		t.Fatalf("attempts=%d want %d", rec.Attempts, rec.MaxAttempts)
	}
}

func mustPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("AUTOTM_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: AUTOTM_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		if skipUnreachable(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}

	schema := "autotm_it_" + strings.ToLower(ids.MustULID(time.Now().UTC()))
	if err := dbschema.Apply(ctx, pool, schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dropCancel()
		_ = dbschema.Drop(dropCtx, pool, schema)
	})

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return st
}

func skipUnreachable(err error) bool {
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "timeout")
}
