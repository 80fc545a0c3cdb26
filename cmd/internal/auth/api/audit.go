package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/dbschema"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	actionOTPSent         = "auth.otp.sent"
	actionOTPRateLimited  = "auth.otp.rate_limited"
	actionOTPVerified     = "auth.otp.verified"
	actionOTPVerifyFailed = "auth.otp.verify_failed"
	actionSessionIssued   = "auth.session.issued"
	actionRefreshSuccess  = "auth.refresh.success"
	actionRefreshReuse    = "auth.refresh.reuse_detected"
	actionRefreshRejected = "auth.refresh.rejected"
	actionLogout          = "auth.logout"
)

// AuditEntry is one row of the audit trail. Phones are stored masked.
type AuditEntry struct {
	Action    string
	UserID    string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// Auditor persists audit entries and answers the throttling queries built on them.
type Auditor interface {
	Record(ctx context.Context, e AuditEntry) error
	RecentByIP(ctx context.Context, action string, ip net.IP, since time.Time) ([]time.Time, error)
}

// PostgresAuditor writes to <schema>.audit_log.
type PostgresAuditor struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresAuditor returns an Auditor over pool; empty schema means the default.
func NewPostgresAuditor(pool *pgxpool.Pool, schema string) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, fmt.Errorf("authapi: nil pool")
	}
	if schema == "" {
		schema = dbschema.DefaultSchema
	}
	if !dbschema.ValidIdent(schema) {
		return nil, fmt.Errorf("authapi: invalid schema %q", schema)
	}
	return &PostgresAuditor{pool: pool, table: dbschema.Table(schema, "audit_log")}, nil
}

func (a *PostgresAuditor) Record(ctx context.Context, e AuditEntry) error {
	var ipVal any
	if e.IP != nil {
		ipVal = e.IP.String()
	}
	var metaVal *string
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (user_id, action, created_at, ip, user_agent, meta)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, trimOrNil(e.UserID), e.Action, e.At, ipVal, trimOrNil(e.UserAgent), metaVal)
	return err
}

func (a *PostgresAuditor) RecentByIP(ctx context.Context, action string, ip net.IP, since time.Time) ([]time.Time, error) {
	if ip == nil {
		return nil, nil
	}
	rows, err := a.pool.Query(ctx, `
		SELECT created_at
		FROM `+a.table+`
		WHERE action = $1
		  AND ip = $2
		  AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1000
	`, action, ip.String(), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// MemoryAuditor keeps entries in process. Used when the database is disabled.
type MemoryAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func NewMemoryAuditor() *MemoryAuditor { return &MemoryAuditor{} }

func (a *MemoryAuditor) Record(_ context.Context, e AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *MemoryAuditor) RecentByIP(_ context.Context, action string, ip net.IP, since time.Time) ([]time.Time, error) {
	if ip == nil {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []time.Time
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if e.Action == action && e.IP.Equal(ip) && !e.At.Before(since) {
			out = append(out, e.At)
		}
	}
	return out, nil
}

// Actions returns recorded actions in order.
func (a *MemoryAuditor) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

var (
	_ Auditor = (*PostgresAuditor)(nil)
	_ Auditor = (*MemoryAuditor)(nil)
)

// audit is best effort: a failed write is logged and the request proceeds.
func (h *Handler) audit(ctx context.Context, action, userID string, ip net.IP, ua string, meta map[string]any) {
	if h == nil || h.auditor == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}
	err := h.auditor.Record(ctx, AuditEntry{
		Action:    action,
		UserID:    userID,
		IP:        ip,
		UserAgent: ua,
		Meta:      meta,
		At:        h.now(),
	})
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
