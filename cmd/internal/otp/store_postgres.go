package otp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/dbschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over the otp_codes table.
//
// Attempt runs SELECT ... FOR UPDATE and the follow-up UPDATEs in one
// transaction, so concurrent verifications of the same phone+purpose
// serialize on the newest row.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema used by the store (default "autotm").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !dbschema.ValidIdent(schema) {
			return fmt.Errorf("otp: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: dbschema.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("otp: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return dbschema.Table(s.schema, "otp_codes")
}

const codeColumns = `id, phone, purpose, code_hash, expires_at, consumed_at, attempts, max_attempts,
	region, channel, dispatch_status, provider_message_id, created_at, updated_at`

func scanCode(row pgx.Row) (Code, error) {
	var (
		c                 Code
		purpose, status   string
		region, messageID *string
	)
	err := row.Scan(
		&c.ID,
		&c.Phone,
		&purpose,
		&c.CodeHash,
		&c.ExpiresAt,
		&c.ConsumedAt,
		&c.Attempts,
		&c.MaxAttempts,
		&region,
		&c.Channel,
		&status,
		&messageID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Code{}, ErrNotFound
	}
	if err != nil {
		return Code{}, err
	}
	c.Purpose = Purpose(purpose)
	c.DispatchStatus = DispatchStatus(status)
	if region != nil {
		c.Region = *region
	}
	if messageID != nil {
		c.ProviderMessageID = *messageID
	}
	return c, nil
}

func (s *PostgresStore) Create(ctx context.Context, c Code) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table()+` (
			id, phone, purpose, code_hash, expires_at, consumed_at, attempts, max_attempts,
			region, channel, dispatch_status, provider_message_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, NULL, 0, $6,
			$7, $8, $9, NULL, $10, $10
		)
	`, c.ID, c.Phone, string(c.Purpose), c.CodeHash, c.ExpiresAt, c.MaxAttempts,
		nullIfEmpty(c.Region), c.Channel, string(c.DispatchStatus), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("otp: insert code: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountOutstanding(ctx context.Context, phone string, purpose Purpose, since, now time.Time) (int, time.Time, error) {
	var (
		n      int
		oldest *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), min(created_at)
		  FROM `+s.table()+`
		 WHERE phone = $1
		   AND purpose = $2
		   AND consumed_at IS NULL
		   AND created_at >= $3
		   AND expires_at > $4
	`, phone, string(purpose), since, now).Scan(&n, &oldest)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("otp: count outstanding: %w", err)
	}
	if oldest == nil {
		return n, time.Time{}, nil
	}
	return n, *oldest, nil
}

func (s *PostgresStore) Attempt(ctx context.Context, phone string, purpose Purpose, fn func(Code) (Mutation, error)) (Code, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Code{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := scanCode(tx.QueryRow(ctx, `
		SELECT `+codeColumns+`
		  FROM `+s.table()+`
		 WHERE phone = $1
		   AND purpose = $2
		   AND consumed_at IS NULL
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1
		 FOR UPDATE
	`, phone, string(purpose)))
	if err != nil {
		return Code{}, err
	}

	mut, fnErr := fn(c)

	if mut.IncrementAttempts && c.Attempts < c.MaxAttempts {
		if _, err := tx.Exec(ctx, `
			UPDATE `+s.table()+`
			   SET attempts = attempts + 1, updated_at = $2
			 WHERE id = $1
		`, c.ID, mut.At); err != nil {
			return Code{}, fmt.Errorf("otp: increment attempts: %w", err)
		}
		c.Attempts++
		c.UpdatedAt = mut.At
	}

	if mut.Consume {
		// Retires the verified code and every older outstanding sibling.
		if _, err := tx.Exec(ctx, `
			UPDATE `+s.table()+`
			   SET consumed_at = $3, updated_at = $3
			 WHERE phone = $1
			   AND purpose = $2
			   AND consumed_at IS NULL
		`, phone, string(purpose), mut.At); err != nil {
			return Code{}, fmt.Errorf("otp: consume: %w", err)
		}
		at := mut.At
		c.ConsumedAt = &at
		c.UpdatedAt = at
	}

	if err := tx.Commit(ctx); err != nil {
		return Code{}, err
	}
	return c, fnErr
}

func (s *PostgresStore) SetDispatchStatus(ctx context.Context, now time.Time, id string, status DispatchStatus, providerMessageID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		   SET dispatch_status = $2,
		       provider_message_id = COALESCE($3, provider_message_id),
		       updated_at = $4
		 WHERE id = $1
	`, id, string(status), nullIfEmpty(providerMessageID), now)
	if err != nil {
		return fmt.Errorf("otp: set dispatch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Code, error) {
	return scanCode(s.pool.QueryRow(ctx, `
		SELECT `+codeColumns+`
		  FROM `+s.table()+`
		 WHERE id = $1
	`, id))
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Store = (*PostgresStore)(nil)
