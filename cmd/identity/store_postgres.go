package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/identity/ids"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/dbschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store never closes it.
// Schema identifiers are validated and quoted.
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
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !dbschema.ValidIdent(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: dbschema.DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// UpsertByPhone inserts the user or touches updated_at on the existing row.
// The xmax trick distinguishes insert from update in a single round trip.
func (s *PostgresStore) UpsertByPhone(ctx context.Context, phone string, now time.Time) (User, bool, error) {
	const op = "identity.UpsertByPhone"

	if err := ctx.Err(); err != nil {
		return User{}, false, err
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return User{}, false, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing phone"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, false, err
	}

	var (
		u       User
		created bool
	)
	err = s.pool.QueryRow(ctx,
		`INSERT INTO `+dbschema.Table(s.schema, "users")+` (id, phone, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT (phone) DO UPDATE SET updated_at = EXCLUDED.updated_at
		 RETURNING id, phone, created_at, updated_at, (xmax = 0)`,
		id, phone, now,
	).Scan(&u.ID, &u.Phone, &u.CreatedAt, &u.UpdatedAt, &created)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return User{}, false, ConflictError{Op: op, Field: "phone"}
		}
		return User{}, false, err
	}
	return u, created, nil
}

// GetByID loads a user by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetByID"

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, phone, created_at, updated_at
		   FROM `+dbschema.Table(s.schema, "users")+`
		  WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Phone, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
