package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/dbschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the refresh hash in users.refresh_token_hash.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore creates a Postgres-backed store. An empty schema selects "autotm".
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = dbschema.DefaultSchema
	}
	if !dbschema.ValidIdent(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	return &PostgresStore{pool: pool, table: dbschema.Table(schema, "users")}, nil
}

func (s *PostgresStore) GetRefreshHash(ctx context.Context, subject string) (string, bool, error) {
	var hash *string
	err := s.pool.QueryRow(ctx, `
		SELECT refresh_token_hash
		  FROM `+s.table+`
		 WHERE id = $1
	`, subject).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if hash == nil {
		return "", false, nil
	}
	return *hash, true, nil
}

func (s *PostgresStore) SetRefreshHash(ctx context.Context, subject, hash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		   SET refresh_token_hash = $2, updated_at = now()
		 WHERE id = $1
	`, subject, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownSubject
	}
	return nil
}

// SwapRefreshHash is a single conditional UPDATE; the row lock it takes
// serializes concurrent rotations and exactly one of them matches.
func (s *PostgresStore) SwapRefreshHash(ctx context.Context, subject, oldHash, newHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		   SET refresh_token_hash = $3, updated_at = now()
		 WHERE id = $1
		   AND refresh_token_hash = $2
	`, subject, oldHash, newHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ClearRefreshHash(ctx context.Context, subject string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		   SET refresh_token_hash = NULL, updated_at = now()
		 WHERE id = $1
		   AND refresh_token_hash IS NOT NULL
	`, subject)
	return err
}

var _ Store = (*PostgresStore)(nil)
