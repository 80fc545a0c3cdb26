// Package dbschema carries the Postgres DDL for users, one-time codes and the
// audit log. Production deployments apply it out of band; the server applies
// it on boot only when AUTOTM_DB_AUTO_MIGRATE=true, and integration tests
// apply it into throwaway schemas.
package dbschema

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the schema every store uses unless configured otherwise.
const DefaultSchema = "autotm"

//go:embed schema.sql
var schemaSQL string

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdent reports whether s is a plain, unquoted-safe Postgres identifier.
func ValidIdent(s string) bool {
	return identRe.MatchString(s)
}

// Table returns the quoted "schema"."name" identifier.
func Table(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// DDL renders the schema script for the given schema name.
func DDL(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if !ValidIdent(schema) {
		return "", fmt.Errorf("dbschema: invalid schema identifier %q", schema)
	}
	return strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{schema}.Sanitize()), nil
}

// Apply executes the DDL. Statements are idempotent.
func Apply(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	ddl, err := DDL(schema)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("dbschema: apply: %w", err)
	}
	return nil
}

// Drop removes a schema and everything in it. Used by integration tests.
func Drop(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if !ValidIdent(schema) {
		return fmt.Errorf("dbschema: invalid schema identifier %q", schema)
	}
	_, err := pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	return err
}
