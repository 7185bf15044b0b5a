// Package schema owns the Postgres DDL for the service and applies it.
package schema

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Default is the schema used when none is configured.
const Default = "commune"

//go:embed schema.sql
var ddl string

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ValidIdent reports whether s is a plain Postgres identifier.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// Qualify quotes "schema"."name".
func Qualify(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// SQL renders the DDL for the given schema.
func SQL(schemaName string) (string, error) {
	if !ValidIdent(schemaName) {
		return "", fmt.Errorf("schema: invalid identifier %q", schemaName)
	}
	return strings.ReplaceAll(ddl, "{{schema}}", pgx.Identifier{schemaName}.Sanitize()), nil
}

// Apply creates the schema if needed and runs the idempotent DDL.
func Apply(ctx context.Context, db Execer, schemaName string) error {
	stmt, err := SQL(schemaName)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schemaName}.Sanitize()); err != nil {
		return fmt.Errorf("schema: create: %w", err)
	}
	if _, err := db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("schema: apply: %w", err)
	}
	return nil
}
