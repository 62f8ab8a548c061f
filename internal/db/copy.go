// Package db provides shared Postgres helpers for bulk copy and table replace.
package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a table using PostgreSQL COPY protocol.
// A schema-qualified name ("risk.county_scores") is split into its parts.
func CopyFrom(ctx context.Context, c Copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := c.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}

	return n, nil
}

// ReplaceAll empties table and COPYs rows into it inside tx. Readers outside
// tx keep seeing the previous contents until commit.
func ReplaceAll(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) (int64, error) {
	if len(columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}
	if _, err := tx.Exec(ctx, "DELETE FROM "+identifier(table).Sanitize()); err != nil {
		return 0, eris.Wrapf(err, "db: replace: clear %s", table)
	}
	return CopyFrom(ctx, tx, table, columns, rows)
}

// QuoteColumns quotes each column name and joins with commas.
func QuoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// identifier handles schema-qualified table names like "risk.county_scores".
func identifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}
