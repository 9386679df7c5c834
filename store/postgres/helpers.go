package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// pgCode extracts the PostgreSQL error code, or "" for non-Postgres errors.
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isDuplicateKey checks for unique_violation (23505).
func isDuplicateKey(err error) bool { return pgCode(err) == "23505" }

// isDuplicateTable checks for duplicate_table (42P07), raised when two
// workers race through CREATE TABLE at the same instant.
func isDuplicateTable(err error) bool { return pgCode(err) == "42P07" }

// isUndefinedTable checks for undefined_table (42P01): the experiment was
// never bootstrapped.
func isUndefinedTable(err error) bool { return pgCode(err) == "42P01" }
