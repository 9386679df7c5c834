package bunstore

import (
	"database/sql"
	"errors"

	"github.com/uptrace/bun/driver/pgdriver"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// pgCode extracts the PostgreSQL error code, or "" for non-Postgres errors.
func pgCode(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	return ""
}

// isDuplicateKey checks for unique_violation (23505).
func isDuplicateKey(err error) bool { return pgCode(err) == "23505" }

// isDuplicateTable checks for duplicate_table (42P07).
func isDuplicateTable(err error) bool { return pgCode(err) == "42P07" }

// isUndefinedTable checks for undefined_table (42P01).
func isUndefinedTable(err error) bool { return pgCode(err) == "42P01" }
