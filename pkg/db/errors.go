package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation.
// When constraintName is provided, the violation must reference it. SQLite
// reports the offending table.column instead of a constraint name, so callers
// may pass either form. Wrapping errors that hide their cause's message are
// looked through.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return false
		}
		return constraintName == "" || pgErr.ConstraintName == constraintName
	}
	for ; err != nil; err = errors.Unwrap(err) {
		msg := err.Error()
		if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
			continue
		}
		return constraintName == "" || strings.Contains(msg, constraintName)
	}
	return false
}
