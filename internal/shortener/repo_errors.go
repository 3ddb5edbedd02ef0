package shortener

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation reports whether err is a PostgreSQL unique violation
// and on which constraint. Under the schema's partial indexes this covers
// both generated-identifier collisions and concurrent creators racing for
// the same URL; either way the caller retries the attempt.
func pgUniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != pgerrcode.UniqueViolation {
		return "", false
	}
	return pgErr.ConstraintName, true
}
