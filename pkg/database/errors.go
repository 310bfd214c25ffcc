package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// IsNoRows reports whether err is sql.ErrNoRows
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// QuoteIdentifier quotes a table or column name taken from configuration
func QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}
