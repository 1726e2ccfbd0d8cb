package persistence

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/kapella-hub/ngs/pkg/apperr"
)

// dbErr wraps a driver error in the transient database class unless it
// is a plain row miss.
func dbErr(op string, err error, resource string) error {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(resource)
	}
	return apperr.DatabaseError(op, err)
}

func errNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// qualify prefixes every column in a comma-separated list with a table
// alias, for joined selects.
func qualify(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i := range parts {
		parts[i] = alias + "." + strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, ", ")
}
