package main

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgInsufficientPrivilege = "42501"
	pgUndefinedFile         = "58P01"
)

// describeSetupError turns the postgres errors extension setup commonly hits
// into an actionable message.
func describeSetupError(stmt string, err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgInsufficientPrivilege:
			return fmt.Sprintf("%s: the database user may not create extensions, ask an administrator to run it once", stmt)
		case pgUndefinedFile:
			return fmt.Sprintf("%s: the extension is not installed on the server (install pgvector, e.g. the pgvector/pgvector image)", stmt)
		}
		return fmt.Sprintf("%s: %s (SQLSTATE %s)", stmt, pgErr.Message, pgErr.Code)
	}
	return fmt.Sprintf("%s: %v", stmt, err)
}
