package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestDescribeSetupError(t *testing.T) {
	stmt := "CREATE EXTENSION IF NOT EXISTS vector;"

	denied := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "42501", Message: "permission denied"})
	assert.Contains(t, describeSetupError(stmt, denied), "may not create extensions")

	missing := &pgconn.PgError{Code: "58P01", Message: "could not open extension control file"}
	assert.Contains(t, describeSetupError(stmt, missing), "not installed")

	other := &pgconn.PgError{Code: "42601", Message: "syntax error"}
	assert.Equal(t, stmt+": syntax error (SQLSTATE 42601)", describeSetupError(stmt, other))

	assert.Equal(t, stmt+": boom", describeSetupError(stmt, errors.New("boom")))
}
