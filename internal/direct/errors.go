package direct

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
)

// Postgres SQLSTATE codes the adapter distinguishes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
	pgInsufficientPriv    = "42501"
	pgInvalidText         = "22P02"
)

// mapError converts a driver error into the backend taxonomy. t may be nil
// for errors outside a table statement (begin, commit).
func (s *Store) mapError(t *catalog.Table, err error) error {
	if err == nil {
		return nil
	}
	var be *backend.Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	name := ""
	if t != nil {
		name = t.Name
	}
	if errors.Is(err, sql.ErrNoRows) {
		return backend.NotFound(name)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(t, name, pgErr)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return mapSQLiteError(t, name, liteErr)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return backend.Unavailable(err)
	}
	return err
}

func mapPgError(t *catalog.Table, name string, pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgUniqueViolation, pgForeignKeyViolation, pgCheckViolation:
		var cols []string
		if t != nil {
			cols = t.ConstraintColumns(pgErr.ConstraintName)
		}
		return backend.Constraint(name, pgErr.ConstraintName, cols, pgErr)
	case pgNotNullViolation:
		return backend.Constraint(name, "", []string{pgErr.ColumnName}, pgErr)
	case pgInsufficientPriv:
		return backend.Forbidden(name, "statement")
	case pgInvalidText:
		return backend.Invalid(name, "%s", pgErr.Message)
	}
	// Class 08: connection exception. Class 57P: operator intervention.
	if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") {
		return backend.Unavailable(pgErr)
	}
	return pgErr
}

// mapSQLiteError recovers constraint names from SQLite's messages, which
// report the violated columns ("UNIQUE constraint failed: t.a, t.b") or
// the CHECK constraint name.
func mapSQLiteError(t *catalog.Table, name string, e sqlite3.Error) error {
	msg := e.Error()
	detail := ""
	if i := strings.Index(msg, "constraint failed: "); i >= 0 {
		detail = msg[i+len("constraint failed: "):]
	}

	switch e.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		cols := qualifiedColumns(detail)
		constraint := ""
		if t != nil {
			constraint = t.ConstraintFor(cols)
		}
		return backend.Constraint(name, constraint, cols, e)
	case sqlite3.ErrConstraintNotNull:
		return backend.Constraint(name, "", qualifiedColumns(detail), e)
	case sqlite3.ErrConstraintCheck:
		var cols []string
		if t != nil {
			cols = t.ConstraintColumns(detail)
		}
		return backend.Constraint(name, detail, cols, e)
	case sqlite3.ErrConstraintForeignKey:
		return backend.Constraint(name, "", nil, e)
	}

	switch e.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
		return backend.Unavailable(e)
	}
	return e
}

// qualifiedColumns parses "t.a, t.b" into ["a", "b"].
func qualifiedColumns(detail string) []string {
	if detail == "" {
		return nil
	}
	var cols []string
	for _, part := range strings.Split(detail, ",") {
		part = strings.TrimSpace(part)
		if i := strings.LastIndexByte(part, '.'); i >= 0 {
			part = part[i+1:]
		}
		cols = append(cols, part)
	}
	return cols
}
