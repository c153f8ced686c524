package sqlstore

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ardnew/tagscript/lang"
)

// Kind is a driver-independent category of database failure.
type Kind string

const (
	KindUnknown             Kind = ""
	KindUniqueViolation     Kind = "unique violation"
	KindForeignKeyViolation Kind = "foreign key violation"
	KindNotNullViolation    Kind = "not null violation"
	KindCheckViolation      Kind = "check violation"
	KindDataTooLong         Kind = "data too long"
	KindNumericOverflow     Kind = "numeric overflow"
	KindInvalidText         Kind = "invalid text representation"
	KindSyntax              Kind = "syntax error"
)

// ErrDatabase wraps every error reported by a database driver.
var ErrDatabase = lang.NewError("database error")

// Classify reports the category of a driver error. The second result is
// false when err did not come from a known driver.
func Classify(err error) (Kind, bool) {
	kind, _, ok := classify(err)

	return kind, ok
}

// classify returns the category and the driver's native code.
func classify(err error) (Kind, string, bool) {
	if err == nil {
		return KindUnknown, "", false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPostgres(pgErr), pgErr.Code, true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return classifyMySQL(myErr), strconv.Itoa(int(myErr.Number)), true
	}

	if kind, code, ok := classifySQLite(err); ok {
		return kind, strconv.Itoa(code), true
	}

	return KindUnknown, "", false
}

// SQLSTATE codes, see the PostgreSQL errcodes appendix.
func classifyPostgres(err *pgconn.PgError) Kind {
	switch err.Code {
	case "23505":
		return KindUniqueViolation
	case "23503":
		return KindForeignKeyViolation
	case "23502":
		return KindNotNullViolation
	case "23514":
		return KindCheckViolation
	case "22001":
		return KindDataTooLong
	case "22003":
		return KindNumericOverflow
	case "22P02":
		return KindInvalidText
	case "42601", "42P01", "42703":
		return KindSyntax
	default:
		return KindUnknown
	}
}

// Server error numbers, see the MySQL server error reference.
func classifyMySQL(err *mysql.MySQLError) Kind {
	switch err.Number {
	case 1062:
		return KindUniqueViolation
	case 1451, 1452:
		return KindForeignKeyViolation
	case 1048, 1364:
		return KindNotNullViolation
	case 3819:
		return KindCheckViolation
	case 1406:
		return KindDataTooLong
	case 1264, 1690:
		return KindNumericOverflow
	case 1265, 1366:
		return KindInvalidText
	case 1064, 1054, 1146:
		return KindSyntax
	default:
		return KindUnknown
	}
}

// dbError wraps a driver error in [ErrDatabase] with its classification.
func dbError(err error, datasource string) *lang.Error {
	attrs := []slog.Attr{slog.String("datasource", datasource)}

	if kind, code, ok := classify(err); ok {
		attrs = append(attrs, slog.String("code", code))
		if kind != KindUnknown {
			attrs = append(attrs, slog.String("kind", string(kind)))
		}
	}

	return ErrDatabase.Wrap(err).With(attrs...)
}
