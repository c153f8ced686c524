//go:build !cgo_sqlite

package sqlstore

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteDriver = "sqlite"

func classifySQLite(err error) (Kind, int, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return KindUnknown, 0, false
	}

	code := se.Code()

	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return KindUniqueViolation, code, true
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return KindForeignKeyViolation, code, true
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return KindNotNullViolation, code, true
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return KindCheckViolation, code, true
	}

	// primary result code
	switch code & 0xff {
	case sqlite3.SQLITE_MISMATCH:
		return KindInvalidText, code, true
	case sqlite3.SQLITE_TOOBIG:
		return KindDataTooLong, code, true
	case sqlite3.SQLITE_ERROR:
		return KindSyntax, code, true
	}

	return KindUnknown, code, true
}
