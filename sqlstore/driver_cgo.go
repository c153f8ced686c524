//go:build cgo_sqlite

package sqlstore

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"

func classifySQLite(err error) (Kind, int, bool) {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return KindUnknown, 0, false
	}

	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return KindUniqueViolation, int(se.ExtendedCode), true
	case sqlite3.ErrConstraintForeignKey:
		return KindForeignKeyViolation, int(se.ExtendedCode), true
	case sqlite3.ErrConstraintNotNull:
		return KindNotNullViolation, int(se.ExtendedCode), true
	case sqlite3.ErrConstraintCheck:
		return KindCheckViolation, int(se.ExtendedCode), true
	}

	switch se.Code {
	case sqlite3.ErrMismatch:
		return KindInvalidText, int(se.Code), true
	case sqlite3.ErrTooBig:
		return KindDataTooLong, int(se.Code), true
	case sqlite3.ErrError:
		return KindSyntax, int(se.Code), true
	}

	return KindUnknown, int(se.Code), true
}
