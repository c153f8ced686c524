package sqlstore

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/ardnew/tagscript/lang"
)

// ErrSpec is returned for a datasource spec that cannot be parsed.
var ErrSpec = lang.NewError("invalid datasource spec")

// drivers maps accepted driver names to the registered database/sql driver.
var drivers = map[string]string{
	"pgx":        "pgx",
	"postgres":   "pgx",
	"postgresql": "pgx",
	"mysql":      "mysql",
	"mariadb":    "mysql",
	"sqlite":     sqliteDriver,
	"sqlite3":    sqliteDriver,
	"file":       sqliteDriver,
}

// ParseSpec splits a datasource spec into a registered driver name and the
// DSN handed to that driver. Two forms are accepted:
//
//	driver:dsn          sqlite::memory:, mysql:user:pw@tcp(host)/db
//	scheme://...        postgres://user@host/db, sqlite://data.db
//
// PostgreSQL URLs are passed to pgx unchanged. For other schemes the
// "scheme://" prefix is removed.
func ParseSpec(spec string) (driver, dsn string, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", "", ErrSpec.With(slog.String("reason", "empty"))
	}

	if scheme, rest, ok := strings.Cut(spec, "://"); ok {
		driver, ok := drivers[strings.ToLower(scheme)]
		if !ok {
			return "", "", ErrSpec.With(slog.String("scheme", scheme))
		}

		if driver == "pgx" {
			return driver, spec, nil
		}

		return driver, rest, nil
	}

	name, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return "", "", ErrSpec.With(
			slog.String("spec", spec),
			slog.String("reason", "want driver:dsn"),
		)
	}

	driver, ok = drivers[strings.ToLower(name)]
	if !ok {
		return "", "", ErrSpec.With(slog.String("driver", name))
	}

	if rest == "" {
		return "", "", ErrSpec.With(
			slog.String("driver", name),
			slog.String("reason", "empty dsn"),
		)
	}

	return driver, rest, nil
}

// isMemory reports whether dsn names a private in-memory sqlite database,
// which exists only as long as its one connection.
func isMemory(driver, dsn string) bool {
	if driver != sqliteDriver {
		return false
	}

	return dsn == ":memory:" ||
		strings.Contains(dsn, "mode=memory") ||
		strings.HasPrefix(dsn, "file::memory:")
}

// Rebind rewrites positional "?" placeholders as "$1", "$2", ... for drivers
// that use numbered parameters. Placeholders inside quoted strings, quoted
// identifiers and comments are left alone.
func Rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}

	var (
		b strings.Builder
		n int
	)

	b.Grow(len(query) + 8)

	for i := 0; i < len(query); i++ {
		c := query[i]

		switch {
		case c == '\'' || c == '"':
			j := skipQuoted(query, i, c)
			b.WriteString(query[i:j])
			i = j - 1

		case c == '-' && strings.HasPrefix(query[i:], "--"):
			j := strings.IndexByte(query[i:], '\n')
			if j < 0 {
				j = len(query) - i
			}

			b.WriteString(query[i : i+j])
			i += j - 1

		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			j := strings.Index(query[i+2:], "*/")
			if j < 0 {
				j = len(query) - i
			} else {
				j += 4
			}

			b.WriteString(query[i : i+j])
			i += j - 1

		case c == '?':
			n++

			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))

		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

// skipQuoted returns the index just past the quoted run starting at i. A
// doubled quote character is an escape.
func skipQuoted(s string, i int, q byte) int {
	for j := i + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}

		if j+1 < len(s) && s[j+1] == q {
			j++

			continue
		}

		return j + 1
	}

	return len(s)
}
