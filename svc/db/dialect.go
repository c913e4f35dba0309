package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const (
	pgUniqueViolation = "23505"
	mysqlDupEntry     = 1062
)

type dialect struct {
	driver    string
	sqlName   string
	returning bool
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite3":
		return dialect{driver: driver, sqlName: "sqlite3", returning: true}, nil
	case "sqlite":
		return dialect{driver: driver, sqlName: "sqlite", returning: true}, nil
	case "postgres":
		return dialect{driver: driver, sqlName: "pgx", returning: true}, nil
	case "mysql":
		return dialect{driver: driver, sqlName: "mysql", returning: false}, nil
	}
	return dialect{}, errors.Errorf("unsupported driver %q", driver)
}
func (d dialect) isSQLite() bool {
	return d.driver == "sqlite3" || d.driver == "sqlite"
}

// dsn adds a per-connection busy timeout for the SQLite drivers. A PRAGMA run once
// through the pool only reaches a single connection.
func (d dialect) dsn(s string) string {
	var param string
	switch d.driver {
	case "sqlite3":
		param = "_busy_timeout=5000"
	case "sqlite":
		param = "_pragma=busy_timeout(5000)"
	default:
		return s
	}
	if strings.Contains(s, "busy_timeout") {
		return s
	}
	if strings.Contains(s, "?") {
		return s + "&" + param
	}
	return s + "?" + param
}

// rebind rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(q string) string {
	if d.driver != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
func (d dialect) createTable(table string) string {
	switch d.driver {
	case "postgres":
		return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id BIGINT PRIMARY KEY,
		content TEXT NOT NULL,
		signature TEXT NOT NULL,
		views BIGINT NOT NULL DEFAULT 0,
		timestamp BIGINT NOT NULL
	)`, table)
	case "mysql":
		return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id BIGINT PRIMARY KEY,
		content LONGTEXT NOT NULL,
		signature TEXT NOT NULL,
		views BIGINT NOT NULL DEFAULT 0,
		timestamp BIGINT NOT NULL
	)`, table)
	}
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY,
		content TEXT NOT NULL,
		signature TEXT NOT NULL,
		views INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL
	)`, table)
}

// isDuplicateKey reports whether err is a primary key or unique violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		return mattnErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			mattnErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var modernErr *sqlite.Error
	if errors.As(err, &modernErr) {
		switch modernErr.Code() {
		case sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlitelib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlitelib.SQLITE_CONSTRAINT:
			// extended codes are off on some connections
			return strings.Contains(modernErr.Error(), "UNIQUE constraint failed")
		}
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDupEntry
	}
	return false
}
