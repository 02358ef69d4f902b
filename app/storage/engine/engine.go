// Package engine wraps sqlx.DB with the type of the database behind it, so callers can
// pick dialect-specific queries. Sqlite (modernc.org/sqlite) and postgres (lib/pq) are supported.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-pkgz/fileutils"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver loaded here
	_ "modernc.org/sqlite" // sqlite driver loaded here
)

// Type is a type of database engine
type Type string

// enum of supported database engines
const (
	Unknown  Type = ""
	Sqlite   Type = "sqlite"
	Postgres Type = "postgres"
)

// SQL is a wrapper for sqlx.DB with type.
// Type allows distinguishing between different database engines.
type SQL struct {
	sqlx.DB
	dbType Type // type of the database engine
}

// New opens an existing database by connection url. Postgres urls start with postgres:// or postgresql://,
// everything else is a sqlite file, optionally prefixed with file:, file:// or sqlite://.
// Sqlite file must exist, New never creates an empty database.
func New(ctx context.Context, connURL string) (*SQL, error) {
	if connURL == "" {
		return nil, errors.New("connection URL is empty")
	}

	if strings.HasPrefix(connURL, "postgres://") || strings.HasPrefix(connURL, "postgresql://") {
		return NewPostgres(ctx, connURL)
	}

	file := connURL
	for _, prefix := range []string{"sqlite://", "file://", "file:"} {
		if strings.HasPrefix(file, prefix) {
			file = strings.TrimPrefix(file, prefix)
			break
		}
	}
	if strings.Contains(file, "://") {
		return nil, fmt.Errorf("unsupported database type in %q", connURL)
	}
	if file != ":memory:" && !fileutils.IsFile(file) {
		return nil, fmt.Errorf("database file %s not found", file)
	}
	return NewSqlite(file)
}

// NewSqlite opens sqlite database, the file is created if missing
func NewSqlite(file string) (*SQL, error) {
	db, err := sqlx.Connect("sqlite", file)
	if err != nil {
		return &SQL{}, err
	}
	if err := setSqlitePragma(db); err != nil {
		return &SQL{}, err
	}
	return &SQL{DB: *db, dbType: Sqlite}, nil
}

// NewPostgres connects to postgres database, the database must exist
func NewPostgres(ctx context.Context, connURL string) (*SQL, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection url: %w", err)
	}
	if strings.TrimPrefix(u.Path, "/") == "" {
		return nil, errors.New("database name not specified")
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", connURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &SQL{DB: *db, dbType: Postgres}, nil
}

// Type returns the database engine type
func (e *SQL) Type() Type {
	return e.dbType
}

// Adopt converts "?" placeholders to the database dialect, $1, $2... for postgres.
// Question marks inside single-quoted literals are kept.
func (e *SQL) Adopt(q string) string {
	if e.dbType != Postgres {
		return q
	}
	var b strings.Builder
	n, inQuote := 0, false
	for _, r := range q {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case r == '?' && !inQuote:
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TableExists checks if the table is present in the database
func (e *SQL) TableExists(ctx context.Context, table string) (bool, error) {
	q, err := engineQueries.Pick(e.dbType, CmdTableExists)
	if err != nil {
		return false, err
	}
	var count int
	if err := e.GetContext(ctx, &count, e.Adopt(q), table); err != nil {
		return false, fmt.Errorf("failed to check for %s table existence: %w", table, err)
	}
	return count > 0, nil
}

func setSqlitePragma(db *sqlx.DB) error {
	pragmas := map[string]string{
		"busy_timeout": "5000",
	}

	for name, value := range pragmas {
		if _, err := db.Exec("PRAGMA " + name + " = " + value); err != nil {
			return err
		}
	}
	return nil
}
