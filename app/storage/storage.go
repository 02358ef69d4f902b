// Package storage reads labeled messages from sql databases.
// The database is accessed through engine.SQL, a wrapper around sqlx.DB aware of the database type.
// Queries are built with squirrel, dialect-specific DDL is picked from engine.QueryMap.
package storage

import (
	"regexp"
	"strings"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdent checks the name can be used as a table or column name without quoting
func validIdent(name string) bool {
	return identRe.MatchString(name)
}

// quote makes a quoted identifier, valid for both sqlite and postgres
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
