package query

import (
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Dialect covers the SQL differences between supported engines.
type Dialect interface {
	Name() string
	Quote(ident string) string
	// Placeholder returns the n-th (1-based) bind marker.
	Placeholder(n int) string
	// Limit renders the LIMIT clause, or "" when limit is nil.
	Limit(limit, offset *int) string
	// Returning renders a RETURNING clause for the key column, or "" when
	// the engine reports generated keys another way.
	Returning(column string) string
	// EmptyInsert is the VALUES part of an insert without columns.
	EmptyInsert() string
}

var (
	SQLite   Dialect = sqliteDialect{}
	Postgres Dialect = postgresDialect{}
	MySQL    Dialect = mysqlDialect{}
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, bool) {
	switch driver {
	case "sqlite", "sqlite3":
		return SQLite, true
	case "postgres", "pgx":
		return Postgres, true
	case "mysql":
		return MySQL, true
	}
	return nil, false
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }
func (sqliteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
func (sqliteDialect) Placeholder(int) string  { return "?" }
func (sqliteDialect) Returning(string) string { return "" }
func (sqliteDialect) EmptyInsert() string     { return "DEFAULT VALUES" }
func (sqliteDialect) Limit(l, o *int) string  { return commaLimit(l, o) }

type postgresDialect struct{}

func (postgresDialect) Name() string              { return "postgres" }
func (postgresDialect) Quote(ident string) string { return pq.QuoteIdentifier(ident) }
func (postgresDialect) Placeholder(n int) string  { return "$" + strconv.Itoa(n) }
func (postgresDialect) EmptyInsert() string       { return "DEFAULT VALUES" }

func (d postgresDialect) Returning(column string) string {
	return " RETURNING " + d.Quote(column)
}

func (postgresDialect) Limit(limit, offset *int) string {
	if limit == nil {
		return ""
	}
	s := " LIMIT " + strconv.Itoa(*limit)
	if offset != nil {
		s += " OFFSET " + strconv.Itoa(*offset)
	}
	return s
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }
func (mysqlDialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
func (mysqlDialect) Placeholder(int) string  { return "?" }
func (mysqlDialect) Returning(string) string { return "" }
func (mysqlDialect) EmptyInsert() string     { return "() VALUES ()" }
func (mysqlDialect) Limit(l, o *int) string  { return commaLimit(l, o) }

func commaLimit(limit, offset *int) string {
	s, err := LimitClause(limit, offset)
	if err != nil || s == "" {
		return ""
	}
	return " LIMIT " + s
}

// Rebind rewrites ? markers outside quoted literals into d's placeholders.
func Rebind(d Dialect, sql string) string {
	if d.Placeholder(1) == "?" {
		return sql
	}
	var b strings.Builder
	b.Grow(len(sql) + 8)
	n := 0
	var quote rune
	for _, r := range sql {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
