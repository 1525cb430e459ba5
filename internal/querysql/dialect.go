package querysql

import (
	"strings"

	"github.com/roach88/ormcore/internal/meta"
)

// Dialect captures the differences between the SQL backends. All dialects
// use `?` placeholders.
type Dialect struct {
	Name     string
	Platform meta.Platform

	quote byte
	// noLimit is the LIMIT used when only OFFSET is requested.
	noLimit string
}

var (
	// SQLite quotes identifiers with double quotes.
	SQLite = Dialect{Name: "sqlite", Platform: meta.PlatformSQLite, quote: '"', noLimit: "-1"}

	// MySQL quotes identifiers with backticks. SQLite accepts those too,
	// which lets the MySQL facade run its tests on an SQLite connection.
	MySQL = Dialect{Name: "mysql", Platform: meta.PlatformMySQL, quote: '`', noLimit: "18446744073709551615"}
)

// Quote quotes an identifier, doubling embedded quote characters.
func (d Dialect) Quote(ident string) string {
	q := string(d.quote)
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// Column renders a possibly qualified column reference.
func (d Dialect) Column(alias, column string) string {
	if alias == "" {
		return d.Quote(column)
	}
	return d.Quote(alias) + "." + d.Quote(column)
}
