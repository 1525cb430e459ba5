// Package gormstore is the MySQL query facade.
//
// Queries are compiled by querysql with the MySQL dialect and executed as
// raw statements through gorm (gorm.io/driver/mysql), so gorm contributes
// connection management, context handling and statement logging (routed to
// zap through logs.GormLogger) while the SQL stays identical to what the
// compiler tests pin down. Rows are mapped back to raw entity data exactly
// as in the SQLite store.
//
// OpenConn accepts an existing *sql.DB; tests use it with an SQLite
// connection, which understands the backtick quoting of the MySQL dialect.
package gormstore
