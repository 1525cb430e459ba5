package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/logs"
	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/queryir"
	"github.com/roach88/ormcore/internal/querysql"
)

// Store runs entity queries on MySQL through gorm.
type Store struct {
	db       *gorm.DB
	md       meta.Provider
	compiler *querysql.Compiler
}

type options struct {
	logger        *zap.Logger
	logLevel      glogger.LogLevel
	slowThreshold time.Duration
	maxOpenConns  int
}

// Option configures a Store.
type Option func(*options)

// WithLogger routes gorm's statement log to l.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithLogLevel sets the gorm log level (default Warn).
func WithLogLevel(level glogger.LogLevel) Option {
	return func(o *options) {
		o.logLevel = level
	}
}

// WithSlowThreshold logs statements slower than d at warn.
func WithSlowThreshold(d time.Duration) Option {
	return func(o *options) {
		o.slowThreshold = d
	}
}

// WithMaxOpenConns caps the connection pool. Zero keeps the driver default.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		o.maxOpenConns = n
	}
}

// Open connects to the MySQL server at dsn.
func Open(dsn string, md meta.Provider, opts ...Option) (*Store, error) {
	return open(mysql.New(mysql.Config{DSN: dsn}), md, opts)
}

// OpenConn wraps an existing connection pool. The server version is not
// queried.
func OpenConn(conn *sql.DB, md meta.Provider, opts ...Option) (*Store, error) {
	return open(mysql.New(mysql.Config{
		Conn:                      conn,
		SkipInitializeWithVersion: true,
	}), md, opts)
}

func open(dialector gorm.Dialector, md meta.Provider, opts []Option) (*Store, error) {
	o := options{
		logger:        zap.NewNop(),
		logLevel:      glogger.Warn,
		slowThreshold: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logs.NewGormLogger(o.logger, o.logLevel, o.slowThreshold),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if o.maxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(o.maxOpenConns)
	}

	return &Store{
		db:       db,
		md:       md,
		compiler: querysql.NewCompiler(querysql.MySQL, md),
	}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Platform implements the driver contract.
func (s *Store) Platform() meta.Platform {
	return meta.PlatformMySQL
}

// UsesPivotTable implements the driver contract.
func (s *Store) UsesPivotTable() bool {
	return true
}

// Find returns the raw data of every row matching q, in query order.
func (s *Store) Find(ctx context.Context, m *meta.EntityMeta, q queryir.Select) ([]ir.Data, error) {
	if q.From == "" {
		q.From = m.Name
	}
	sqlText, params, err := s.compiler.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile %s query: %w", m.Name, err)
	}

	rows, err := s.query(ctx, sqlText, params)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", m.Table, err)
	}

	out := make([]ir.Data, 0, len(rows))
	for _, row := range rows {
		data, err := querysql.MapRow(s.md, m, row)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// Count returns the number of rows of m matching where.
func (s *Store) Count(ctx context.Context, m *meta.EntityMeta, where queryir.Predicate) (int, error) {
	sqlText, params, err := s.compiler.CompileCount(m.Name, where)
	if err != nil {
		return 0, fmt.Errorf("compile %s count: %w", m.Name, err)
	}

	var n int64
	if err := s.db.WithContext(ctx).Raw(sqlText, params...).Row().Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", m.Table, translate(err))
	}
	return int(n), nil
}

// LoadFromPivotTable loads the targets of a many-to-many relation for a
// batch of owners, grouped by ir.KeyString(owner).
func (s *Store) LoadFromPivotTable(
	ctx context.Context,
	prop *meta.Property,
	owners [][]any,
	where queryir.Predicate,
	orderBy []queryir.Order,
) (map[string][]ir.Data, error) {
	target, err := s.md.Get(prop.Target)
	if err != nil {
		return nil, err
	}
	sqlText, params, err := s.compiler.Compile(queryir.PivotSelect{
		Property: prop,
		Owners:   owners,
		Filter:   where,
		OrderBy:  orderBy,
	})
	if err != nil {
		return nil, fmt.Errorf("compile %s pivot query: %w", prop.Name, err)
	}

	rows, err := s.query(ctx, sqlText, params)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", prop.Pivot.Table, err)
	}
	return querysql.GroupByOwner(s.md, target, prop, rows)
}

func (s *Store) query(ctx context.Context, sqlText string, params []any) ([]map[string]any, error) {
	rows, err := s.db.WithContext(ctx).Raw(sqlText, params...).Rows()
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	return querysql.ScanRows(rows)
}

// translate marks gorm's and database/sql's missing-row errors so the
// runtime reports them as not found.
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", queryir.ErrNotFound, err)
	}
	return err
}
