package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/queryir"
	"github.com/roach88/ormcore/internal/querysql"
)

// Find returns the raw data of every row matching q, in query order.
// Returns an empty (non-nil) slice when nothing matches.
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

	var n int
	start := time.Now()
	if err := s.db.QueryRowContext(ctx, sqlText, params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", m.Table, err)
	}
	s.logger.Debug("count", zap.String("sql", sqlText), zap.Duration("elapsed", time.Since(start)))
	return n, nil
}

// LoadFromPivotTable loads the targets of a many-to-many relation for a
// batch of owners. The result maps ir.KeyString(owner) to the owner's items
// in query order; owners without items are absent.
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
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := querysql.ScanRows(rows)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("query",
		zap.String("sql", sqlText),
		zap.Int("rows", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}
