package querysql

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/queryir"
)

const (
	entityAlias = "e"
	pivotAlias  = "p"

	// OwnerColumnPrefix prefixes the owner key columns selected by pivot
	// queries ("__owner_0", "__owner_1", ...).
	OwnerColumnPrefix = "__owner_"
)

// Compiler compiles queryir queries to parameterized SQL.
//
// Every query has an ORDER BY ending in the primary key columns, so results
// are deterministic. Values are always parameters, never interpolated.
type Compiler struct {
	Dialect  Dialect
	Metadata meta.Provider
}

// NewCompiler creates a compiler for one dialect.
func NewCompiler(d Dialect, md meta.Provider) *Compiler {
	return &Compiler{Dialect: d, Metadata: md}
}

// Compile converts a query into (sql, params).
func (c *Compiler) Compile(q queryir.Query) (string, []any, error) {
	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	case queryir.PivotSelect:
		return c.compilePivot(query)
	case *queryir.PivotSelect:
		return c.compilePivot(*query)
	case nil:
		return "", nil, fmt.Errorf("cannot compile nil query")
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// CompileCount compiles a COUNT(*) over the rows of from matching where.
func (c *Compiler) CompileCount(from string, where queryir.Predicate) (string, []any, error) {
	m, err := c.Metadata.Get(from)
	if err != nil {
		return "", nil, err
	}
	whereSQL, params, err := c.whereClause(m, "", where)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", c.Dialect.Quote(m.Table), whereSQL), params, nil
}

func (c *Compiler) compileSelect(q queryir.Select) (string, []any, error) {
	m, err := c.Metadata.Get(q.From)
	if err != nil {
		return "", nil, err
	}

	cols, err := c.selectColumns(m, "")
	if err != nil {
		return "", nil, err
	}

	whereSQL, params, err := c.whereClause(m, "", q.Filter)
	if err != nil {
		return "", nil, err
	}

	orderSQL, err := c.orderBy(m, "", q.OrderBy)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		strings.Join(cols, ", "),
		c.Dialect.Quote(m.Table),
		whereSQL,
		orderSQL)

	switch {
	case q.Limit > 0:
		sql += " LIMIT ?"
		params = append(params, q.Limit)
		if q.Offset > 0 {
			sql += " OFFSET ?"
			params = append(params, q.Offset)
		}
	case q.Offset > 0:
		sql += " LIMIT " + c.Dialect.noLimit + " OFFSET ?"
		params = append(params, q.Offset)
	}

	return sql, params, nil
}

// compilePivot joins the target table with the join table:
//
//	SELECT e.<cols>, p.<join> AS __owner_0 FROM <target> e
//	JOIN <pivot> p ON p.<inverse> = e.<pk>
//	WHERE p.<join> IN (?...) [AND <filter>]
//	ORDER BY <order>, e.<pk>
func (c *Compiler) compilePivot(q queryir.PivotSelect) (string, []any, error) {
	prop := q.Property
	if prop == nil || prop.Kind != meta.KindManyToMany || prop.Pivot == nil {
		return "", nil, fmt.Errorf("pivot query needs a many-to-many relation with a join table")
	}
	if len(q.Owners) == 0 {
		return "", nil, fmt.Errorf("pivot query without owners")
	}
	target, err := c.Metadata.Get(prop.Target)
	if err != nil {
		return "", nil, err
	}
	pivot := prop.Pivot
	pks := target.PrimaryProperties()
	if len(pivot.InverseJoinColumns) != len(pks) {
		return "", nil, fmt.Errorf("join table %s: %d inverse columns for %d key columns",
			pivot.Table, len(pivot.InverseJoinColumns), len(pks))
	}

	cols, err := c.selectColumns(target, entityAlias)
	if err != nil {
		return "", nil, err
	}
	for i, jc := range pivot.JoinColumns {
		cols = append(cols, fmt.Sprintf("%s AS %s",
			c.Dialect.Column(pivotAlias, jc), c.Dialect.Quote(fmt.Sprintf("%s%d", OwnerColumnPrefix, i))))
	}

	var on []string
	for i, ic := range pivot.InverseJoinColumns {
		on = append(on, fmt.Sprintf("%s = %s",
			c.Dialect.Column(pivotAlias, ic), c.Dialect.Column(entityAlias, pks[i].FieldNames[0])))
	}

	ownerSQL, params, err := c.keyMatch(pivotAlias, pivot.JoinColumns, q.Owners)
	if err != nil {
		return "", nil, err
	}
	conds := []string{ownerSQL}

	if q.Filter != nil {
		filterSQL, filterParams, err := c.predicate(target, entityAlias, q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		conds = append(conds, filterSQL)
		params = append(params, filterParams...)
	}
	if discSQL, discParams := c.discriminator(target, entityAlias); discSQL != "" {
		conds = append(conds, discSQL)
		params = append(params, discParams...)
	}

	orderSQL, err := c.orderBy(target, entityAlias, q.OrderBy)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s AS %s JOIN %s AS %s ON %s WHERE %s ORDER BY %s",
		strings.Join(cols, ", "),
		c.Dialect.Quote(target.Table), c.Dialect.Quote(entityAlias),
		c.Dialect.Quote(pivot.Table), c.Dialect.Quote(pivotAlias),
		strings.Join(on, " AND "),
		strings.Join(conds, " AND "),
		orderSQL)
	return sql, params, nil
}

// selectColumns lists the columns of every type in m's hierarchy: a
// single-table row may belong to any subtype. Formulas are selected under
// their property name.
func (c *Compiler) selectColumns(m *meta.EntityMeta, alias string) ([]string, error) {
	var cols []string
	seen := map[string]bool{}
	add := func(col string) {
		if !seen[col] {
			seen[col] = true
			cols = append(cols, col)
		}
	}
	for _, p := range m.HierarchyProperties() {
		switch {
		case p.Formula != "":
			add(fmt.Sprintf("(%s) AS %s", qualifyFormula(p.Formula, alias), c.Dialect.Quote(p.Name)))
		case p.Kind == meta.KindEmbedded && !p.Object:
			emb, err := c.Metadata.Get(p.Embeddable)
			if err != nil {
				return nil, err
			}
			for _, ep := range emb.Properties {
				for _, f := range ep.FieldNames {
					add(c.Dialect.Column(alias, p.Prefix+f))
				}
			}
		case p.HasColumns() || p.Kind == meta.KindEmbedded:
			for _, f := range p.FieldNames {
				add(c.Dialect.Column(alias, f))
			}
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%s has no stored columns", m.Name)
	}
	return cols, nil
}

// qualifyFormula substitutes the `alias` placeholder in formula text, e.g.
// "length(alias.title)".
func qualifyFormula(formula, alias string) string {
	if alias == "" {
		return strings.ReplaceAll(formula, "alias.", "")
	}
	return strings.ReplaceAll(formula, "alias.", alias+".")
}

func (c *Compiler) whereClause(m *meta.EntityMeta, alias string, filter queryir.Predicate) (string, []any, error) {
	var conds []string
	var params []any
	if filter != nil {
		sql, p, err := c.predicate(m, alias, filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		conds = append(conds, sql)
		params = append(params, p...)
	}
	if sql, p := c.discriminator(m, alias); sql != "" {
		conds = append(conds, sql)
		params = append(params, p...)
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), params, nil
}

// discriminator restricts a subtype of a single-table hierarchy to its own
// discriminator values. Roots read every row.
func (c *Compiler) discriminator(m *meta.EntityMeta, alias string) (string, []any) {
	root := m.RootMeta()
	if root == m || root.DiscriminatorColumn == "" {
		return "", nil
	}
	values := m.DiscriminatorValues()
	col := root.Property(root.DiscriminatorColumn).FieldNames[0]
	if len(values) == 0 {
		return "1 = 0", nil
	}
	params := make([]any, len(values))
	for i, v := range values {
		params[i] = v
	}
	return fmt.Sprintf("%s IN (%s)", c.Dialect.Column(alias, col), placeholders(len(values))), params
}

func (c *Compiler) orderBy(m *meta.EntityMeta, alias string, order []queryir.Order) (string, error) {
	var parts []string
	used := map[string]bool{}
	for _, o := range order {
		p := m.Property(o.Field)
		if p == nil {
			return "", fmt.Errorf("order by unknown property %s.%s", m.Name, o.Field)
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		if p.Formula != "" {
			parts = append(parts, fmt.Sprintf("(%s) %s", qualifyFormula(p.Formula, alias), dir))
			continue
		}
		if !p.HasColumns() {
			return "", fmt.Errorf("cannot order by %s.%s", m.Name, o.Field)
		}
		for _, f := range p.FieldNames {
			parts = append(parts, c.Dialect.Column(alias, f)+" "+dir)
			used[f] = true
		}
	}
	// primary key tiebreaker
	for _, pk := range m.PrimaryProperties() {
		for _, f := range pk.FieldNames {
			if !used[f] {
				parts = append(parts, c.Dialect.Column(alias, f)+" ASC")
			}
		}
	}
	return strings.Join(parts, ", "), nil
}

func (c *Compiler) predicate(m *meta.EntityMeta, alias string, p queryir.Predicate) (string, []any, error) {
	switch pred := queryir.Deref(p).(type) {
	case queryir.Equals:
		prop, cols, err := c.fieldColumns(m, alias, pred.Field)
		if err != nil {
			return "", nil, err
		}
		if pred.Value == nil {
			return nullCheck(cols, false), nil, nil
		}
		values, err := c.keyValues(prop, pred.Value, len(cols))
		if err != nil {
			return "", nil, err
		}
		return equalsAll(cols), values, nil

	case queryir.In:
		prop, cols, err := c.fieldColumns(m, alias, pred.Field)
		if err != nil {
			return "", nil, err
		}
		if len(pred.Values) == 0 {
			return "1 = 0", nil, nil
		}
		if len(cols) == 1 {
			params := make([]any, 0, len(pred.Values))
			for _, v := range pred.Values {
				vs, err := c.keyValues(prop, v, 1)
				if err != nil {
					return "", nil, err
				}
				params = append(params, vs...)
			}
			return fmt.Sprintf("%s IN (%s)", cols[0], placeholders(len(params))), params, nil
		}
		var ors []string
		var params []any
		for _, v := range pred.Values {
			vs, err := c.keyValues(prop, v, len(cols))
			if err != nil {
				return "", nil, err
			}
			ors = append(ors, "("+equalsAll(cols)+")")
			params = append(params, vs...)
		}
		return "(" + strings.Join(ors, " OR ") + ")", params, nil

	case queryir.IsNull:
		_, cols, err := c.fieldColumns(m, alias, pred.Field)
		if err != nil {
			return "", nil, err
		}
		return nullCheck(cols, pred.Not), nil, nil

	case queryir.And:
		return c.junction(m, alias, pred.Predicates, " AND ", "1 = 1")

	case queryir.Or:
		return c.junction(m, alias, pred.Predicates, " OR ", "1 = 0")

	case nil:
		return "1 = 1", nil, nil
	}
	return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
}

func (c *Compiler) junction(m *meta.EntityMeta, alias string, preds []queryir.Predicate, sep, empty string) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}
	var parts []string
	var params []any
	for _, sub := range preds {
		sql, p, err := c.predicate(m, alias, sub)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	if len(parts) == 1 {
		return parts[0], params, nil
	}
	return "(" + strings.Join(parts, sep) + ")", params, nil
}

// fieldColumns resolves a property to its (qualified) column expressions.
func (c *Compiler) fieldColumns(m *meta.EntityMeta, alias, field string) (*meta.Property, []string, error) {
	p := m.Property(field)
	if p == nil {
		return nil, nil, fmt.Errorf("%s has no property %q", m.Name, field)
	}
	if p.Formula != "" {
		return p, []string{"(" + qualifyFormula(p.Formula, alias) + ")"}, nil
	}
	if !p.HasColumns() || len(p.FieldNames) == 0 {
		return nil, nil, fmt.Errorf("%s.%s is not stored on %s", m.Name, field, m.Name)
	}
	cols := make([]string, len(p.FieldNames))
	for i, f := range p.FieldNames {
		cols[i] = c.Dialect.Column(alias, f)
	}
	return p, cols, nil
}

// keyValues turns a predicate value into n parameters. Composite values are
// []any in key order; custom types convert to their database form.
func (c *Compiler) keyValues(p *meta.Property, v any, n int) ([]any, error) {
	var parts []any
	if tuple, ok := v.([]any); ok {
		parts = tuple
	} else {
		parts = []any{v}
	}
	if len(parts) != n {
		return nil, fmt.Errorf("%s: %d values for %d columns", p.Name, len(parts), n)
	}
	out := make([]any, n)
	for i, part := range parts {
		if p.CustomType != nil && part != nil {
			conv, err := p.CustomType.ConvertToDatabaseValue(part, c.Dialect.Platform)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p.Name, err)
			}
			part = conv
		}
		param, err := toParam(part)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		out[i] = param
	}
	return out, nil
}

// keyMatch matches rows whose columns equal one of the given keys.
func (c *Compiler) keyMatch(alias string, columns []string, keys [][]any) (string, []any, error) {
	cols := make([]string, len(columns))
	for i, col := range columns {
		cols[i] = c.Dialect.Column(alias, col)
	}
	var params []any
	if len(cols) == 1 {
		for _, k := range keys {
			if len(k) != 1 {
				return "", nil, fmt.Errorf("key %v does not match %d columns", k, len(cols))
			}
			v, err := toParam(k[0])
			if err != nil {
				return "", nil, err
			}
			params = append(params, v)
		}
		return fmt.Sprintf("%s IN (%s)", cols[0], placeholders(len(keys))), params, nil
	}
	var ors []string
	for _, k := range keys {
		if len(k) != len(cols) {
			return "", nil, fmt.Errorf("key %v does not match %d columns", k, len(cols))
		}
		for _, part := range k {
			v, err := toParam(part)
			if err != nil {
				return "", nil, err
			}
			params = append(params, v)
		}
		ors = append(ors, "("+equalsAll(cols)+")")
	}
	return "(" + strings.Join(ors, " OR ") + ")", params, nil
}

// toParam converts a value into something database/sql accepts.
func toParam(v any) (any, error) {
	switch val := ir.Normalize(v).(type) {
	case nil, string, int64, float64, bool, []byte, time.Time:
		return val, nil
	case map[string]any, []any:
		return nil, fmt.Errorf("%T cannot be used as SQL parameter directly", v)
	default:
		if s, ok := v.(fmt.Stringer); ok {
			return s.String(), nil
		}
		return v, nil
	}
}

func equalsAll(cols []string) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col + " = ?"
	}
	return strings.Join(parts, " AND ")
}

func nullCheck(cols []string, not bool) string {
	op := " IS NULL"
	if not {
		op = " IS NOT NULL"
	}
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col + op
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
