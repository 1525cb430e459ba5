package mongostore

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/queryir"
)

const idField = "_id"

// matchNothing is the filter of an empty In or Or.
var matchNothing = bson.D{{Key: idField, Value: bson.D{{Key: "$in", Value: bson.A{}}}}}

// Fields returns the document fields storing p, or nil when p is not stored
// on its entity's documents.
func Fields(m *meta.EntityMeta, p *meta.Property) []string {
	if p.Primary && !m.CompositePK() {
		return []string{idField}
	}
	switch {
	case p.Formula != "":
		return nil
	case p.Kind == meta.KindManyToMany && p.Owner:
		return []string{p.Name}
	case p.HasColumns(), p.Kind == meta.KindEmbedded && p.Object:
		return p.FieldNames
	}
	return nil
}

// Filter compiles a predicate over m, adding the discriminator restriction
// of single-table subtypes. A nil predicate matches every document of m.
func Filter(m *meta.EntityMeta, pred queryir.Predicate) (bson.D, error) {
	var conds []bson.D
	if pred != nil {
		f, err := compilePredicate(m, pred)
		if err != nil {
			return nil, err
		}
		conds = append(conds, f)
	}
	if d := discriminator(m); d != nil {
		conds = append(conds, d)
	}
	switch len(conds) {
	case 0:
		return bson.D{}, nil
	case 1:
		return conds[0], nil
	}
	return bson.D{{Key: "$and", Value: toArray(conds)}}, nil
}

// Sort returns the sort document for order, ending with the primary key.
func Sort(m *meta.EntityMeta, order []queryir.Order) (bson.D, error) {
	var out bson.D
	used := map[string]bool{}
	for _, o := range order {
		p := m.Property(o.Field)
		if p == nil {
			return nil, fmt.Errorf("order by unknown property %s.%s", m.Name, o.Field)
		}
		fields := Fields(m, p)
		if len(fields) == 0 || p.IsToMany() {
			return nil, fmt.Errorf("cannot order by %s.%s", m.Name, o.Field)
		}
		dir := 1
		if o.Desc {
			dir = -1
		}
		for _, f := range fields {
			out = append(out, bson.E{Key: f, Value: dir})
			used[f] = true
		}
	}
	for _, pk := range m.PrimaryProperties() {
		for _, f := range Fields(m, pk) {
			if !used[f] {
				out = append(out, bson.E{Key: f, Value: 1})
			}
		}
	}
	return out, nil
}

func compilePredicate(m *meta.EntityMeta, pred queryir.Predicate) (bson.D, error) {
	switch p := queryir.Deref(pred).(type) {
	case queryir.Equals:
		prop, fields, err := fieldsOf(m, p.Field)
		if err != nil {
			return nil, err
		}
		if p.Value == nil {
			return nullMatch(fields, false), nil
		}
		values, err := keyValues(prop, p.Value, len(fields))
		if err != nil {
			return nil, err
		}
		out := make(bson.D, len(fields))
		for i, f := range fields {
			out[i] = bson.E{Key: f, Value: values[i]}
		}
		return out, nil

	case queryir.In:
		prop, fields, err := fieldsOf(m, p.Field)
		if err != nil {
			return nil, err
		}
		if len(p.Values) == 0 {
			return matchNothing, nil
		}
		if len(fields) == 1 {
			arr := make(bson.A, 0, len(p.Values))
			for _, v := range p.Values {
				values, err := keyValues(prop, v, 1)
				if err != nil {
					return nil, err
				}
				arr = append(arr, values[0])
			}
			return bson.D{{Key: fields[0], Value: bson.D{{Key: "$in", Value: arr}}}}, nil
		}
		ors := make([]bson.D, 0, len(p.Values))
		for _, v := range p.Values {
			eq, err := compilePredicate(m, queryir.Equals{Field: p.Field, Value: v})
			if err != nil {
				return nil, err
			}
			ors = append(ors, eq)
		}
		return bson.D{{Key: "$or", Value: toArray(ors)}}, nil

	case queryir.IsNull:
		_, fields, err := fieldsOf(m, p.Field)
		if err != nil {
			return nil, err
		}
		return nullMatch(fields, p.Not), nil

	case queryir.And:
		if len(p.Predicates) == 0 {
			return bson.D{}, nil
		}
		return junction(m, "$and", p.Predicates)

	case queryir.Or:
		if len(p.Predicates) == 0 {
			return matchNothing, nil
		}
		return junction(m, "$or", p.Predicates)
	}
	return nil, fmt.Errorf("unsupported predicate %T", pred)
}

func junction(m *meta.EntityMeta, op string, preds []queryir.Predicate) (bson.D, error) {
	if len(preds) == 1 {
		return compilePredicate(m, preds[0])
	}
	parts := make([]bson.D, 0, len(preds))
	for _, sub := range preds {
		d, err := compilePredicate(m, sub)
		if err != nil {
			return nil, err
		}
		parts = append(parts, d)
	}
	return bson.D{{Key: op, Value: toArray(parts)}}, nil
}

func fieldsOf(m *meta.EntityMeta, field string) (*meta.Property, []string, error) {
	p := m.Property(field)
	if p == nil {
		return nil, nil, fmt.Errorf("unknown property %s.%s", m.Name, field)
	}
	if p.Formula != "" {
		return nil, nil, fmt.Errorf("formula property %s.%s cannot be queried on mongo", m.Name, field)
	}
	fields := Fields(m, p)
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("%s.%s is not stored on %s", m.Name, field, m.Name)
	}
	return p, fields, nil
}

// keyValues splits v into n document values. Owning many-to-many fields
// hold target keys, so equality on them is array membership.
func keyValues(p *meta.Property, v any, n int) ([]any, error) {
	parts := []any{v}
	if tuple, ok := v.([]any); ok && (n > 1 || len(tuple) == 1) {
		parts = tuple
	}
	if len(parts) != n {
		return nil, fmt.Errorf("%s: %d values for %d fields", p.Name, len(parts), n)
	}
	out := make([]any, n)
	for i, part := range parts {
		if p.CustomType != nil && part != nil {
			conv, err := p.CustomType.ConvertToDatabaseValue(part, meta.PlatformMongo)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p.Name, err)
			}
			part = conv
		}
		out[i] = ir.Normalize(part)
	}
	return out, nil
}

func nullMatch(fields []string, not bool) bson.D {
	out := make(bson.D, len(fields))
	for i, f := range fields {
		if not {
			out[i] = bson.E{Key: f, Value: bson.D{{Key: "$ne", Value: nil}}}
		} else {
			out[i] = bson.E{Key: f, Value: nil}
		}
	}
	return out
}

func discriminator(m *meta.EntityMeta) bson.D {
	root := m.RootMeta()
	if root == m || root.DiscriminatorColumn == "" {
		return nil
	}
	values := m.DiscriminatorValues()
	if len(values) == 0 {
		return matchNothing
	}
	arr := make(bson.A, len(values))
	for i, v := range values {
		arr[i] = v
	}
	field := root.Property(root.DiscriminatorColumn).FieldNames[0]
	return bson.D{{Key: field, Value: bson.D{{Key: "$in", Value: arr}}}}
}

func toArray(docs []bson.D) bson.A {
	out := make(bson.A, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out
}
