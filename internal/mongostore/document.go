package mongostore

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
	"github.com/roach88/ormcore/internal/querysql"
)

// ToData converts a decoded document into raw entity data keyed by property
// name. Only fields present in the document produce keys.
func ToData(md meta.Provider, m *meta.EntityMeta, doc bson.M) (ir.Data, error) {
	data := make(ir.Data, len(doc))
	for _, p := range m.HierarchyProperties() {
		switch {
		case p.Kind == meta.KindEmbedded && !p.Object:
			emb, err := md.Get(p.Embeddable)
			if err != nil {
				return nil, err
			}
			for _, ep := range emb.Properties {
				if len(ep.FieldNames) != 1 {
					continue
				}
				if v, ok := doc[p.Prefix+ep.FieldNames[0]]; ok {
					data[p.Prefix+ep.Name] = querysql.Coerce(ep, FromBSON(v))
				}
			}

		case p.Kind == meta.KindEmbedded:
			if v, ok := doc[p.FieldNames[0]]; ok {
				data[p.Name] = FromBSON(v)
			}

		case p.Kind == meta.KindManyToMany && p.Owner:
			v, ok := doc[p.Name]
			if !ok {
				continue
			}
			items, ok := FromBSON(v).([]any)
			if v != nil && !ok {
				return nil, fmt.Errorf("%s.%s: expected an array, got %T", m.Name, p.Name, v)
			}
			data[p.Name] = items

		case p.IsToOne() && p.Owner:
			fields := Fields(m, p)
			values := make([]any, 0, len(fields))
			present, allNull := false, true
			for _, f := range fields {
				v, ok := doc[f]
				present = present || ok
				v = FromBSON(v)
				allNull = allNull && v == nil
				values = append(values, v)
			}
			switch {
			case !present:
			case allNull:
				data[p.Name] = nil
			case len(values) == 1:
				data[p.Name] = values[0]
			default:
				data[p.Name] = values
			}

		case p.Kind == meta.KindScalar:
			fields := Fields(m, p)
			if len(fields) != 1 {
				continue
			}
			if v, ok := doc[fields[0]]; ok {
				data[p.Name] = querysql.Coerce(p, FromBSON(v))
			}
		}
	}
	return data, nil
}

// FromBSON converts decoded bson values into the plain forms the runtime
// works with: int64, float64, string, bool, time.Time, []any and
// map[string]any.
func FromBSON(v any) any {
	switch val := v.(type) {
	case nil, bson.Null, bson.Undefined:
		return nil
	case int32:
		return int64(val)
	case bson.DateTime:
		return val.Time().UTC()
	case time.Time:
		return val.UTC()
	case bson.ObjectID:
		return val.Hex()
	case bson.Decimal128:
		return val.String()
	case bson.Binary:
		return val.Data
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = FromBSON(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = FromBSON(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = FromBSON(e)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = FromBSON(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = FromBSON(e)
		}
		return out
	}
	return ir.Normalize(v)
}
