package querysql

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ScanRows reads every row into a column → value map. Returns an empty
// (non-nil) slice when there are no rows.
func ScanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// MapRow converts a row keyed by column into raw entity data keyed by
// property name, ready for the factory:
//   - scalars and formulas keep their value, coerced to the declared type
//     (SQLite returns booleans as integers, MySQL text as bytes)
//   - owning to-one relations become the target key ([]any when composite,
//     nil when every column is null)
//   - flattened embeddables become `<prefix><property>` keys
//   - object embeddables are decoded from their JSON column
//
// Columns that belong to no property are dropped. Only columns present in the
// row produce keys, so partial selects yield partial data.
func MapRow(md meta.Provider, m *meta.EntityMeta, row map[string]any) (ir.Data, error) {
	data := make(ir.Data, len(row))
	for _, p := range m.HierarchyProperties() {
		switch {
		case p.Formula != "":
			if v, ok := row[p.Name]; ok {
				data[p.Name] = Coerce(p, v)
			}

		case p.Kind == meta.KindEmbedded && !p.Object:
			emb, err := md.Get(p.Embeddable)
			if err != nil {
				return nil, err
			}
			for _, ep := range emb.Properties {
				if len(ep.FieldNames) != 1 {
					continue
				}
				if v, ok := row[p.Prefix+ep.FieldNames[0]]; ok {
					data[p.Prefix+ep.Name] = Coerce(ep, v)
				}
			}

		case p.Kind == meta.KindEmbedded:
			v, ok := row[p.FieldNames[0]]
			if !ok {
				continue
			}
			obj, err := decodeObject(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", m.Name, p.Name, err)
			}
			data[p.Name] = obj

		case p.HasColumns():
			if len(p.FieldNames) == 1 {
				if v, ok := row[p.FieldNames[0]]; ok {
					data[p.Name] = Coerce(p, v)
				}
				continue
			}
			key := make([]any, 0, len(p.FieldNames))
			present, allNull := false, true
			for _, f := range p.FieldNames {
				v, ok := row[f]
				present = present || ok
				if v != nil {
					allNull = false
				}
				key = append(key, normalizeScalar(v))
			}
			if !present {
				continue
			}
			if allNull {
				data[p.Name] = nil
			} else {
				data[p.Name] = key
			}
		}
	}
	return data, nil
}

// OwnerKey extracts the owner key selected by a pivot query.
func OwnerKey(row map[string]any, n int) []any {
	key := make([]any, n)
	for i := range n {
		key[i] = normalizeScalar(row[fmt.Sprintf("%s%d", OwnerColumnPrefix, i)])
	}
	return key
}

// GroupByOwner maps pivot query rows to target data grouped by
// ir.KeyString of the owner key, keeping row order within each group.
func GroupByOwner(md meta.Provider, target *meta.EntityMeta, prop *meta.Property, rows []map[string]any) (map[string][]ir.Data, error) {
	out := make(map[string][]ir.Data)
	n := len(prop.Pivot.JoinColumns)
	for _, row := range rows {
		key, err := ir.KeyString(OwnerKey(row, n))
		if err != nil {
			return nil, fmt.Errorf("owner key: %w", err)
		}
		data, err := MapRow(md, target, row)
		if err != nil {
			return nil, err
		}
		out[key] = append(out[key], data)
	}
	return out, nil
}

// Coerce converts a raw column value to the Go form of the property's
// declared type. Unknown types and custom types pass through (bytes become
// strings); custom conversion is the hydrator's job.
func Coerce(p *meta.Property, v any) any {
	if v == nil {
		return nil
	}
	if p.CustomType != nil {
		if b, ok := v.([]byte); ok {
			return string(b)
		}
		return v
	}
	switch p.Type {
	case "bool", "boolean":
		switch val := ir.Normalize(v).(type) {
		case int64:
			return val != 0
		case bool:
			return val
		case string:
			return val == "1" || strings.EqualFold(val, "true")
		case []byte:
			return string(val) == "1" || strings.EqualFold(string(val), "true")
		}
	case "int", "integer", "bigint":
		switch val := v.(type) {
		case []byte:
			if n, err := strconv.ParseInt(string(val), 10, 64); err == nil {
				return n
			}
		case string:
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				return n
			}
		}
	case "float", "double", "decimal":
		switch val := v.(type) {
		case []byte:
			if f, err := strconv.ParseFloat(string(val), 64); err == nil {
				return f
			}
		case string:
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				return f
			}
		case int64:
			return float64(val)
		case float64:
			return val
		}
	}
	return normalizeScalar(v)
}

func normalizeScalar(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val
	}
	return ir.Normalize(v)
}

func decodeObject(v any) (any, error) {
	var raw []byte
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		raw = []byte(val)
	case []byte:
		raw = val
	case map[string]any:
		return val, nil
	default:
		return nil, fmt.Errorf("cannot decode embedded object from %T", v)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode embedded object: %w", err)
	}
	return out, nil
}
