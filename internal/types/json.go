package types

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON stores arbitrary values as JSON text on SQL platforms and as native
// documents on Mongo. The database form is canonical JSON, so snapshots of
// equal documents compare equal whatever key order the row had. Entity
// values are always encoded as given: a Go string is a JSON string, even
// when its text happens to be valid JSON.
type JSON struct{}

var _ meta.CustomType = JSON{}

func (JSON) Name() string { return "json" }

func (JSON) ConvertToEntityValue(v any, _ meta.Platform) (any, error) {
	var raw []byte
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		raw = []byte(val)
	case []byte:
		raw = val
	default:
		return ir.Normalize(val), nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return ir.Normalize(out), nil
}

func (JSON) ConvertToDatabaseValue(v any, p meta.Platform) (any, error) {
	if v == nil {
		return nil, nil
	}
	if p == meta.PlatformMongo {
		return ir.Normalize(v), nil
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return string(b), nil
}

func (JSON) EnsureComparable() bool { return true }
