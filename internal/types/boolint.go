package types

import (
	"fmt"

	"github.com/roach88/ormcore/internal/ir"
	"github.com/roach88/ormcore/internal/meta"
)

// BoolInt stores booleans as 0/1 integers.
type BoolInt struct{}

var _ meta.CustomType = BoolInt{}

func (BoolInt) Name() string { return "boolint" }

func (BoolInt) ConvertToEntityValue(v any, _ meta.Platform) (any, error) {
	switch val := ir.Normalize(v).(type) {
	case nil:
		return nil, nil
	case bool:
		return val, nil
	case int64:
		return val != 0, nil
	case string:
		switch val {
		case "0", "false":
			return false, nil
		case "1", "true":
			return true, nil
		}
	}
	return nil, fmt.Errorf("boolint: cannot convert %v", v)
}

func (BoolInt) ConvertToDatabaseValue(v any, _ meta.Platform) (any, error) {
	switch val := ir.Normalize(v).(type) {
	case nil:
		return nil, nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case int64:
		if val != 0 {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, fmt.Errorf("boolint: cannot convert %T", v)
}

func (BoolInt) EnsureComparable() bool { return false }
