package types

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/ormcore/internal/meta"
)

// UUID stores uuid.UUID values as their canonical lowercase string.
type UUID struct{}

var _ meta.CustomType = UUID{}

func (UUID) Name() string { return "uuid" }

func (UUID) ConvertToEntityValue(v any, _ meta.Platform) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		return val, nil
	case string:
		return parseUUID(val)
	case []byte:
		if len(val) == 16 {
			return uuid.FromBytes(val)
		}
		return parseUUID(string(val))
	}
	return nil, fmt.Errorf("uuid: cannot convert %T", v)
}

func (UUID) ConvertToDatabaseValue(v any, _ meta.Platform) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		return val.String(), nil
	case string:
		id, err := parseUUID(val)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	}
	return nil, fmt.Errorf("uuid: cannot convert %T", v)
}

func (UUID) EnsureComparable() bool { return false }

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("uuid: %w", err)
	}
	return id, nil
}
