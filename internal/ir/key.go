package ir

import "fmt"

// KeyString renders primary key values as canonical JSON. A single value is
// rendered as a scalar, a composite key as an array.
//
// Returns an error when any component is nil: partial keys never identify
// an entity.
func KeyString(key []any) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("empty key")
	}
	for i, part := range key {
		if part == nil {
			return "", fmt.Errorf("key component %d is null", i)
		}
	}

	var v any = key
	if len(key) == 1 {
		v = key[0]
	}
	b, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal key: %w", err)
	}
	return string(b), nil
}

// IdentityKey returns the identity map key for an entity of the given
// inheritance root: "Root:key".
func IdentityKey(root string, key []any) (string, error) {
	ks, err := KeyString(key)
	if err != nil {
		return "", err
	}
	return root + ":" + ks, nil
}

// UniqueKey returns the identity map key for a unique-key lookup:
// "Root[prop1,prop2]:values".
func UniqueKey(root string, props []string, values []any) (string, error) {
	ks, err := KeyString(values)
	if err != nil {
		return "", err
	}
	names, err := MarshalCanonical(props)
	if err != nil {
		return "", err
	}
	return root + string(names) + ":" + ks, nil
}
