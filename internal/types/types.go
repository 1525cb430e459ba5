package types

import (
	"fmt"
	"sort"

	"github.com/roach88/ormcore/internal/meta"
)

var builtin = map[string]meta.CustomType{
	"uuid":    UUID{},
	"json":    JSON{},
	"boolint": BoolInt{},
}

// Lookup returns the custom type registered under name.
func Lookup(name string) (meta.CustomType, bool) {
	t, ok := builtin[name]
	return t, ok
}

// MustLookup is Lookup for fixtures; it panics on unknown names.
func MustLookup(name string) meta.CustomType {
	t, ok := Lookup(name)
	if !ok {
		panic(fmt.Sprintf("unknown custom type %q", name))
	}
	return t
}

// Names returns the registered type names, sorted.
func Names() []string {
	out := make([]string, 0, len(builtin))
	for name := range builtin {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
