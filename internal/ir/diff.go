package ir

// DiffKeys returns the keys whose values differ between a and b, in
// canonical key order. A key present in only one side is a difference;
// a present nil and an absent key are not the same.
func DiffKeys(a, b Data) []string {
	union := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		union[k] = struct{}{}
	}
	for k := range b {
		union[k] = struct{}{}
	}

	var diff []string
	for _, k := range sortedKeys(union) {
		av, aok := a[k]
		bv, bok := b[k]
		if aok != bok || !Equal(av, bv) {
			diff = append(diff, k)
		}
	}
	return diff
}
