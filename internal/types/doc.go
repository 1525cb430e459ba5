// Package types provides the built-in custom types: conversions between a
// property's in-memory value and its stored form.
//
//	uuid     uuid.UUID   ⇄ canonical string
//	json     any         ⇄ canonical JSON text (documents on Mongo)
//	boolint  bool        ⇄ 0/1 integer
//
// Descriptors name a type by string; Lookup resolves it.
package types
