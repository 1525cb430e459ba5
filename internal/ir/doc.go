// Package ir provides the plain-data representation shared by the ORM core.
//
// Raw rows and documents travel through the core as Data (property name →
// value). This package owns the rules that make such data comparable:
//
//   - Equal and DiffKeys compare values after numeric normalization, so an
//     int64 read from SQLite equals an int decoded from YAML.
//   - MarshalCanonical renders values as RFC 8785 canonical JSON with NFC
//     normalized strings; identity keys and golden traces are built from it.
//   - IdentityKey turns primary key values into the string used by identity
//     maps, scoped by the inheritance root.
//
// ir imports nothing internal.
package ir
