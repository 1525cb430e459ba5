// Package meta holds the type descriptors the runtime core consumes.
//
// Descriptors are plain data: an EntityMeta per entity or embeddable type
// and a Property per declared property. They are built once (by hand in
// tests, by the CUE compiler otherwise), added to a Registry and finalized.
// Finalize resolves inheritance, discriminator values, owning sides and
// storage names; after it returns, descriptors are shared read-only by every
// session.
//
// Property classification:
//
//	Kind       Owner   Class
//	scalar     -       scalar
//	embedded   -       embedded
//	m:1        true    to-one-owning
//	1:1        true    to-one-owning
//	1:1        false   to-one-inverse
//	1:m        false   to-many-inverse
//	m:n        true    to-many-owning
//	m:n        false   to-many-inverse
//
// Storage names default to gorm's naming strategy: snake_case columns,
// pluralized snake_case tables, `<prop>_<pk>` foreign keys and
// `<owner>_<prop>` join tables.
package meta
