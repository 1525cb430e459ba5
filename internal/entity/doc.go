// Package entity is the runtime core: it turns raw row and document data
// into live, identity-tracked entities and keeps the graph consistent while
// relations are traversed and changed.
//
// COMPONENTS:
//
//	Runtime      shared per process: metadata, compiled hydration plans
//	Session      per unit of work: driver, identity map, factory
//	Factory      Create, CreateReference, MergeData
//	Collection   to-many holder: lazy Init, dirty/snapshot tracking
//	Reference    to-one holder: lazy Load
//
// An Entity is a value map keyed by property name. Scalars hold Go values,
// to-one relations hold a *Reference, to-many relations a *Collection and
// embeddables a nested *Entity. A missing key is "not loaded"; a nil value
// is null.
//
// HYDRATION PLANS:
//
// The first hydration of a type compiles one step per property (primary key
// properties only in reference mode) and caches the plan on the Runtime. Plans
// are never invalidated: registries are immutable once finalized.
//
// IDENTITY:
//
// Entities are identified by "Root:key" where Root is the inheritance root,
// so a Dog and an Animal with the same key are the same instance. Within one
// session, two payloads with the same key always yield the same *Entity.
//
// PROPAGATION:
//
// Changing one side of a bidirectional relation updates the other side in
// memory, without queries and only where the other side is already loaded.
// Every propagation step checks the current state first, so repeating it is
// a no-op.
//
// CONCURRENCY:
//
// A Runtime is safe for concurrent use by many sessions. Sessions, entities,
// collections and references are not; the only blocking calls are the lazy
// loads (Collection.Init, Reference.Load, the Session finders), and
// concurrent identical loads share one query.
package entity
