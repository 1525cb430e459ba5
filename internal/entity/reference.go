package entity

import (
	"context"

	"github.com/roach88/ormcore/internal/meta"
)

// Reference holds the target of a to-one relation. The target is always an
// instance; it is either a key-only reference (unloaded) or initialized.
type Reference struct {
	entity *Entity
	owner  *Entity
	prop   *meta.Property
}

// NewReference wraps e without an owning relation.
func NewReference(e *Entity) *Reference {
	return &Reference{entity: e}
}

// Unwrap returns the target instance, loaded or not. A nil Reference
// unwraps to nil.
func (r *Reference) Unwrap() *Entity {
	if r == nil {
		return nil
	}
	return r.entity
}

// IsInitialized reports whether the target is loaded.
func (r *Reference) IsInitialized() bool {
	return r != nil && r.entity != nil && r.entity.initialized
}

// PrimaryKey returns the target key in storage form.
func (r *Reference) PrimaryKey() []any {
	if r.Unwrap() == nil {
		return nil
	}
	return r.entity.PrimaryKey()
}

// Entity returns the target when it is loaded.
func (r *Reference) Entity() (*Entity, error) {
	if !r.IsInitialized() {
		return nil, newError(CodeNotLoaded, r.entityName(), "", "reference %s is not loaded", r.label())
	}
	return r.entity, nil
}

// Load initializes the target through the owner's session and returns it.
// Repeated calls after a successful load do not query. A failed load leaves
// the reference unloaded.
func (r *Reference) Load(ctx context.Context) (*Entity, error) {
	if r.Unwrap() == nil {
		return nil, nil
	}
	if r.entity.initialized {
		return r.entity, nil
	}
	s := r.entity.Session()
	if s == nil && r.owner != nil {
		s = r.owner.Session()
	}
	if s == nil {
		return nil, noSession(r.entityName(), "", "loading a reference")
	}

	key, err := r.entity.IdentityKey()
	if err != nil {
		return nil, invalidInput(r.entityName(), "", "reference has no complete key")
	}
	_, err, _ = s.loads.Do("load:"+key, func() (any, error) {
		if r.entity.initialized {
			return nil, nil
		}
		return nil, s.load(ctx, r.entity)
	})
	if err != nil {
		if CodeOf(err) != "" {
			return nil, err
		}
		return nil, lazyLoadFailed(r.entityName(), r.propName(), err)
	}
	return r.entity, nil
}

// LoadProperty loads the target and returns one of its values.
func (r *Reference) LoadProperty(ctx context.Context, name string) (any, error) {
	e, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	if e.meta.Property(name) == nil {
		return nil, invalidInput(e.meta.Name, name, "unknown property")
	}
	return e.Value(name), nil
}

// Set retargets the reference and propagates to the other side of the
// relation. target may be an entity, a reference or a bare key.
func (r *Reference) Set(target any) error {
	if r.owner == nil || r.prop == nil {
		e, ok := unwrap(target)
		if !ok {
			return invalidInput(r.entityName(), "", "detached reference needs an entity, got %T", target)
		}
		r.entity = e
		return nil
	}
	return r.owner.Set(r.prop.Name, target)
}

// Owner returns the entity holding the reference, or nil.
func (r *Reference) Owner() *Entity {
	return r.owner
}

// Property returns the relation descriptor, or nil for detached references.
func (r *Reference) Property() *meta.Property {
	return r.prop
}

func (r *Reference) entityName() string {
	if r.Unwrap() == nil {
		return ""
	}
	return r.entity.meta.Name
}

func (r *Reference) propName() string {
	if r.prop == nil {
		return ""
	}
	return r.prop.Name
}

func (r *Reference) label() string {
	if r.Unwrap() == nil {
		return "<nil>"
	}
	return keyLabel(r.entity)
}
