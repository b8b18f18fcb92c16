package record

import (
	"fmt"

	"github.com/marmos91/jmapd/pkg/jmap/store"
)

// Registry holds every record class of a deployment. Classes are
// registered at startup and the registry frozen before it is handed to
// the method generator; it is read-only from then on.
type Registry struct {
	classes map[string]*Class
	order   []string
	frozen  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]*Class)}
}

// Register finalizes and adds a class.
func (r *Registry) Register(cl *Class) error {
	if r.frozen {
		return fmt.Errorf("registry is frozen; cannot register %s", cl.TypeKey)
	}
	if err := cl.Finalize(); err != nil {
		return err
	}
	if _, dup := r.classes[cl.TypeKey]; dup {
		return fmt.Errorf("record class %s registered twice", cl.TypeKey)
	}
	r.classes[cl.TypeKey] = cl
	r.order = append(r.order, cl.TypeKey)
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *Registry) MustRegister(cl *Class) {
	if err := r.Register(cl); err != nil {
		panic(err)
	}
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.frozen = true
}

// Class returns the class for a type key, or nil.
func (r *Registry) Class(typeKey string) *Class {
	return r.classes[typeKey]
}

// Classes returns every class in registration order.
func (r *Registry) Classes() []*Class {
	out := make([]*Class, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.classes[key])
	}
	return out
}

// FamilyTypes returns the type keys that share an account type, in
// registration order. A new account's states table is seeded with
// exactly these types.
func (r *Registry) FamilyTypes(accountType string) []string {
	var out []string
	for _, key := range r.order {
		if r.classes[key].AccountType == accountType {
			out = append(out, key)
		}
	}
	return out
}

// AccountBase returns the account-base class of a family, or nil.
func (r *Registry) AccountBase(accountType string) *Class {
	for _, key := range r.order {
		cl := r.classes[key]
		if cl.AccountType == accountType && cl.IsAccountBase {
			return cl
		}
	}
	return nil
}

// Migrate creates every class's entity table.
func (r *Registry) Migrate(conn *store.Conn) error {
	for _, key := range r.order {
		if err := conn.CreateTable(r.classes[key].TableSpec()); err != nil {
			return err
		}
	}
	return nil
}
