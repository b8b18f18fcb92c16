package record

import (
	"fmt"

	"github.com/marmos91/jmapd/pkg/jmap"
	"github.com/marmos91/jmapd/pkg/jmap/store"
)

// Method names a generated handler the class publishes.
type Method string

const (
	MethodGet          Method = "get"
	MethodSet          Method = "set"
	MethodChanges      Method = "changes"
	MethodQuery        Method = "query"
	MethodQueryChanges Method = "queryChanges"
)

// reservedProperties are the change-tracking columns every table
// carries; classes cannot redeclare them.
var reservedProperties = map[string]bool{
	"id":            true,
	"accountId":     true,
	"modSeqCreated": true,
	"modSeqChanged": true,
	"dateDestroyed": true,
	"isActive":      true,
	"created":       true,
}

// Class declares one record type: its table, properties, unique
// constraints, query surface, and hooks. The generated handlers for the
// published methods are derived entirely from this declaration.
type Class struct {
	// TypeKey is the wire type name, e.g. "CookieJar". It prefixes the
	// published method names (CookieJar/get) and keys the states table.
	TypeKey string

	// AccountType groups the classes that share a state family. Every
	// class of one family hangs off the same account-base type.
	AccountType string

	// IsAccountBase marks the family's root class: creating one of its
	// records creates an account, and the record's own accountId is its
	// id.
	IsAccountBase bool

	// Table is the entity table name.
	Table string

	Properties []Property

	// Unique lists property-name tuples that must be unique among live
	// records. Destroyed records never block reuse.
	Unique [][]string

	// Methods lists the handlers to publish. Empty publishes get, set
	// and changes, plus query and queryChanges when the class declares
	// filters or sorts.
	Methods []Method

	// Filters and Sorts define the /query surface. A class with neither
	// rejects query methods.
	Filters map[string]Filter
	Sorts   map[string]Sort

	// QueryJoins lists raw JOIN clauses applied to every /query and
	// /queryChanges select, for filters that reach into other tables.
	QueryJoins []string

	// ExtraGetArgs names additional /get arguments the class accepts;
	// the GetQuery hook consumes them.
	ExtraGetArgs []string

	// DefaultGetProperties is the property set /get returns when the
	// client passes no properties argument. Empty means all.
	DefaultGetProperties []string

	// PublishedMethods are extra handlers registered verbatim under
	// their full method names.
	PublishedMethods map[string]jmap.Handler

	Hooks Hooks

	props map[string]*Property
}

// Finalize validates the declaration and builds the lookup tables. The
// registry calls it on Register.
func (cl *Class) Finalize() error {
	if cl.TypeKey == "" || cl.AccountType == "" || cl.Table == "" {
		return fmt.Errorf("record class needs TypeKey, AccountType and Table (got %q, %q, %q)",
			cl.TypeKey, cl.AccountType, cl.Table)
	}

	cl.props = make(map[string]*Property, len(cl.Properties))
	for i := range cl.Properties {
		p := &cl.Properties[i]
		if p.Name == "" {
			return fmt.Errorf("class %s: property with empty name", cl.TypeKey)
		}
		if reservedProperties[p.Name] {
			return fmt.Errorf("class %s: property %q is reserved", cl.TypeKey, p.Name)
		}
		if _, dup := cl.props[p.Name]; dup {
			return fmt.Errorf("class %s: duplicate property %q", cl.TypeKey, p.Name)
		}
		if p.Virtual && p.Compute == nil {
			return fmt.Errorf("class %s: virtual property %q has no Compute", cl.TypeKey, p.Name)
		}
		cl.props[p.Name] = p
	}

	for _, tuple := range cl.Unique {
		for _, name := range tuple {
			p, ok := cl.props[name]
			if !ok {
				return fmt.Errorf("class %s: unique tuple names unknown property %q", cl.TypeKey, name)
			}
			if p.Virtual {
				return fmt.Errorf("class %s: unique tuple names virtual property %q", cl.TypeKey, name)
			}
		}
	}

	for _, name := range cl.DefaultGetProperties {
		if name == "id" {
			continue
		}
		if _, ok := cl.props[name]; !ok {
			return fmt.Errorf("class %s: default get property %q is unknown", cl.TypeKey, name)
		}
	}

	if len(cl.Methods) == 0 {
		cl.Methods = []Method{MethodGet, MethodSet, MethodChanges}
		if cl.QueryEnabled() {
			cl.Methods = append(cl.Methods, MethodQuery, MethodQueryChanges)
		}
	}

	return nil
}

// Property returns the declared property by name, or nil.
func (cl *Class) Property(name string) *Property {
	return cl.props[name]
}

// PropertyNames returns the declared property names in declaration
// order.
func (cl *Class) PropertyNames() []string {
	names := make([]string, 0, len(cl.Properties))
	for i := range cl.Properties {
		names = append(names, cl.Properties[i].Name)
	}
	return names
}

// QueryEnabled reports whether the class has a /query surface.
func (cl *Class) QueryEnabled() bool {
	return len(cl.Filters) > 0 || len(cl.Sorts) > 0
}

// Publishes reports whether the class publishes the given method.
func (cl *Class) Publishes(m Method) bool {
	for _, have := range cl.Methods {
		if have == m {
			return true
		}
	}
	return false
}

// MayCreate reports whether the property may appear in a create. System
// contexts may set any persisted property.
func (cl *Class) MayCreate(p *Property, isSystem bool) bool {
	if p.Virtual {
		return false
	}
	if p.ClientMayInit {
		return true
	}
	return isSystem && !p.Immutable
}

// MayUpdate reports whether the property may appear in an update.
func (cl *Class) MayUpdate(p *Property, isSystem bool) bool {
	if p.Virtual || p.Immutable {
		return false
	}
	if p.ClientMayUpdate {
		return true
	}
	return isSystem
}

// TableSpec renders the class as DDL input: the mandatory
// change-tracking columns plus one column per persisted property, and
// the unique tuples prefixed with is_active so destroyed rows never
// block identifier reuse.
func (cl *Class) TableSpec() store.TableSpec {
	spec := store.TableSpec{
		Name:    cl.Table,
		Columns: store.MandatoryColumns(),
	}
	for i := range cl.Properties {
		p := &cl.Properties[i]
		if p.Virtual {
			continue
		}
		spec.Columns = append(spec.Columns, store.Column{
			Name: ColumnFor(p.Name),
			Type: p.Type.columnType(),
		})
	}
	for _, tuple := range cl.Unique {
		cols := make([]string, 0, len(tuple)+1)
		cols = append(cols, "is_active")
		for _, name := range tuple {
			cols = append(cols, ColumnFor(name))
		}
		spec.Unique = append(spec.Unique, cols)
	}
	return spec
}
