// Package record defines the declarative record-class DSL: an entity
// table's properties, hooks, and query maps, from which the engine
// generates the standard JMAP method handlers.
package record

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/marmos91/jmapd/pkg/jmap"
	"github.com/marmos91/jmapd/pkg/jmap/store"
)

// DataType enumerates the property data types a record class can
// declare.
type DataType int

const (
	TypeString DataType = iota
	TypeIString
	TypeTimestamp
	TypeStringList
	TypeBoolean
	TypeInteger
	TypeID
)

func (t DataType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeIString:
		return "istring"
	case TypeTimestamp:
		return "timestamp"
	case TypeStringList:
		return "string[]"
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeID:
		return "id"
	default:
		return "unknown"
	}
}

func (t DataType) columnType() store.ColumnType {
	switch t {
	case TypeIString:
		return store.ColumnCIText
	case TypeTimestamp:
		return store.ColumnTimestamp
	case TypeStringList:
		return store.ColumnTextList
	case TypeBoolean:
		return store.ColumnBoolean
	case TypeInteger:
		return store.ColumnInteger
	case TypeID:
		return store.ColumnID
	default:
		return store.ColumnText
	}
}

// Validator checks a client-supplied value and returns a description of
// what is wrong with it, or nil.
type Validator func(v any) error

// Property declares one client-visible property of a record class.
type Property struct {
	Name string
	Type DataType

	// Optional properties may be null or absent on create.
	Optional bool

	// ClientMayInit allows the property in /set create arguments.
	ClientMayInit bool

	// ClientMayUpdate allows the property in /set update arguments.
	ClientMayUpdate bool

	// Immutable properties cannot change after create.
	Immutable bool

	// Virtual properties are not persisted; Compute fills them on read.
	Virtual bool

	Validate Validator

	// Default supplies a value when the client omits the property on
	// create.
	Default func(c *jmap.Context) any

	// Compute produces a virtual property's value from the stored row.
	Compute func(c *jmap.Context, row map[string]any) any
}

// Coerce converts a wire value into its storage representation and
// checks its JSON shape against the declared type.
func (p *Property) Coerce(v any) (any, error) {
	if v == nil {
		if !p.Optional {
			return nil, fmt.Errorf("property %q may not be null", p.Name)
		}
		return nil, nil
	}

	switch p.Type {
	case TypeString, TypeIString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("property %q must be a string", p.Name)
		}
		return s, nil

	case TypeID:
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("property %q must be a non-empty id string", p.Name)
		}
		return s, nil

	case TypeTimestamp:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("property %q must be an RFC 3339 timestamp string", p.Name)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return nil, fmt.Errorf("property %q is not a valid timestamp", p.Name)
		}
		return s, nil

	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("property %q must be a boolean", p.Name)
		}
		return b, nil

	case TypeInteger:
		f, ok := v.(float64)
		if ok {
			if f != float64(int64(f)) {
				return nil, fmt.Errorf("property %q must be an integer", p.Name)
			}
			return int64(f), nil
		}
		if n, ok := v.(int64); ok {
			return n, nil
		}
		if n, ok := v.(int); ok {
			return int64(n), nil
		}
		return nil, fmt.Errorf("property %q must be an integer", p.Name)

	case TypeStringList:
		arr, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("property %q must be an array of strings", p.Name)
		}
		list := make([]string, 0, len(arr))
		for _, e := range arr {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("property %q must be an array of strings", p.Name)
			}
			list = append(list, s)
		}
		// Stored as JSON text; portable across both backends.
		encoded, err := json.Marshal(list)
		if err != nil {
			return nil, fmt.Errorf("property %q could not be encoded", p.Name)
		}
		return string(encoded), nil

	default:
		return nil, fmt.Errorf("property %q has an unknown type", p.Name)
	}
}

// Decode converts a storage value back into its wire representation.
func (p *Property) Decode(v any) any {
	if v == nil {
		return nil
	}
	switch p.Type {
	case TypeStringList:
		s, ok := v.(string)
		if !ok {
			if b, ok := v.([]byte); ok {
				s = string(b)
			} else {
				return v
			}
		}
		var list []any
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return []any{}
		}
		return list
	case TypeBoolean:
		// SQLite hands booleans back as integers.
		switch n := v.(type) {
		case bool:
			return n
		case int64:
			return n != 0
		case float64:
			return n != 0
		}
		return v
	case TypeInteger:
		switch n := v.(type) {
		case int64:
			return n
		case float64:
			return int64(n)
		}
		return v
	case TypeTimestamp:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
		return v
	default:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
		return v
	}
}

// ColumnFor maps a camelCase property name to its snake_case column.
func ColumnFor(property string) string {
	var b strings.Builder
	for i, r := range property {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
