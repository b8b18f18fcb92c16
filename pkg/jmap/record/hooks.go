package record

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/marmos91/jmapd/pkg/jmap"
)

// SetError is a per-record /set failure. It lands in the response's
// notCreated / notUpdated / notDestroyed map instead of failing the
// whole call.
type SetError struct {
	Type        string
	Description string
	Properties  []string

	// Invalid maps property names to what is wrong with them; rendered
	// as the invalidProperties field.
	Invalid map[string]string
}

func (e *SetError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Description)
	}
	return e.Type
}

// Wire renders the error as response-map arguments.
func (e *SetError) Wire() map[string]any {
	out := map[string]any{"type": e.Type}
	if e.Description != "" {
		out["description"] = e.Description
	}
	if len(e.Properties) > 0 {
		props := make([]any, 0, len(e.Properties))
		for _, p := range e.Properties {
			props = append(props, p)
		}
		out["properties"] = props
	}
	if len(e.Invalid) > 0 {
		invalid := make(map[string]any, len(e.Invalid))
		for k, v := range e.Invalid {
			invalid[k] = v
		}
		out["invalidProperties"] = invalid
	}
	return out
}

// InvalidPropertyMapError rejects one record with a per-property error
// map. Validation collects every property's first error before
// failing.
func InvalidPropertyMapError(invalid map[string]string) *SetError {
	return &SetError{Type: "invalidProperties", Invalid: invalid}
}

// NotFoundError is the standard per-record failure for an update or
// destroy aimed at an id that does not exist (or is already destroyed).
func NotFoundError() *SetError {
	return &SetError{Type: "notFound"}
}

// InvalidPropertiesSetError rejects one record with the offending
// property names.
func InvalidPropertiesSetError(description string, properties ...string) *SetError {
	return &SetError{Type: "invalidProperties", Description: description, Properties: properties}
}

// ForbiddenSetError rejects one record on permission grounds.
func ForbiddenSetError(description string) *SetError {
	return &SetError{Type: "forbidden", Description: description}
}

// Hooks are the per-class extension points the generated /set handler
// threads its phases through. Every hook is optional.
//
// Check hooks run before the write and may veto it: returning a
// *SetError fails only that record; any other error aborts the call.
// The in-transaction hooks (Created, Updated, Destroyed) run after the
// write, still inside the record's savepoint. The Post hooks are queued
// on the request context and run only after the outer transaction
// commits.
type Hooks struct {
	// GetQuery narrows the /get select, typically from the class's
	// extra get arguments.
	GetQuery func(c *jmap.Context, args map[string]any, q *gorm.DB) (*gorm.DB, error)

	// SetCheck vetoes the whole /set call before any record is touched.
	SetCheck func(c *jmap.Context, args map[string]any) error

	// CreateCheck may veto or amend one create's coerced column map.
	CreateCheck func(c *jmap.Context, cols map[string]any) error

	// CreateError translates a storage error from the insert (typically
	// a uniqueness violation) into a per-record failure. Returning nil
	// keeps the original error.
	CreateError func(c *jmap.Context, cols map[string]any, err error) *SetError

	// Created runs after a successful insert.
	Created func(c *jmap.Context, id string, row map[string]any) error

	// UpdateCheck may veto one update; row is the stored row before the
	// change, cols the coerced column changes.
	UpdateCheck func(c *jmap.Context, row map[string]any, cols map[string]any) error

	// Updated runs after a successful update; old is the stored row
	// before the change, updated the row with the change applied.
	Updated func(c *jmap.Context, id string, old, updated map[string]any) error

	// DestroyCheck may veto one destroy.
	DestroyCheck func(c *jmap.Context, row map[string]any) error

	// Destroyed runs after a successful logical destroy.
	Destroyed func(c *jmap.Context, id string, row map[string]any) error

	// Post hooks run after the outer transaction commits, in request
	// order. They must not touch the (closed) transaction.
	PostCreate  func(c *jmap.Context, id string)
	PostUpdate  func(c *jmap.Context, id string)
	PostDestroy func(c *jmap.Context, id string)
}
