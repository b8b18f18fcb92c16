package jmap

import "fmt"

// MethodError is a client-visible method-level failure, rendered as an
// "error" sentence with a type field and any extra properties. Handlers
// return it to abort the current call; the dispatcher's per-call loop is
// the single place it is caught.
type MethodError struct {
	Type  string
	Props map[string]any
}

func (e *MethodError) Error() string {
	if desc, ok := e.Props["description"].(string); ok {
		return fmt.Sprintf("%s: %s", e.Type, desc)
	}
	return e.Type
}

// Args renders the error as sentence arguments.
func (e *MethodError) Args() map[string]any {
	args := make(map[string]any, len(e.Props)+1)
	args["type"] = e.Type
	for k, v := range e.Props {
		args[k] = v
	}
	return args
}

// Errors with no extra properties. Treated as immutable.
var (
	ErrUnknownMethod          = &MethodError{Type: "unknownMethod"}
	ErrForbidden              = &MethodError{Type: "forbidden"}
	ErrDuplicateCreationID    = &MethodError{Type: "duplicateCreationId"}
	ErrTooManyMethods         = &MethodError{Type: "tooManyMethods"}
	ErrCannotCalculateChanges = &MethodError{Type: "cannotCalculateChanges"}
	ErrTooManyChanges         = &MethodError{Type: "tooManyChanges"}
	ErrStateMismatch          = &MethodError{Type: "stateMismatch"}
)

// ResultReferenceError describes a malformed, dangling, or unresolvable
// back-reference.
func ResultReferenceError(description string) *MethodError {
	return &MethodError{
		Type:  "resultReference",
		Props: map[string]any{"description": description},
	}
}

// TryAgainError tells the client to retry a request that lost a state-row
// race with a concurrent request.
func TryAgainError(description string) *MethodError {
	return &MethodError{
		Type:  "tryAgain",
		Props: map[string]any{"description": description},
	}
}

// InvalidArgumentsError rejects a call whose argument shape is wrong.
func InvalidArgumentsError(description string) *MethodError {
	return &MethodError{
		Type:  "invalidArguments",
		Props: map[string]any{"description": description},
	}
}

// InvalidArgumentsMap rejects a call with a per-argument error map.
func InvalidArgumentsMap(invalid map[string]any) *MethodError {
	return &MethodError{
		Type:  "invalidArguments",
		Props: map[string]any{"invalidArguments": invalid},
	}
}

// InvalidPropertiesError rejects one record of a /set with a per-property
// error map.
func InvalidPropertiesError(invalid map[string]any) *MethodError {
	return &MethodError{
		Type:  "invalidProperties",
		Props: map[string]any{"invalidProperties": invalid},
	}
}

// InternalError is the only client-visible trace of a server-side
// failure; guid correlates with an out-of-band exception report.
func InternalError(guid string) *MethodError {
	return &MethodError{
		Type:  "internalError",
		Props: map[string]any{"guid": guid},
	}
}
