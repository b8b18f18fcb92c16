package jmap

import (
	"encoding/json"
	"fmt"
)

// Call is one parsed method call triple:
// ["Method/name", {arguments}, "clientId"].
type Call struct {
	Method   string
	Args     map[string]any
	ClientID string

	// HasClientID distinguishes an empty clientId from a missing one.
	// Missing ids are rejected unless the engine synthesizes them.
	HasClientID bool
}

// UnmarshalJSON decodes a wire call triple. A two-element form (without
// clientId) is accepted at this layer; the dispatcher decides whether to
// synthesize an id or reject the call.
func (c *Call) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("method call is not an array: %w", err)
	}
	if len(parts) != 2 && len(parts) != 3 {
		return fmt.Errorf("method call has %d elements, want 2 or 3", len(parts))
	}

	if err := json.Unmarshal(parts[0], &c.Method); err != nil {
		return fmt.Errorf("method name is not a string: %w", err)
	}
	if err := json.Unmarshal(parts[1], &c.Args); err != nil {
		return fmt.Errorf("method arguments are not an object: %w", err)
	}
	if len(parts) == 3 {
		if err := json.Unmarshal(parts[2], &c.ClientID); err != nil {
			return fmt.Errorf("clientId is not a string: %w", err)
		}
		c.HasClientID = true
	}
	return nil
}

// MarshalJSON encodes the triple back to its wire form.
func (c Call) MarshalJSON() ([]byte, error) {
	args := c.Args
	if args == nil {
		args = map[string]any{}
	}
	return json.Marshal([]any{c.Method, args, c.ClientID})
}
