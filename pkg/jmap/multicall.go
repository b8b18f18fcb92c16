package jmap

// BoundResult is a result already paired with the clientId it answers.
type BoundResult struct {
	Result   Result
	ClientID string
}

// Multicall is a call object that answers several client calls at once.
// An optimizer may replace runs of logically identical calls with one
// Multicall that does the work in a single round-trip; Execute yields
// the per-call results in the original response order.
type Multicall interface {
	// CallIdent names the multicall in the request timing log.
	CallIdent() string

	// Execute produces the (result, clientId) pairs to splice into the
	// sentence collection.
	Execute(c *Context) ([]BoundResult, error)
}

// Done is the trivial Multicall: the results were computed when the
// optimizer ran, Execute just returns them.
type Done struct {
	Ident string
	Pairs []BoundResult
}

// CallIdent implements Multicall.
func (d *Done) CallIdent() string {
	return d.Ident
}

// Execute implements Multicall.
func (d *Done) Execute(*Context) ([]BoundResult, error) {
	return d.Pairs, nil
}
