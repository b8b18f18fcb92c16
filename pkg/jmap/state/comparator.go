// Package state maintains the per-(account, type) modseq window that
// backs JMAP state strings, and compares client-supplied states against
// it.
package state

import "strconv"

// Comparison is the four-valued outcome of comparing a client-supplied
// state against the server's recorded (lowest, highest) modseq window.
type Comparison int

const (
	// InSync means the client state equals the current highest modseq;
	// there is nothing to report.
	InSync Comparison = iota

	// Okay means the client state falls inside the retained window; a
	// differential answer is possible.
	Okay

	// Resync means history before the client state has been truncated;
	// the client must refetch from scratch.
	Resync

	// Bogus means the client state is not a state this server could ever
	// have produced.
	Bogus
)

func (c Comparison) String() string {
	switch c {
	case InSync:
		return "in-sync"
	case Okay:
		return "okay"
	case Resync:
		return "resync"
	default:
		return "bogus"
	}
}

// Compare evaluates a client-supplied state string against the recorded
// window. States are decimal modseq strings; anything unparseable, and
// anything ahead of the highest modseq the server has issued, is Bogus.
func Compare(since string, lowest, highest int64) Comparison {
	n, err := strconv.ParseInt(since, 10, 64)
	if err != nil || n < 0 {
		return Bogus
	}
	switch {
	case n == highest:
		return InSync
	case n > highest:
		return Bogus
	case n < lowest:
		return Resync
	default:
		return Okay
	}
}
