package jmap

import "encoding/json"

// Result is one response produced by a method handler. Handlers may
// return several results for a single call; all share the call's
// clientId.
type Result struct {
	Name string
	Args map[string]any
}

// ErrorResult renders a MethodError as a Result.
func ErrorResult(err *MethodError) Result {
	return Result{Name: "error", Args: err.Args()}
}

// Sentence is one (name, arguments, clientId) response triple.
type Sentence struct {
	Name     string
	Args     map[string]any
	ClientID string
}

// MarshalJSON encodes the sentence as a wire triple.
func (s Sentence) MarshalJSON() ([]byte, error) {
	args := s.Args
	if args == nil {
		args = map[string]any{}
	}
	return json.Marshal([]any{s.Name, args, s.ClientID})
}

// IsError reports whether this is an error sentence.
func (s Sentence) IsError() bool {
	return s.Name == "error"
}

// SentenceCollection is the ordered log of sentences accumulated during
// one request. Back-reference expansion queries it while later calls are
// still being processed.
type SentenceCollection []Sentence

// FirstByClientID returns the first sentence with the given clientId.
func (sc SentenceCollection) FirstByClientID(clientID string) (Sentence, bool) {
	for _, s := range sc {
		if s.ClientID == clientID {
			return s, true
		}
	}
	return Sentence{}, false
}

func errSentence(err *MethodError, clientID string) Sentence {
	return Sentence{Name: "error", Args: err.Args(), ClientID: clientID}
}
