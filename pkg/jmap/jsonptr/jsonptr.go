// Package jsonptr resolves JSON Pointers (RFC 6901) against decoded JSON
// values, with the extension used by JMAP result references (RFC 8620
// §3.7): the token "*" at an array position maps the remainder of the
// pointer over every element and flattens the results one level.
//
// Differences from plain RFC 6901:
//   - the pointer must begin with "/"; the empty pointer is rejected
//   - the "-" array token is rejected
package jsonptr

import (
	"fmt"
	"strconv"
	"strings"
)

// Error describes a pointer resolution failure. Path holds the portion of
// the pointer that was resolved before the failure; for failures inside a
// "*" expansion, Indices holds the array indices walked so far, outermost
// last.
type Error struct {
	Msg     string
	Path    string
	Indices []int
}

func (e *Error) Error() string {
	if len(e.Indices) > 0 {
		return fmt.Sprintf("%s at %q (indices %v)", e.Msg, e.Path, e.Indices)
	}
	return fmt.Sprintf("%s at %q", e.Msg, e.Path)
}

// Resolve evaluates pointer against doc and returns the referenced value.
func Resolve(doc any, pointer string) (any, error) {
	if pointer == "" || !strings.HasPrefix(pointer, "/") {
		return nil, &Error{Msg: "pointer must begin with /", Path: pointer}
	}
	tokens := strings.Split(pointer[1:], "/")
	for i, tok := range tokens {
		tokens[i] = unescape(tok)
	}
	v, err := resolve(doc, tokens, nil, nil)
	if err != nil {
		// Descent accumulates indices outermost first; the contract is
		// outermost last.
		if perr, ok := err.(*Error); ok {
			for i, j := 0, len(perr.Indices)-1; i < j; i, j = i+1, j-1 {
				perr.Indices[i], perr.Indices[j] = perr.Indices[j], perr.Indices[i]
			}
		}
		return nil, err
	}
	return v, nil
}

// unescape applies the RFC 6901 escapes: ~1 becomes /, then ~0 becomes ~.
func unescape(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	return strings.ReplaceAll(tok, "~0", "~")
}

func resolve(doc any, tokens, done []string, indices []int) (any, error) {
	if len(tokens) == 0 {
		return doc, nil
	}

	tok := tokens[0]
	rest := tokens[1:]

	switch v := doc.(type) {
	case map[string]any:
		child, ok := v[tok]
		if !ok {
			return nil, &Error{
				Msg:     fmt.Sprintf("no such property %q", tok),
				Path:    pathString(done),
				Indices: indices,
			}
		}
		return resolve(child, rest, append(done, tok), indices)

	case []any:
		if tok == "*" {
			out := make([]any, 0, len(v))
			for i, elem := range v {
				r, err := resolve(elem, rest, append(done, tok), append(indices, i))
				if err != nil {
					return nil, err
				}
				// Flatten one level: array results are spliced in.
				if arr, ok := r.([]any); ok {
					out = append(out, arr...)
				} else {
					out = append(out, r)
				}
			}
			return out, nil
		}
		if tok == "-" {
			return nil, &Error{
				Msg:     `the "-" array token is not supported`,
				Path:    pathString(done),
				Indices: indices,
			}
		}
		idx, err := parseIndex(tok)
		if err != nil {
			return nil, &Error{
				Msg:     fmt.Sprintf("invalid array index %q", tok),
				Path:    pathString(done),
				Indices: indices,
			}
		}
		if idx >= len(v) {
			return nil, &Error{
				Msg:     fmt.Sprintf("array index %d out of range (len %d)", idx, len(v)),
				Path:    pathString(done),
				Indices: indices,
			}
		}
		return resolve(v[idx], rest, append(done, tok), indices)

	default:
		return nil, &Error{
			Msg:     fmt.Sprintf("cannot descend into %T with token %q", doc, tok),
			Path:    pathString(done),
			Indices: indices,
		}
	}
}

// parseIndex parses an RFC 6901 array index: a non-negative decimal with
// no leading zeros (except "0" itself).
func parseIndex(tok string) (int, error) {
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, fmt.Errorf("malformed index")
	}
	idx, err := strconv.Atoi(tok)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("malformed index")
	}
	return idx, nil
}

func pathString(done []string) string {
	return "/" + strings.Join(done, "/")
}
