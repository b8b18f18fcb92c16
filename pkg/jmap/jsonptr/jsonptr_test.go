package jsonptr

import (
	"encoding/json"
	"reflect"
	"strconv"
	"testing"
)

func mustDecode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return v
}

func TestResolve(t *testing.T) {
	doc := mustDecode(t, `{
		"list": [
			{"id": "a1", "tags": ["x", "y"]},
			{"id": "b2", "tags": ["z"]}
		],
		"created": {"c1": {"id": "g-1"}},
		"odd~key": {"sla/sh": 7},
		"n": 3
	}`)

	tests := []struct {
		name    string
		pointer string
		want    any
	}{
		{"object property", "/n", float64(3)},
		{"nested", "/created/c1/id", "g-1"},
		{"array index", "/list/1/id", "b2"},
		{"wildcard over array", "/list/*/id", []any{"a1", "b2"}},
		{"wildcard flattens one level", "/list/*/tags", []any{"x", "y", "z"}},
		{"escape tilde", "/odd~0key/sla~1sh", float64(7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(doc, tt.pointer)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.pointer, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve(%q) = %#v, want %#v", tt.pointer, got, tt.want)
			}
		})
	}
}

func TestResolveErrors(t *testing.T) {
	doc := mustDecode(t, `{"list": [{"id": "a1"}, {"nope": 1}], "n": 3}`)

	tests := []struct {
		name    string
		pointer string
	}{
		{"missing leading slash", "list/0"},
		{"empty pointer", ""},
		{"unknown property", "/missing"},
		{"index out of range", "/list/9"},
		{"dash token rejected", "/list/-"},
		{"leading zero index", "/list/01"},
		{"descend into scalar", "/n/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Resolve(doc, tt.pointer); err == nil {
				t.Errorf("Resolve(%q) succeeded, want error", tt.pointer)
			}
		})
	}
}

func TestWildcardErrorCarriesIndices(t *testing.T) {
	doc := mustDecode(t, `{"list": [{"id": "a1"}, {"nope": 1}]}`)

	_, err := Resolve(doc, "/list/*/id")
	if err == nil {
		t.Fatal("expected error for partial wildcard match")
	}
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if len(perr.Indices) != 1 || perr.Indices[0] != 1 {
		t.Errorf("Indices = %v, want [1]", perr.Indices)
	}
}

// Round-trip property: for every pointer without "*", resolving reaches the
// value the pointer was derived from.
func TestRoundTrip(t *testing.T) {
	doc := mustDecode(t, `{
		"a": {"b": [1, 2, {"c": "deep"}]},
		"empty": {},
		"arr": [[true], [false, null]]
	}`)

	var walk func(v any, pointer string)
	walk = func(v any, pointer string) {
		if pointer != "" {
			got, err := Resolve(doc, pointer)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", pointer, err)
			}
			if !reflect.DeepEqual(got, v) {
				t.Errorf("Resolve(%q) = %#v, want %#v", pointer, got, v)
			}
		}
		switch n := v.(type) {
		case map[string]any:
			for k, child := range n {
				walk(child, pointer+"/"+escape(k))
			}
		case []any:
			for i, child := range n {
				walk(child, pointer+"/"+strconv.Itoa(i))
			}
		}
	}
	walk(doc, "")
}

func escape(k string) string {
	out := make([]byte, 0, len(k))
	for i := 0; i < len(k); i++ {
		switch k[i] {
		case '~':
			out = append(out, '~', '0')
		case '/':
			out = append(out, '~', '1')
		default:
			out = append(out, k[i])
		}
	}
	return string(out)
}

func TestNestedWildcardIndicesOutermostLast(t *testing.T) {
	doc := mustDecode(t, `{"outer": [
		{"inner": [{"id": "a"}]},
		{"inner": [{"nope": 1}, {"id": "b"}]}
	]}`)

	_, err := Resolve(doc, "/outer/*/inner/*/id")
	if err == nil {
		t.Fatal("expected error for partial nested wildcard match")
	}
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	// Fails at inner element 0 of outer element 1: innermost index
	// first, outermost last.
	if !reflect.DeepEqual(perr.Indices, []int{0, 1}) {
		t.Errorf("Indices = %v, want [0 1]", perr.Indices)
	}
}
