package methods

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/jmapd/pkg/jmap"
	"github.com/marmos91/jmapd/pkg/jmap/record"
	"github.com/marmos91/jmapd/pkg/jmap/state"
	"github.com/marmos91/jmapd/pkg/jmap/store"
)

func cookieClass() *record.Class {
	return &record.Class{
		TypeKey:     "Cookie",
		AccountType: "pantry",
		Table:       "cookies",
		Properties: []record.Property{
			{Name: "type", Type: record.TypeString, ClientMayInit: true, ClientMayUpdate: true},
			{Name: "delicious", Type: record.TypeString, Optional: true, ClientMayInit: true, ClientMayUpdate: true},
			{Name: "batch", Type: record.TypeID, Optional: true, ClientMayInit: true},
		},
		Filters: map[string]record.Filter{"type": record.PropertyFilter("type")},
		Sorts:   map[string]record.Sort{"type": record.PropertySort("type")},
	}
}

func jarClass() *record.Class {
	return &record.Class{
		TypeKey:       "CookieJar",
		AccountType:   "pantry",
		IsAccountBase: true,
		Table:         "cookie_jars",
		Properties: []record.Property{
			{Name: "name", Type: record.TypeIString, ClientMayInit: true, ClientMayUpdate: true, Validate: record.NonEmpty()},
		},
		Unique: [][]string{{"name"}},
	}
}

func newTestEngine(t *testing.T, classes ...*record.Class) *jmap.Engine {
	t.Helper()
	conn, err := store.Open(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)

	reg := record.NewRegistry()
	for _, cl := range classes {
		require.NoError(t, reg.Register(cl))
	}
	eng, err := NewEngine(conn, reg)
	require.NoError(t, err)
	return eng
}

func run(t *testing.T, eng *jmap.Engine, account string, calls []jmap.Call) jmap.SentenceCollection {
	t.Helper()
	c := eng.NewContext(context.Background())
	c.AccountID = account
	out, err := eng.Execute(c, calls)
	require.NoError(t, err)
	return out
}

func call(method string, args map[string]any, clientID string) jmap.Call {
	return jmap.Call{Method: method, Args: args, ClientID: clientID, HasClientID: true}
}

func sentenceFor(t *testing.T, out jmap.SentenceCollection, clientID string) jmap.Sentence {
	t.Helper()
	s, ok := out.FirstByClientID(clientID)
	require.True(t, ok, "no sentence for clientId %q", clientID)
	return s
}

func TestCreateThenBackRefRead(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/set", map[string]any{
			"create": map[string]any{
				"c1": map[string]any{"type": "chocolate", "delicious": "yes"},
			},
		}, "a"),
		call("Cookie/get", map[string]any{
			"#ids": map[string]any{
				"resultOf": "a",
				"name":     "Cookie/set",
				"path":     "/created/c1/id",
			},
		}, "b"),
	})
	require.Len(t, out, 2)

	a := sentenceFor(t, out, "a")
	require.Equal(t, "Cookie/set", a.Name)
	assert.Equal(t, "0", a.Args["oldState"])
	assert.Equal(t, "1", a.Args["newState"])
	created := a.Args["created"].(map[string]any)
	id := created["c1"].(map[string]any)["id"].(string)
	require.NotEmpty(t, id)

	b := sentenceFor(t, out, "b")
	require.Equal(t, "Cookie/get", b.Name)
	assert.Equal(t, "1", b.Args["state"])
	list := b.Args["list"].([]any)
	require.Len(t, list, 1)
	rec := list[0].(map[string]any)
	assert.Equal(t, id, rec["id"])
	assert.Equal(t, "chocolate", rec["type"])
	assert.Equal(t, "yes", rec["delicious"])
}

func TestDuplicateCreationID(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	cookie := map[string]any{"type": "chocolate", "delicious": "yes"}
	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/set", map[string]any{"create": map[string]any{"c1": cookie}}, "a"),
		call("Cookie/set", map[string]any{"create": map[string]any{"c1": cookie}}, "b"),
		call("Cookie/get", map[string]any{
			"#ids": map[string]any{"resultOf": "a", "name": "Cookie/set", "path": "/created/c1/id"},
		}, "c"),
		call("Cookie/get", map[string]any{"ids": []any{"#c1"}}, "d"),
	})
	require.Len(t, out, 4)

	a := sentenceFor(t, out, "a")
	b := sentenceFor(t, out, "b")
	require.Equal(t, "Cookie/set", a.Name)
	require.Equal(t, "Cookie/set", b.Name)
	idA := a.Args["created"].(map[string]any)["c1"].(map[string]any)["id"].(string)
	idB := b.Args["created"].(map[string]any)["c1"].(map[string]any)["id"].(string)
	assert.NotEqual(t, idA, idB, "both creates are performed")

	// The back-reference resolves against sentence a, not the log.
	c := sentenceFor(t, out, "c")
	require.Equal(t, "Cookie/get", c.Name)
	assert.Equal(t, idA, c.Args["list"].([]any)[0].(map[string]any)["id"])

	// A creation-id lookup hits the duplicate sentinel and fails.
	d := sentenceFor(t, out, "d")
	require.True(t, d.IsError())
	assert.Equal(t, "duplicateCreationId", d.Args["type"])
}

func TestUnknownMethod(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	out := run(t, eng, "acc-1", []jmap.Call{call("Nope/nope", map[string]any{}, "a")})
	require.Len(t, out, 1)
	assert.True(t, out[0].IsError())
	assert.Equal(t, "unknownMethod", out[0].Args["type"])
	assert.Equal(t, "a", out[0].ClientID)
}

func TestMalformedBackRef(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/get", map[string]any{
			"#ids": map[string]any{"resultOf": "x", "name": "Cookie/set"},
		}, "a"),
	})
	require.Len(t, out, 1)
	assert.True(t, out[0].IsError())
	assert.Equal(t, "resultReference", out[0].Args["type"])
	assert.Equal(t, "malformed ResultReference", out[0].Args["description"])
}

func TestDanglingBackRef(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/get", map[string]any{
			"#ids": map[string]any{"resultOf": "nope", "name": "Cookie/set", "path": "/created"},
		}, "a"),
	})
	require.Len(t, out, 1)
	assert.True(t, out[0].IsError())
	assert.Equal(t, "resultReference", out[0].Args["type"])
}

func TestChangesResync(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	// History below modseq 100 has been truncated.
	require.NoError(t, eng.Conn().DB().Create(&state.Row{
		AccountID: "acc-1", Type: "Cookie", LowestModSeq: 100, HighestModSeq: 200,
	}).Error)

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/changes", map[string]any{"sinceState": "50"}, "a"),
	})
	require.Len(t, out, 1)
	assert.True(t, out[0].IsError())
	assert.Equal(t, "cannotCalculateChanges", out[0].Args["type"])
}

func TestChangesBogusState(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/changes", map[string]any{"sinceState": "not-a-state"}, "a"),
	})
	require.True(t, out[0].IsError())
	assert.Equal(t, "invalidArguments", out[0].Args["type"])
}

func TestIfInStateMismatch(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/set", map[string]any{
			"create": map[string]any{"c1": map[string]any{"type": "oatmeal"}},
		}, "a"),
	})

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/set", map[string]any{
			"ifInState": "999",
			"create":    map[string]any{"c2": map[string]any{"type": "ginger"}},
		}, "a"),
		call("Cookie/get", map[string]any{}, "b"),
	})

	a := sentenceFor(t, out, "a")
	require.True(t, a.IsError())
	assert.Equal(t, "stateMismatch", a.Args["type"])

	// No mutation happened; state and row count are untouched.
	b := sentenceFor(t, out, "b")
	assert.Equal(t, "1", b.Args["state"])
	assert.Len(t, b.Args["list"].([]any), 1)
}

func TestNoopSetIsIdempotent(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/set", map[string]any{}, "a"),
	})
	a := sentenceFor(t, out, "a")
	require.Equal(t, "Cookie/set", a.Name)
	assert.Equal(t, a.Args["oldState"], a.Args["newState"])

	var row state.Row
	err := eng.Conn().DB().Where("account_id = ? AND type = ?", "acc-1", "Cookie").First(&row).Error
	assert.Error(t, err, "no state row should exist after a no-op set")
}

func TestSingleBumpPerRequest(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/set", map[string]any{
			"create": map[string]any{"c1": map[string]any{"type": "chocolate"}},
		}, "a"),
		call("Cookie/set", map[string]any{
			"create": map[string]any{"c2": map[string]any{"type": "oatmeal"}},
		}, "b"),
	})

	a := sentenceFor(t, out, "a")
	b := sentenceFor(t, out, "b")
	assert.Equal(t, "0", a.Args["oldState"])
	assert.Equal(t, "1", a.Args["newState"])
	assert.Equal(t, "1", b.Args["oldState"])
	assert.Equal(t, "1", b.Args["newState"])

	var row state.Row
	require.NoError(t, eng.Conn().DB().
		Where("account_id = ? AND type = ?", "acc-1", "Cookie").First(&row).Error)
	assert.Equal(t, int64(1), row.HighestModSeq, "two sets in one request bump once")

	// Every row inserted in the request carries the request's final state.
	var rows []map[string]any
	require.NoError(t, eng.Conn().DB().Table("cookies").Find(&rows).Error)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, int64(1), rowModSeq(r, "mod_seq_created"))
		assert.Equal(t, int64(1), rowModSeq(r, "mod_seq_changed"))
	}
}

func TestChangesClassification(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	create := func(cid, typ string) string {
		out := run(t, eng, "acc-1", []jmap.Call{
			call("Cookie/set", map[string]any{
				"create": map[string]any{cid: map[string]any{"type": typ}},
			}, "a"),
		})
		a := sentenceFor(t, out, "a")
		return a.Args["created"].(map[string]any)[cid].(map[string]any)["id"].(string)
	}

	idA := create("c1", "chocolate") // state 1
	idB := create("c2", "oatmeal")   // state 2
	run(t, eng, "acc-1", []jmap.Call{ // state 3
		call("Cookie/set", map[string]any{
			"update": map[string]any{idA: map[string]any{"delicious": "very"}},
		}, "a"),
	})
	run(t, eng, "acc-1", []jmap.Call{ // state 4
		call("Cookie/set", map[string]any{"destroy": []any{idB}}, "a"),
	})

	changes := func(since string) jmap.Sentence {
		out := run(t, eng, "acc-1", []jmap.Call{
			call("Cookie/changes", map[string]any{"sinceState": since}, "a"),
		})
		return sentenceFor(t, out, "a")
	}

	// Since 1: A was updated; B was created and destroyed inside the
	// window, so the client never needs to hear about it.
	s := changes("1")
	assert.Equal(t, "1", s.Args["oldState"])
	assert.Equal(t, "4", s.Args["newState"])
	assert.Empty(t, s.Args["created"])
	assert.Equal(t, []any{idA}, s.Args["updated"])
	assert.Empty(t, s.Args["destroyed"])

	// Since 3: B existed at the client's state and is now gone.
	s = changes("3")
	assert.Empty(t, s.Args["created"])
	assert.Empty(t, s.Args["updated"])
	assert.Equal(t, []any{idB}, s.Args["destroyed"])

	// Since 0: A is simply new.
	s = changes("0")
	assert.Equal(t, []any{idA}, s.Args["created"])
	assert.Empty(t, s.Args["updated"])

	// In sync: empty diff, state echoed back.
	s = changes("4")
	assert.Equal(t, "4", s.Args["newState"])
	assert.False(t, s.Args["hasMoreUpdates"].(bool))
	assert.Empty(t, s.Args["created"])
}

func TestGetIDOrderAndNotFound(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/set", map[string]any{
			"create": map[string]any{
				"c1": map[string]any{"type": "chocolate"},
				"c2": map[string]any{"type": "oatmeal"},
			},
		}, "a"),
	})
	created := sentenceFor(t, out, "a").Args["created"].(map[string]any)
	id1 := created["c1"].(map[string]any)["id"].(string)
	id2 := created["c2"].(map[string]any)["id"].(string)

	out = run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/get", map[string]any{
			"ids":        []any{id2, "missing", id1},
			"properties": []any{"type"},
		}, "b"),
	})
	b := sentenceFor(t, out, "b")
	list := b.Args["list"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, id2, list[0].(map[string]any)["id"])
	assert.Equal(t, id1, list[1].(map[string]any)["id"])
	assert.Equal(t, []any{"missing"}, b.Args["notFound"])

	// properties narrows the record; delicious was not requested.
	rec := list[0].(map[string]any)
	assert.Contains(t, rec, "type")
	assert.NotContains(t, rec, "delicious")
}

func TestGetRejectsUnknownArgsAndProperties(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/get", map[string]any{"frobnicate": true}, "a"),
		call("Cookie/get", map[string]any{"properties": []any{"nope"}}, "b"),
	})
	assert.Equal(t, "invalidArguments", sentenceFor(t, out, "a").Args["type"])
	assert.Equal(t, "invalidArguments", sentenceFor(t, out, "b").Args["type"])
}

func TestQueryFilterSortWindow(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/set", map[string]any{
			"create": map[string]any{
				"c1": map[string]any{"type": "chocolate"},
				"c2": map[string]any{"type": "oatmeal"},
				"c3": map[string]any{"type": "chocolate"},
			},
		}, "a"),
	})

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/query", map[string]any{
			"filter":         map[string]any{"type": "chocolate"},
			"calculateTotal": true,
		}, "a"),
		call("Cookie/query", map[string]any{
			"sort":  []any{map[string]any{"property": "type", "isAscending": true}},
			"limit": float64(2),
		}, "b"),
		call("Cookie/query", map[string]any{"filter": map[string]any{"size": "xl"}}, "c"),
	})

	a := sentenceFor(t, out, "a")
	require.Equal(t, "Cookie/query", a.Name)
	assert.Equal(t, int64(2), a.Args["total"])
	assert.Len(t, a.Args["ids"].([]any), 2)
	assert.Equal(t, "1", a.Args["queryState"])

	b := sentenceFor(t, out, "b")
	assert.Len(t, b.Args["ids"].([]any), 2)

	c := sentenceFor(t, out, "c")
	require.True(t, c.IsError())
	assert.Equal(t, "invalidArguments", c.Args["type"])
}

func TestQueryChanges(t *testing.T) {
	eng := newTestEngine(t, cookieClass())

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/set", map[string]any{
			"create": map[string]any{
				"c1": map[string]any{"type": "chocolate"},
				"c2": map[string]any{"type": "oatmeal"},
			},
		}, "a"),
	})
	created := sentenceFor(t, out, "a").Args["created"].(map[string]any)
	choc := created["c1"].(map[string]any)["id"].(string)
	oat := created["c2"].(map[string]any)["id"].(string)

	// The oatmeal cookie becomes chocolate; the original chocolate one
	// is destroyed.
	run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/set", map[string]any{
			"update":  map[string]any{oat: map[string]any{"type": "chocolate"}},
			"destroy": []any{choc},
		}, "a"),
	})

	out = run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/queryChanges", map[string]any{
			"sinceQueryState": "1",
			"filter":          map[string]any{"type": "chocolate"},
		}, "a"),
	})
	a := sentenceFor(t, out, "a")
	require.Equal(t, "Cookie/queryChanges", a.Name)
	assert.Equal(t, "1", a.Args["oldQueryState"])
	assert.Equal(t, "2", a.Args["newQueryState"])

	removed := a.Args["removed"].([]any)
	assert.ElementsMatch(t, []any{choc, oat}, removed)

	added := a.Args["added"].([]any)
	require.Len(t, added, 1)
	entry := added[0].(map[string]any)
	assert.Equal(t, oat, entry["id"])
	assert.Equal(t, int64(0), entry["index"])
}

func TestScalarIDArguments(t *testing.T) {
	// A back-reference path like /created/c1/id yields a single string,
	// so /get ids and /set destroy accept a bare string too.
	eng := newTestEngine(t, cookieClass())

	out := run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/set", map[string]any{
			"create": map[string]any{"c1": map[string]any{"type": "oat"}},
		}, "a"),
	})
	a := sentenceFor(t, out, "a")
	id := a.Args["created"].(map[string]any)["c1"].(map[string]any)["id"].(string)

	out = run(t, eng, "acc-1", []jmap.Call{
		call("Cookie/get", map[string]any{"ids": id}, "b"),
		call("Cookie/set", map[string]any{"destroy": id}, "c"),
	})

	b := sentenceFor(t, out, "b")
	require.Equal(t, "Cookie/get", b.Name)
	list := b.Args["list"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].(map[string]any)["id"])

	d := sentenceFor(t, out, "c")
	require.Equal(t, "Cookie/set", d.Name)
	destroyed := d.Args["destroyed"].([]any)
	require.Len(t, destroyed, 1)
	assert.Equal(t, id, destroyed[0])
}
