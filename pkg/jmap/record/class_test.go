package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/jmapd/pkg/jmap/store"
)

func jarClass() *Class {
	return &Class{
		TypeKey:       "CookieJar",
		AccountType:   "pantry",
		IsAccountBase: true,
		Table:         "cookie_jars",
		Properties: []Property{
			{Name: "name", Type: TypeIString, ClientMayInit: true, ClientMayUpdate: true, Validate: NonEmpty()},
			{Name: "shelfLife", Type: TypeInteger, Optional: true, ClientMayInit: true, ClientMayUpdate: true},
			{Name: "sealed", Type: TypeBoolean, Optional: true, ClientMayInit: true},
		},
		Unique: [][]string{{"name"}},
	}
}

func TestFinalizeBuildsLookup(t *testing.T) {
	cl := jarClass()
	require.NoError(t, cl.Finalize())

	assert.NotNil(t, cl.Property("name"))
	assert.Nil(t, cl.Property("missing"))
	assert.Equal(t, []string{"name", "shelfLife", "sealed"}, cl.PropertyNames())
	assert.Equal(t, []Method{MethodGet, MethodSet, MethodChanges}, cl.Methods)
}

func TestFinalizeRejectsBadDeclarations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cl *Class)
	}{
		{"missing table", func(cl *Class) { cl.Table = "" }},
		{"reserved property", func(cl *Class) {
			cl.Properties = append(cl.Properties, Property{Name: "modSeqChanged", Type: TypeInteger})
		}},
		{"duplicate property", func(cl *Class) {
			cl.Properties = append(cl.Properties, Property{Name: "name", Type: TypeString})
		}},
		{"virtual without compute", func(cl *Class) {
			cl.Properties = append(cl.Properties, Property{Name: "level", Type: TypeInteger, Virtual: true})
		}},
		{"unique on unknown property", func(cl *Class) { cl.Unique = [][]string{{"nope"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := jarClass()
			tt.mutate(cl)
			assert.Error(t, cl.Finalize())
		})
	}
}

func TestTableSpecPrefixesUniqueWithIsActive(t *testing.T) {
	cl := jarClass()
	require.NoError(t, cl.Finalize())

	spec := cl.TableSpec()
	assert.Equal(t, "cookie_jars", spec.Name)
	require.Len(t, spec.Unique, 1)
	assert.Equal(t, []string{"is_active", "name"}, spec.Unique[0])

	names := make(map[string]store.ColumnType)
	for _, col := range spec.Columns {
		names[col.Name] = col.Type
	}
	assert.Equal(t, store.ColumnCIText, names["name"])
	assert.Equal(t, store.ColumnInteger, names["shelf_life"])
	assert.Contains(t, names, "mod_seq_created")
	assert.Contains(t, names, "is_active")
}

func TestColumnFor(t *testing.T) {
	assert.Equal(t, "name", ColumnFor("name"))
	assert.Equal(t, "shelf_life", ColumnFor("shelfLife"))
	assert.Equal(t, "mod_seq_changed", ColumnFor("modSeqChanged"))
}

func TestPermissionEscalation(t *testing.T) {
	cl := &Class{
		TypeKey: "Widget", AccountType: "pantry", Table: "widgets",
		Properties: []Property{
			{Name: "label", Type: TypeString, ClientMayInit: true, ClientMayUpdate: true},
			{Name: "owner", Type: TypeID, Immutable: true},
			{Name: "internalNote", Type: TypeString},
		},
	}
	require.NoError(t, cl.Finalize())

	label := cl.Property("label")
	owner := cl.Property("owner")
	note := cl.Property("internalNote")

	assert.True(t, cl.MayCreate(label, false))
	assert.False(t, cl.MayCreate(note, false))
	assert.True(t, cl.MayCreate(note, true))
	// Immutable stays closed to creates even for system callers unless
	// explicitly opened with ClientMayInit.
	assert.False(t, cl.MayCreate(owner, true))

	assert.True(t, cl.MayUpdate(label, false))
	assert.False(t, cl.MayUpdate(owner, true))
	assert.False(t, cl.MayUpdate(note, false))
	assert.True(t, cl.MayUpdate(note, true))
}

func TestCoerceShapes(t *testing.T) {
	tests := []struct {
		name    string
		prop    Property
		in      any
		want    any
		wantErr bool
	}{
		{"string ok", Property{Name: "p", Type: TypeString}, "x", "x", false},
		{"string wrong type", Property{Name: "p", Type: TypeString}, 3.0, nil, true},
		{"integer from json number", Property{Name: "p", Type: TypeInteger}, 42.0, int64(42), false},
		{"integer rejects fraction", Property{Name: "p", Type: TypeInteger}, 1.5, nil, true},
		{"boolean", Property{Name: "p", Type: TypeBoolean}, true, true, false},
		{"timestamp ok", Property{Name: "p", Type: TypeTimestamp}, "2026-08-24T10:00:00Z", "2026-08-24T10:00:00Z", false},
		{"timestamp bad", Property{Name: "p", Type: TypeTimestamp}, "yesterday", nil, true},
		{"id empty", Property{Name: "p", Type: TypeID}, "", nil, true},
		{"list encodes", Property{Name: "p", Type: TypeStringList}, []any{"a", "b"}, `["a","b"]`, false},
		{"list rejects mixed", Property{Name: "p", Type: TypeStringList}, []any{"a", 1.0}, nil, true},
		{"null required", Property{Name: "p", Type: TypeString}, nil, nil, true},
		{"null optional", Property{Name: "p", Type: TypeString, Optional: true}, nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.prop.Coerce(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRoundTrips(t *testing.T) {
	list := Property{Name: "p", Type: TypeStringList}
	stored, err := list.Coerce([]any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, list.Decode(stored))

	boolean := Property{Name: "p", Type: TypeBoolean}
	assert.Equal(t, true, boolean.Decode(int64(1)))
	assert.Equal(t, false, boolean.Decode(int64(0)))
}

func TestRegistryFamilies(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(jarClass()))
	require.NoError(t, r.Register(&Class{
		TypeKey: "Cookie", AccountType: "pantry", Table: "cookies",
		Properties: []Property{{Name: "flavor", Type: TypeString, ClientMayInit: true}},
	}))
	require.NoError(t, r.Register(&Class{
		TypeKey: "Shelf", AccountType: "warehouse", Table: "shelves",
		Properties: []Property{{Name: "label", Type: TypeString, ClientMayInit: true}},
	}))

	assert.Equal(t, []string{"CookieJar", "Cookie"}, r.FamilyTypes("pantry"))
	assert.Equal(t, "CookieJar", r.AccountBase("pantry").TypeKey)
	assert.Nil(t, r.AccountBase("warehouse"))

	r.Freeze()
	assert.Error(t, r.Register(jarClass()))
}

func TestValidators(t *testing.T) {
	assert.NoError(t, NonEmpty()("x"))
	assert.Error(t, NonEmpty()(""))
	assert.Error(t, MaxLength(3)("abcd"))
	assert.NoError(t, OneOf("a", "b")("a"))
	assert.Error(t, OneOf("a", "b")("c"))
	assert.Error(t, IntRange(1, 10)(11.0))
	assert.NoError(t, IntRange(1, 10)(5.0))
	assert.Error(t, All(NonEmpty(), MaxLength(2))("abc"))
}
