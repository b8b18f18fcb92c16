package commands

import (
	"github.com/marmos91/jmapd/pkg/jmap/record"
)

// builtinRegistry declares the record classes the standalone server
// ships with: an Account base type plus a Note type for it. Embedding
// applications bring their own registry instead.
func builtinRegistry() *record.Registry {
	reg := record.NewRegistry()

	reg.MustRegister(&record.Class{
		TypeKey:       "Account",
		AccountType:   "account",
		IsAccountBase: true,
		Table:         "accounts",
		Unique:        [][]string{{"name"}},
		Properties: []record.Property{
			{
				Name:          "name",
				Type:          record.TypeIString,
				ClientMayInit: true,
				Validate:      record.All(record.NonEmpty(), record.MaxLength(255)),
			},
			{
				Name:            "description",
				Type:            record.TypeString,
				Optional:        true,
				ClientMayInit:   true,
				ClientMayUpdate: true,
			},
		},
		Filters: map[string]record.Filter{
			"name": record.PropertyFilter("name"),
		},
		Sorts: map[string]record.Sort{
			"name": record.PropertySort("name"),
		},
	})

	reg.MustRegister(&record.Class{
		TypeKey:     "Note",
		AccountType: "account",
		Table:       "notes",
		Properties: []record.Property{
			{
				Name:            "title",
				Type:            record.TypeString,
				ClientMayInit:   true,
				ClientMayUpdate: true,
				Validate:        record.MaxLength(255),
			},
			{
				Name:            "body",
				Type:            record.TypeString,
				Optional:        true,
				ClientMayInit:   true,
				ClientMayUpdate: true,
			},
			{
				Name:            "pinned",
				Type:            record.TypeBoolean,
				Optional:        true,
				ClientMayInit:   true,
				ClientMayUpdate: true,
			},
			{
				Name:            "tags",
				Type:            record.TypeStringList,
				Optional:        true,
				ClientMayInit:   true,
				ClientMayUpdate: true,
			},
		},
		Filters: map[string]record.Filter{
			"title":  record.PropertyFilter("title"),
			"pinned": record.PropertyFilter("pinned"),
		},
		Sorts: map[string]record.Sort{
			"title": record.PropertySort("title"),
		},
	})

	return reg
}
