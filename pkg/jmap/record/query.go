package record

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/marmos91/jmapd/pkg/jmap"
)

// Filter is one named /query filter condition. Cond contributes the
// WHERE clause for the database pass; Match re-evaluates the condition
// against a single row, which /queryChanges needs to classify changed
// records as added or removed.
type Filter struct {
	Cond  func(c *jmap.Context, cl *Class, q *gorm.DB, value any) (*gorm.DB, error)
	Match func(cl *Class, row map[string]any, value any) bool
}

// Sort is one named /query sort key.
type Sort struct {
	Column string
}

// PropertyFilter builds the common equality filter on one property.
func PropertyFilter(property string) Filter {
	col := ColumnFor(property)
	return Filter{
		Cond: func(c *jmap.Context, cl *Class, q *gorm.DB, value any) (*gorm.DB, error) {
			p := cl.Property(property)
			if p == nil {
				return nil, fmt.Errorf("filter on unknown property %q", property)
			}
			stored, err := p.Coerce(value)
			if err != nil {
				return nil, err
			}
			return q.Where(col+" = ?", stored), nil
		},
		Match: func(cl *Class, row map[string]any, value any) bool {
			p := cl.Property(property)
			if p == nil {
				return false
			}
			stored, err := p.Coerce(value)
			if err != nil {
				return false
			}
			got := row[col]
			if p.Type == TypeIString {
				gs, ok1 := got.(string)
				ws, ok2 := stored.(string)
				return ok1 && ok2 && strings.EqualFold(gs, ws)
			}
			return fmt.Sprint(p.Decode(got)) == fmt.Sprint(p.Decode(stored))
		},
	}
}

// PropertySort builds the common sort on one property's column.
func PropertySort(property string) Sort {
	return Sort{Column: ColumnFor(property)}
}
