package methods

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/marmos91/jmapd/pkg/jmap"
	"github.com/marmos91/jmapd/pkg/jmap/record"
)

// querySpec is the parsed filter/sort pair shared by /query and
// /queryChanges.
type querySpec struct {
	filter map[string]any
	sorts  []sortKey
}

type sortKey struct {
	column    string
	ascending bool
}

func parseQuerySpec(cl *record.Class, args map[string]any) (*querySpec, *jmap.MethodError) {
	spec := &querySpec{}

	if v, ok := args["filter"]; ok && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, jmap.InvalidArgumentsError("filter must be an object")
		}
		for name := range m {
			if _, ok := cl.Filters[name]; !ok {
				return nil, jmap.InvalidArgumentsMap(map[string]any{
					"filter": fmt.Sprintf("unknown filter %q", name),
				})
			}
		}
		spec.filter = m
	}

	if v, ok := args["sort"]; ok && v != nil {
		arr, ok := v.([]any)
		if !ok {
			return nil, jmap.InvalidArgumentsError("sort must be an array")
		}
		for _, e := range arr {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, jmap.InvalidArgumentsError("sort entries must be objects")
			}
			name, _ := m["property"].(string)
			s, ok := cl.Sorts[name]
			if !ok {
				return nil, jmap.InvalidArgumentsMap(map[string]any{
					"sort": fmt.Sprintf("unknown sort %q", name),
				})
			}
			asc := true
			if b, ok := m["isAscending"].(bool); ok {
				asc = b
			}
			spec.sorts = append(spec.sorts, sortKey{column: s.Column, ascending: asc})
		}
	}

	return spec, nil
}

// apply builds the ordered, filtered live-row select for the spec.
func (s *querySpec) apply(c *jmap.Context, cl *record.Class, accountID string) (*gorm.DB, error) {
	q := liveRows(c, cl, accountID)
	for _, join := range cl.QueryJoins {
		q = q.Joins(join)
	}
	for _, name := range sortedKeys(s.filter) {
		f := cl.Filters[name]
		var err error
		q, err = f.Cond(c, cl, q, s.filter[name])
		if err != nil {
			return nil, jmap.InvalidArgumentsMap(map[string]any{"filter": err.Error()})
		}
	}
	for _, key := range s.sorts {
		dir := "ASC"
		if !key.ascending {
			dir = "DESC"
		}
		q = q.Order(fmt.Sprintf("%s.%s %s", cl.Table, key.column, dir))
	}
	// Stable tiebreak keeps paging deterministic.
	q = q.Order(cl.Table + ".created").Order(cl.Table + ".id")
	return q, nil
}

// matches re-evaluates the filter against one row; /queryChanges needs
// it to classify changed records.
func (s *querySpec) matches(cl *record.Class, row map[string]any) (bool, error) {
	for name, value := range s.filter {
		f := cl.Filters[name]
		if f.Match == nil {
			return false, jmap.ErrCannotCalculateChanges
		}
		if !f.Match(cl, row, value) {
			return false, nil
		}
	}
	return true, nil
}

// queryIDs runs the spec and returns the matching ids in result order.
func (s *querySpec) queryIDs(c *jmap.Context, cl *record.Class, accountID string) ([]string, error) {
	q, err := s.apply(c, cl, accountID)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := q.Select(cl.Table + ".id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%s/query: %w", cl.TypeKey, err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, rowID(row))
	}
	return ids, nil
}

// queryHandler generates K/query: filtered, sorted, windowed id lists.
func queryHandler(cl *record.Class) jmap.Handler {
	return func(c *jmap.Context, args map[string]any) ([]jmap.Result, error) {
		if merr := checkArgNames(args, "filter", "sort", "position", "limit",
			"anchor", "anchorOffset", "calculateTotal"); merr != nil {
			return nil, merr
		}

		accountID, merr := accountIDArg(c, args)
		if merr != nil {
			return nil, merr
		}
		spec, merr := parseQuerySpec(cl, args)
		if merr != nil {
			return nil, merr
		}

		position, _, merr := optInt(args, "position")
		if merr != nil {
			return nil, merr
		}
		if position < 0 {
			return nil, jmap.InvalidArgumentsError("position must not be negative")
		}
		limit, haveLimit, merr := optInt(args, "limit")
		if merr != nil {
			return nil, merr
		}
		if haveLimit && limit < 0 {
			return nil, jmap.InvalidArgumentsError("limit must not be negative")
		}
		anchor, haveAnchor, merr := optString(args, "anchor")
		if merr != nil {
			return nil, merr
		}
		anchorOffset, _, merr := optInt(args, "anchorOffset")
		if merr != nil {
			return nil, merr
		}

		ids, err := spec.queryIDs(c, cl, accountID)
		if err != nil {
			return nil, err
		}
		total := int64(len(ids))

		if haveAnchor {
			if anchor != "" {
				resolved, _, merr := resolveIDRef(c, cl.TypeKey, anchor)
				if merr != nil {
					return nil, merr
				}
				anchor = resolved
			}
			idx := -1
			for i, id := range ids {
				if id == anchor {
					idx = i
					break
				}
			}
			if idx < 0 {
				return nil, &jmap.MethodError{Type: "anchorNotFound"}
			}
			position = int64(idx) + anchorOffset
			if position < 0 {
				position = 0
			}
		}

		if position > total {
			position = total
		}
		window := ids[position:]
		if haveLimit && int64(len(window)) > limit {
			window = window[:limit]
		}

		state, err := c.StateSession(accountID).StateFor(c.Tx(), cl.TypeKey)
		if err != nil {
			return nil, err
		}

		wire := make([]any, 0, len(window))
		for _, id := range window {
			wire = append(wire, id)
		}
		result := map[string]any{
			"accountId":           accountID,
			"queryState":          state,
			"canCalculateChanges": true,
			"position":            position,
			"ids":                 wire,
		}
		if doTotal, _ := args["calculateTotal"].(bool); doTotal {
			result["total"] = total
		}

		return []jmap.Result{{Name: cl.TypeKey + "/query", Args: result}}, nil
	}
}
