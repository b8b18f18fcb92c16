package methods

import (
	"fmt"

	"github.com/marmos91/jmapd/pkg/jmap"
	"github.com/marmos91/jmapd/pkg/jmap/record"
)

// getHandler generates K/get. A null ids argument returns every live
// record of the account; explicit ids may be "#creationId" references
// to records created earlier in the same request.
func getHandler(cl *record.Class) jmap.Handler {
	return func(c *jmap.Context, args map[string]any) ([]jmap.Result, error) {
		allowed := append([]string{"ids", "properties"}, cl.ExtraGetArgs...)
		if merr := checkArgNames(args, allowed...); merr != nil {
			return nil, merr
		}

		accountID, merr := accountIDArg(c, args)
		if merr != nil {
			return nil, merr
		}

		requested, haveProps, merr := optStringList(args, "properties")
		if merr != nil {
			return nil, merr
		}
		props, merr := propsForGet(cl, requested, haveProps)
		if merr != nil {
			return nil, merr
		}

		ids, haveIDs, merr := optIDList(args, "ids")
		if merr != nil {
			return nil, merr
		}

		q := liveRows(c, cl, accountID)
		if cl.Hooks.GetQuery != nil {
			var err error
			q, err = cl.Hooks.GetQuery(c, args, q)
			if err != nil {
				return nil, err
			}
		}

		notFound := []any{}
		list := []any{}

		if haveIDs {
			resolved := make([]string, 0, len(ids))
			wanted := make(map[string]string, len(ids)) // resolved -> as requested
			for _, id := range ids {
				r, _, merr := resolveIDRef(c, cl.TypeKey, id)
				if merr != nil {
					if merr == jmap.ErrDuplicateCreationID {
						return nil, merr
					}
					// Unresolvable creation reference: report the id as
					// given rather than failing the call.
					notFound = append(notFound, id)
					continue
				}
				resolved = append(resolved, r)
				wanted[r] = id
			}

			var rows []map[string]any
			if len(resolved) > 0 {
				if err := q.Where("id IN ?", resolved).Find(&rows).Error; err != nil {
					return nil, fmt.Errorf("%s/get: %w", cl.TypeKey, err)
				}
			}
			byID := make(map[string]map[string]any, len(rows))
			for _, row := range rows {
				byID[rowID(row)] = row
			}
			// Response list keeps the request's id order.
			for _, id := range resolved {
				if row, ok := byID[id]; ok {
					list = append(list, wireRecord(c, cl, row, props))
				} else {
					notFound = append(notFound, wanted[id])
				}
			}
		} else {
			var rows []map[string]any
			if err := q.Order("created, id").Find(&rows).Error; err != nil {
				return nil, fmt.Errorf("%s/get: %w", cl.TypeKey, err)
			}
			for _, row := range rows {
				list = append(list, wireRecord(c, cl, row, props))
			}
		}

		state, err := c.StateSession(accountID).StateFor(c.Tx(), cl.TypeKey)
		if err != nil {
			return nil, err
		}

		return []jmap.Result{{
			Name: cl.TypeKey + "/get",
			Args: map[string]any{
				"accountId": accountID,
				"state":     state,
				"list":      list,
				"notFound":  notFound,
			},
		}}, nil
	}
}
