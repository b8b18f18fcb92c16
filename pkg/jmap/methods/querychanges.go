package methods

import (
	"fmt"
	"strconv"

	"github.com/marmos91/jmapd/pkg/jmap"
	"github.com/marmos91/jmapd/pkg/jmap/record"
	"github.com/marmos91/jmapd/pkg/jmap/state"
)

// queryChangesHandler generates K/queryChanges: how the result list of
// a query shifted since a client-held query state. Records that left
// the result set (or changed at all) are reported as removed; records
// now in the set are reported as added with their current index. Every
// declared filter needs a Match function for this to be answerable.
func queryChangesHandler(cl *record.Class) jmap.Handler {
	return func(c *jmap.Context, args map[string]any) ([]jmap.Result, error) {
		if merr := checkArgNames(args, "sinceQueryState", "filter", "sort",
			"upToId", "maxChanges"); merr != nil {
			return nil, merr
		}

		accountID, merr := accountIDArg(c, args)
		if merr != nil {
			return nil, merr
		}

		since, haveSince, merr := optString(args, "sinceQueryState")
		if merr != nil {
			return nil, merr
		}
		if !haveSince {
			return nil, jmap.InvalidArgumentsError("sinceQueryState is required")
		}
		maxChanges, haveMax, merr := optInt(args, "maxChanges")
		if merr != nil {
			return nil, merr
		}
		upToID, haveUpTo, merr := optString(args, "upToId")
		if merr != nil {
			return nil, merr
		}

		spec, merr := parseQuerySpec(cl, args)
		if merr != nil {
			return nil, merr
		}

		sess := c.StateSession(accountID)
		low, high, err := sess.Window(c.Tx(), cl.TypeKey)
		if err != nil {
			return nil, err
		}

		newState, err := sess.StateFor(c.Tx(), cl.TypeKey)
		if err != nil {
			return nil, err
		}
		respond := func(removed, added []any) []jmap.Result {
			return []jmap.Result{{
				Name: cl.TypeKey + "/queryChanges",
				Args: map[string]any{
					"accountId":     accountID,
					"oldQueryState": since,
					"newQueryState": newState,
					"removed":       removed,
					"added":         added,
				},
			}}
		}

		switch state.Compare(since, low, high) {
		case state.Bogus:
			return nil, jmap.InvalidArgumentsError("sinceQueryState is not a valid state")
		case state.Resync:
			return nil, jmap.ErrCannotCalculateChanges
		case state.InSync:
			return respond([]any{}, []any{}), nil
		}

		sinceSeq, _ := strconv.ParseInt(since, 10, 64)

		var changed []map[string]any
		err = c.Tx().Table(cl.Table).
			Where("account_id = ?", accountID).
			Where("mod_seq_changed > ?", sinceSeq).
			Order("mod_seq_changed, id").
			Find(&changed).Error
		if err != nil {
			return nil, fmt.Errorf("%s/queryChanges: %w", cl.TypeKey, err)
		}

		ids, err := spec.queryIDs(c, cl, accountID)
		if err != nil {
			return nil, err
		}
		index := make(map[string]int, len(ids))
		for i, id := range ids {
			index[id] = i
		}
		cutoff := len(ids)
		if haveUpTo {
			if i, ok := index[upToID]; ok {
				cutoff = i + 1
			}
		}

		removed := []any{}
		added := []any{}
		for _, row := range changed {
			id := rowID(row)
			existedBefore := rowModSeq(row, "mod_seq_created") <= sinceSeq
			if existedBefore {
				// Conservatively drop every changed record from the
				// client's view; re-adding below restores its position.
				removed = append(removed, id)
			}
			if !rowIsActive(row) {
				continue
			}
			ok, err := spec.matches(cl, row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if i, present := index[id]; present && i < cutoff {
				added = append(added, map[string]any{
					"id":    id,
					"index": int64(i),
				})
			}
		}

		if haveMax && int64(len(removed)+len(added)) > maxChanges {
			return nil, jmap.ErrTooManyChanges
		}

		return respond(removed, added), nil
	}
}
