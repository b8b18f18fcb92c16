package methods

import (
	"fmt"
	"strconv"

	"github.com/marmos91/jmapd/pkg/jmap"
	"github.com/marmos91/jmapd/pkg/jmap/record"
	"github.com/marmos91/jmapd/pkg/jmap/state"
)

// changesHandler generates K/changes: the incremental diff since a
// client-held state, classified by the four-valued state comparator.
func changesHandler(cl *record.Class) jmap.Handler {
	return func(c *jmap.Context, args map[string]any) ([]jmap.Result, error) {
		if merr := checkArgNames(args, "sinceState", "maxChanges"); merr != nil {
			return nil, merr
		}

		accountID, merr := accountIDArg(c, args)
		if merr != nil {
			return nil, merr
		}

		since, haveSince, merr := optString(args, "sinceState")
		if merr != nil {
			return nil, merr
		}
		if !haveSince {
			return nil, jmap.InvalidArgumentsError("sinceState is required")
		}

		maxChanges, haveMax, merr := optInt(args, "maxChanges")
		if merr != nil {
			return nil, merr
		}
		if haveMax && maxChanges <= 0 {
			return nil, jmap.InvalidArgumentsError("maxChanges must be positive")
		}

		sess := c.StateSession(accountID)
		low, high, err := sess.Window(c.Tx(), cl.TypeKey)
		if err != nil {
			return nil, err
		}

		respond := func(newState string, hasMore bool, created, updated, destroyed []any) []jmap.Result {
			return []jmap.Result{{
				Name: cl.TypeKey + "/changes",
				Args: map[string]any{
					"accountId":      accountID,
					"oldState":       since,
					"newState":       newState,
					"hasMoreUpdates": hasMore,
					"created":        created,
					"updated":        updated,
					"destroyed":      destroyed,
				},
			}}
		}

		switch state.Compare(since, low, high) {
		case state.Bogus:
			return nil, jmap.InvalidArgumentsError("sinceState is not a valid state")
		case state.Resync:
			return nil, jmap.ErrCannotCalculateChanges
		case state.InSync:
			return respond(since, false, []any{}, []any{}, []any{}), nil
		}

		sinceSeq, _ := strconv.ParseInt(since, 10, 64)

		var rows []map[string]any
		err = c.Tx().Table(cl.Table).
			Where("account_id = ?", accountID).
			Where("mod_seq_changed > ?", sinceSeq).
			Order("mod_seq_changed, id").
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("%s/changes: %w", cl.TypeKey, err)
		}

		hasMore := false
		newSeq := high
		if haveMax && int64(len(rows)) > maxChanges {
			rows = rows[:maxChanges]
			hasMore = true
			newSeq = rowModSeq(rows[len(rows)-1], "mod_seq_changed")
		}

		created := []any{}
		updated := []any{}
		destroyed := []any{}
		for _, row := range rows {
			id := rowID(row)
			createdSeq := rowModSeq(row, "mod_seq_created")
			switch {
			case !rowIsActive(row):
				// A record created and destroyed inside the window never
				// existed as far as this client is concerned.
				if createdSeq <= sinceSeq {
					destroyed = append(destroyed, id)
				}
			case createdSeq > sinceSeq:
				created = append(created, id)
			default:
				updated = append(updated, id)
			}
		}

		return respond(strconv.FormatInt(newSeq, 10), hasMore, created, updated, destroyed), nil
	}
}
