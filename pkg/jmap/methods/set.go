package methods

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/jmapd/internal/logger"
	"github.com/marmos91/jmapd/pkg/jmap"
	"github.com/marmos91/jmapd/pkg/jmap/record"
	"github.com/marmos91/jmapd/pkg/jmap/state"
	"github.com/marmos91/jmapd/pkg/jmap/store"
)

// setHandler generates K/set. Each create, update and destroy runs in
// its own savepoint: a failed record rolls back alone and lands in the
// notCreated / notUpdated / notDestroyed map while the rest of the
// batch proceeds. The type's state is bumped at most once per request
// no matter how many records change.
func setHandler(cl *record.Class, reg *record.Registry) jmap.Handler {
	return func(c *jmap.Context, args map[string]any) ([]jmap.Result, error) {
		if merr := checkArgNames(args, "create", "update", "destroy", "ifInState"); merr != nil {
			return nil, merr
		}

		creates, merr := recordMapArg(args, "create")
		if merr != nil {
			return nil, merr
		}
		updates, merr := recordMapArg(args, "update")
		if merr != nil {
			return nil, merr
		}
		destroys, _, merr := optIDList(args, "destroy")
		if merr != nil {
			return nil, merr
		}

		accountID, merr := accountIDArg(c, args)
		if merr != nil {
			// Account-base creates bootstrap their own account.
			if !cl.IsAccountBase || len(creates) == 0 {
				return nil, merr
			}
			accountID = ""
		}

		if cl.Hooks.SetCheck != nil {
			if err := cl.Hooks.SetCheck(c, args); err != nil {
				return nil, err
			}
		}

		oldState := "0"
		if accountID != "" {
			var err error
			oldState, err = c.StateSession(accountID).StateFor(c.Tx(), cl.TypeKey)
			if err != nil {
				return nil, err
			}
		}

		if want, have, merr := optString(args, "ifInState"); merr != nil {
			return nil, merr
		} else if have && want != oldState {
			return nil, jmap.ErrStateMismatch
		}

		resp := &setResponse{
			created:      map[string]any{},
			updated:      map[string]any{},
			destroyed:    []any{},
			notCreated:   map[string]any{},
			notUpdated:   map[string]any{},
			notDestroyed: map[string]any{},
		}

		var baseAccounts []string
		for _, cid := range sortedKeys(creates) {
			id, setErr, err := createOne(c, cl, reg, accountID, cid, creates[cid])
			if err != nil {
				return nil, err
			}
			if setErr != nil {
				resp.notCreated[cid] = setErr.Wire()
				continue
			}
			resp.created[cid] = map[string]any{"id": id}
			if cl.IsAccountBase {
				baseAccounts = append(baseAccounts, id)
			}
		}

		for _, rawID := range sortedKeys(updates) {
			id, setErr, err := updateOne(c, cl, accountID, rawID, updates[rawID])
			if err != nil {
				return nil, err
			}
			if setErr != nil {
				resp.notUpdated[rawID] = setErr.Wire()
				continue
			}
			resp.updated[id] = nil
		}

		for _, rawID := range destroys {
			id, setErr, err := destroyOne(c, cl, accountID, rawID)
			if err != nil {
				return nil, err
			}
			if setErr != nil {
				resp.notDestroyed[rawID] = setErr.Wire()
				continue
			}
			resp.destroyed = append(resp.destroyed, id)
		}

		// A /set that created exactly one account reports that account.
		envelopeAccount := accountID
		if envelopeAccount == "" && len(baseAccounts) == 1 {
			envelopeAccount = baseAccounts[0]
		}
		newState := oldState
		if envelopeAccount != "" {
			var err error
			newState, err = c.StateSession(envelopeAccount).StateFor(c.Tx(), cl.TypeKey)
			if err != nil {
				return nil, err
			}
		}

		return []jmap.Result{{
			Name: cl.TypeKey + "/set",
			Args: map[string]any{
				"accountId":    envelopeAccount,
				"oldState":     oldState,
				"newState":     newState,
				"created":      resp.created,
				"updated":      resp.updated,
				"destroyed":    resp.destroyed,
				"notCreated":   resp.notCreated,
				"notUpdated":   resp.notUpdated,
				"notDestroyed": resp.notDestroyed,
			},
		}}, nil
	}
}

type setResponse struct {
	created      map[string]any
	updated      map[string]any
	destroyed    []any
	notCreated   map[string]any
	notUpdated   map[string]any
	notDestroyed map[string]any
}

func createOne(c *jmap.Context, cl *record.Class, reg *record.Registry, accountID, cid string, rec map[string]any) (string, *record.SetError, error) {
	var id string
	err := c.TxnDo(func() error {
		cols, setErr := buildCreateColumns(c, cl, rec)
		if setErr != nil {
			return setErr
		}
		if cl.Hooks.CreateCheck != nil {
			if err := cl.Hooks.CreateCheck(c, cols); err != nil {
				return err
			}
		}

		id = uuid.NewString()
		account := accountID
		if cl.IsAccountBase {
			// An account-base record is its own account; seed zero
			// states for the whole family before the first bump.
			account = id
			if err := state.SeedAccount(c.Tx(), account, reg.FamilyTypes(cl.AccountType)); err != nil {
				return err
			}
			c.StateSession(account).Refresh()
		}
		if account == "" {
			return jmap.InvalidArgumentsError("no accountId")
		}

		sess := c.StateSession(account)
		if err := sess.EnsureBumped(c.Tx(), cl.TypeKey); err != nil {
			return err
		}
		next, err := sess.NextStateFor(c.Tx(), cl.TypeKey)
		if err != nil {
			return err
		}

		cols["id"] = id
		cols["account_id"] = account
		cols["mod_seq_created"] = next
		cols["mod_seq_changed"] = next
		cols["is_active"] = true
		cols["created"] = time.Now().UTC()

		if err := c.Tx().Table(cl.Table).Create(cols).Error; err != nil {
			if cl.Hooks.CreateError != nil {
				if se := cl.Hooks.CreateError(c, cols, err); se != nil {
					return se
				}
			}
			if store.IsUniqueViolation(err) {
				return &record.SetError{Type: "alreadyExists"}
			}
			return fmt.Errorf("insert %s: %w", cl.TypeKey, err)
		}

		if cl.Hooks.Created != nil {
			if err := cl.Hooks.Created(c, id, cols); err != nil {
				return err
			}
		}
		return nil
	})

	setErr, err := classifyRecordError(cl, "create", err)
	if err != nil || setErr != nil {
		return "", setErr, err
	}

	c.LogCreationID(cl.TypeKey, cid, id)
	if hook := cl.Hooks.PostCreate; hook != nil {
		c.QueuePostCommit(func(pc *jmap.Context) { hook(pc, id) })
	}
	return id, nil, nil
}

func updateOne(c *jmap.Context, cl *record.Class, accountID, rawID string, rec map[string]any) (string, *record.SetError, error) {
	id, _, merr := resolveIDRef(c, cl.TypeKey, rawID)
	if merr != nil {
		return "", nil, merr
	}
	if accountID == "" {
		return "", nil, jmap.InvalidArgumentsError("no accountId")
	}

	var done bool
	err := c.TxnDo(func() error {
		row, err := loadLiveRow(c, cl, accountID, id)
		if err != nil {
			return err
		}
		if row == nil {
			return record.NotFoundError()
		}

		cols, setErr := buildUpdateColumns(c, cl, rec)
		if setErr != nil {
			return setErr
		}
		if cl.Hooks.UpdateCheck != nil {
			if err := cl.Hooks.UpdateCheck(c, row, cols); err != nil {
				return err
			}
		}

		sess := c.StateSession(accountID)
		if err := sess.EnsureBumped(c.Tx(), cl.TypeKey); err != nil {
			return err
		}
		next, err := sess.NextStateFor(c.Tx(), cl.TypeKey)
		if err != nil {
			return err
		}
		cols["mod_seq_changed"] = next

		res := c.Tx().Table(cl.Table).
			Where("id = ? AND account_id = ? AND is_active IS NOT NULL", id, accountID).
			Updates(cols)
		if res.Error != nil {
			if store.IsUniqueViolation(res.Error) {
				return &record.SetError{Type: "alreadyExists"}
			}
			return fmt.Errorf("update %s %s: %w", cl.TypeKey, id, res.Error)
		}
		if res.RowsAffected == 0 {
			return record.NotFoundError()
		}

		if cl.Hooks.Updated != nil {
			updated := make(map[string]any, len(row)+len(cols))
			for k, v := range row {
				updated[k] = v
			}
			for k, v := range cols {
				updated[k] = v
			}
			if err := cl.Hooks.Updated(c, id, row, updated); err != nil {
				return err
			}
		}
		done = true
		return nil
	})

	setErr, err := classifyRecordError(cl, "update", err)
	if err != nil || setErr != nil {
		return "", setErr, err
	}
	if done {
		if hook := cl.Hooks.PostUpdate; hook != nil {
			c.QueuePostCommit(func(pc *jmap.Context) { hook(pc, id) })
		}
	}
	return id, nil, nil
}

func destroyOne(c *jmap.Context, cl *record.Class, accountID, rawID string) (string, *record.SetError, error) {
	id, _, merr := resolveIDRef(c, cl.TypeKey, rawID)
	if merr != nil {
		return "", nil, merr
	}
	if accountID == "" {
		return "", nil, jmap.InvalidArgumentsError("no accountId")
	}

	err := c.TxnDo(func() error {
		row, err := loadLiveRow(c, cl, accountID, id)
		if err != nil {
			return err
		}
		if row == nil {
			return record.NotFoundError()
		}

		if cl.Hooks.DestroyCheck != nil {
			if err := cl.Hooks.DestroyCheck(c, row); err != nil {
				return err
			}
		}

		sess := c.StateSession(accountID)
		if err := sess.EnsureBumped(c.Tx(), cl.TypeKey); err != nil {
			return err
		}
		next, err := sess.NextStateFor(c.Tx(), cl.TypeKey)
		if err != nil {
			return err
		}

		// Destroy is logical: the row stays, drops out of the live set,
		// and stops blocking its unique tuples.
		res := c.Tx().Table(cl.Table).
			Where("id = ? AND account_id = ? AND is_active IS NOT NULL", id, accountID).
			Updates(map[string]any{
				"is_active":       nil,
				"date_destroyed":  time.Now().UTC(),
				"mod_seq_changed": next,
			})
		if res.Error != nil {
			return fmt.Errorf("destroy %s %s: %w", cl.TypeKey, id, res.Error)
		}
		if res.RowsAffected == 0 {
			return record.NotFoundError()
		}

		if cl.Hooks.Destroyed != nil {
			if err := cl.Hooks.Destroyed(c, id, row); err != nil {
				return err
			}
		}
		return nil
	})

	setErr, err := classifyRecordError(cl, "destroy", err)
	if err != nil || setErr != nil {
		return "", setErr, err
	}
	if hook := cl.Hooks.PostDestroy; hook != nil {
		c.QueuePostCommit(func(pc *jmap.Context) { hook(pc, id) })
	}
	return id, nil, nil
}

// classifyRecordError sorts a per-record failure: a SetError fails only
// the record, a MethodError aborts the call, anything else is a storage
// fault that the record absorbs so earlier phases survive.
func classifyRecordError(cl *record.Class, phase string, err error) (*record.SetError, error) {
	if err == nil {
		return nil, nil
	}
	var se *record.SetError
	if errors.As(err, &se) {
		return se, nil
	}
	var me *jmap.MethodError
	if errors.As(err, &me) {
		return nil, me
	}
	logger.Error("record write failed",
		"type", cl.TypeKey,
		"phase", phase,
		"error", err,
	)
	return &record.SetError{Type: "serverFail", Description: "write failed"}, nil
}

// buildCreateColumns coerces and validates one create into a column
// map. All per-property errors are collected before failing.
func buildCreateColumns(c *jmap.Context, cl *record.Class, rec map[string]any) (map[string]any, *record.SetError) {
	invalid := map[string]string{}
	for name := range rec {
		if cl.Property(name) == nil {
			invalid[name] = "unknown property"
		}
	}

	cols := make(map[string]any, len(rec))
	for _, name := range cl.PropertyNames() {
		p := cl.Property(name)
		v, supplied := rec[name]

		if supplied && !cl.MayCreate(p, c.IsSystem) {
			invalid[name] = "cannot be set"
			continue
		}
		if !supplied || v == nil {
			if p.Default != nil {
				v = p.Default(c)
				supplied = v != nil
			}
		}
		if !supplied || v == nil {
			if !p.Optional && !p.Virtual {
				invalid[name] = "missing required property"
			}
			continue
		}

		if resolved, serr := resolvePropertyRefs(c, p, v); serr != "" {
			invalid[name] = serr
			continue
		} else {
			v = resolved
		}

		if p.Validate != nil {
			if err := p.Validate(v); err != nil {
				invalid[name] = err.Error()
				continue
			}
		}
		stored, err := p.Coerce(v)
		if err != nil {
			invalid[name] = err.Error()
			continue
		}
		cols[record.ColumnFor(name)] = stored
	}

	if len(invalid) > 0 {
		return nil, record.InvalidPropertyMapError(invalid)
	}
	return cols, nil
}

// buildUpdateColumns coerces and validates one update patch.
func buildUpdateColumns(c *jmap.Context, cl *record.Class, rec map[string]any) (map[string]any, *record.SetError) {
	invalid := map[string]string{}
	cols := make(map[string]any, len(rec))

	for name, v := range rec {
		p := cl.Property(name)
		if p == nil {
			invalid[name] = "unknown property"
			continue
		}
		if !cl.MayUpdate(p, c.IsSystem) {
			invalid[name] = "cannot be updated"
			continue
		}
		if v == nil {
			if !p.Optional {
				invalid[name] = "may not be null"
				continue
			}
			cols[record.ColumnFor(name)] = nil
			continue
		}

		if resolved, serr := resolvePropertyRefs(c, p, v); serr != "" {
			invalid[name] = serr
			continue
		} else {
			v = resolved
		}

		if p.Validate != nil {
			if err := p.Validate(v); err != nil {
				invalid[name] = err.Error()
				continue
			}
		}
		stored, err := p.Coerce(v)
		if err != nil {
			invalid[name] = err.Error()
			continue
		}
		cols[record.ColumnFor(name)] = stored
	}

	if len(invalid) > 0 {
		return nil, record.InvalidPropertyMapError(invalid)
	}
	return cols, nil
}

// resolvePropertyRefs rewrites "#creationId" values of id-typed
// properties to the ids assigned earlier in the request.
func resolvePropertyRefs(c *jmap.Context, p *record.Property, v any) (any, string) {
	if p.Type != record.TypeID {
		return v, ""
	}
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "#") {
		return v, ""
	}
	id, merr := c.ResolveCreationIDUntyped(strings.TrimPrefix(s, "#"))
	if merr != nil {
		return nil, merr.Error()
	}
	return id, ""
}

func recordMapArg(args map[string]any, key string) (map[string]map[string]any, *jmap.MethodError) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, jmap.InvalidArgumentsError(fmt.Sprintf("%s must be an object", key))
	}
	out := make(map[string]map[string]any, len(m))
	for k, raw := range m {
		rec, ok := raw.(map[string]any)
		if !ok {
			return nil, jmap.InvalidArgumentsError(fmt.Sprintf("%s.%s must be an object", key, k))
		}
		out[k] = rec
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
