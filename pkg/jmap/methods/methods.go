// Package methods generates the standard JMAP handlers (/get, /set,
// /changes, /query, /queryChanges) from record-class declarations and
// assembles them into an engine handler map.
package methods

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/marmos91/jmapd/pkg/jmap"
	"github.com/marmos91/jmapd/pkg/jmap/record"
	"github.com/marmos91/jmapd/pkg/jmap/store"
)

// Handlers builds the method handler map for every class in the
// registry. The registry must be frozen before the map is used.
func Handlers(reg *record.Registry) map[string]jmap.Handler {
	hs := make(map[string]jmap.Handler)
	for _, cl := range reg.Classes() {
		if cl.Publishes(record.MethodGet) {
			hs[cl.TypeKey+"/get"] = getHandler(cl)
		}
		if cl.Publishes(record.MethodChanges) {
			hs[cl.TypeKey+"/changes"] = changesHandler(cl)
		}
		if cl.Publishes(record.MethodSet) {
			hs[cl.TypeKey+"/set"] = setHandler(cl, reg)
		}
		if cl.Publishes(record.MethodQuery) && cl.QueryEnabled() {
			hs[cl.TypeKey+"/query"] = queryHandler(cl)
		}
		if cl.Publishes(record.MethodQueryChanges) && cl.QueryEnabled() {
			hs[cl.TypeKey+"/queryChanges"] = queryChangesHandler(cl)
		}
		for name, h := range cl.PublishedMethods {
			hs[name] = h
		}
	}
	return hs
}

// NewEngine migrates the registry's tables and builds an engine over
// the generated handler map.
func NewEngine(conn *store.Conn, reg *record.Registry, opts ...jmap.Option) (*jmap.Engine, error) {
	if err := reg.Migrate(conn); err != nil {
		return nil, err
	}
	reg.Freeze()
	return jmap.NewEngine(conn, Handlers(reg), opts...), nil
}

// accountIDArg resolves the effective account for a call: the accountId
// argument if present, else the context default.
func accountIDArg(c *jmap.Context, args map[string]any) (string, *jmap.MethodError) {
	if v, ok := args["accountId"]; ok {
		s, ok := v.(string)
		if !ok || s == "" {
			return "", jmap.InvalidArgumentsError("accountId must be a non-empty string")
		}
		return s, nil
	}
	if c.AccountID != "" {
		return c.AccountID, nil
	}
	return "", jmap.InvalidArgumentsError("no accountId")
}

// checkArgNames rejects arguments outside the allowed set.
func checkArgNames(args map[string]any, allowed ...string) *jmap.MethodError {
	set := make(map[string]bool, len(allowed)+1)
	set["accountId"] = true
	for _, a := range allowed {
		set[a] = true
	}
	for k := range args {
		if !set[k] {
			return jmap.InvalidArgumentsError(fmt.Sprintf("unknown argument %q", k))
		}
	}
	return nil
}

func optString(args map[string]any, key string) (string, bool, *jmap.MethodError) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, jmap.InvalidArgumentsError(fmt.Sprintf("%s must be a string", key))
	}
	return s, true, nil
}

func optInt(args map[string]any, key string) (int64, bool, *jmap.MethodError) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, false, jmap.InvalidArgumentsError(fmt.Sprintf("%s must be an integer", key))
		}
		return int64(n), true, nil
	case int64:
		return n, true, nil
	case int:
		return int64(n), true, nil
	default:
		return 0, false, jmap.InvalidArgumentsError(fmt.Sprintf("%s must be an integer", key))
	}
}

func optStringList(args map[string]any, key string) ([]string, bool, *jmap.MethodError) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, false, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, false, jmap.InvalidArgumentsError(fmt.Sprintf("%s must be an array of strings", key))
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, false, jmap.InvalidArgumentsError(fmt.Sprintf("%s must be an array of strings", key))
		}
		out = append(out, s)
	}
	return out, true, nil
}

// optIDList reads an id-list argument. A back-reference such as
// /created/c1/id resolves to a single string, so a bare string counts
// as a one-element list.
func optIDList(args map[string]any, key string) ([]string, bool, *jmap.MethodError) {
	if s, ok := args[key].(string); ok {
		return []string{s}, true, nil
	}
	return optStringList(args, key)
}

// liveRows scopes a select to the account's live records.
func liveRows(c *jmap.Context, cl *record.Class, accountID string) *gorm.DB {
	return c.Tx().Table(cl.Table).
		Where("account_id = ?", accountID).
		Where("is_active IS NOT NULL")
}

// loadLiveRow fetches one live row by id, or nil when it does not
// exist.
func loadLiveRow(c *jmap.Context, cl *record.Class, accountID, id string) (map[string]any, error) {
	var rows []map[string]any
	err := liveRows(c, cl, accountID).Where("id = ?", id).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", cl.TypeKey, id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// wireRecord renders a stored row as a response record with the
// requested properties; id is always present.
func wireRecord(c *jmap.Context, cl *record.Class, row map[string]any, props []string) map[string]any {
	out := map[string]any{"id": rowID(row)}
	for _, name := range props {
		if name == "id" {
			continue
		}
		p := cl.Property(name)
		if p == nil {
			continue
		}
		if p.Virtual {
			out[name] = p.Compute(c, row)
			continue
		}
		out[name] = p.Decode(row[record.ColumnFor(name)])
	}
	return out
}

func rowID(row map[string]any) string {
	switch v := row["id"].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func rowModSeq(row map[string]any, column string) int64 {
	switch v := row[column].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func rowIsActive(row map[string]any) bool {
	v, ok := row["is_active"]
	return ok && v != nil
}

// resolveIDRef maps "#creationId" ids to the ids assigned earlier in
// the request; plain ids pass through.
func resolveIDRef(c *jmap.Context, typeKey, id string) (string, bool, *jmap.MethodError) {
	if !strings.HasPrefix(id, "#") {
		return id, false, nil
	}
	cid := strings.TrimPrefix(id, "#")
	resolved, merr := c.ResolveCreationID(typeKey, cid)
	if merr == nil {
		return resolved, true, nil
	}
	if merr == jmap.ErrDuplicateCreationID {
		return "", false, merr
	}
	// Fall back to an untyped lookup for references across types.
	resolved, merr = c.ResolveCreationIDUntyped(cid)
	if merr != nil {
		return "", false, merr
	}
	return resolved, true, nil
}

// propsForGet resolves the properties argument: explicit list, class
// default, or all declared properties.
func propsForGet(cl *record.Class, requested []string, havePropsArg bool) ([]string, *jmap.MethodError) {
	if havePropsArg {
		for _, name := range requested {
			if name != "id" && cl.Property(name) == nil {
				return nil, jmap.InvalidArgumentsError(fmt.Sprintf("unknown property %q", name))
			}
		}
		return requested, nil
	}
	if len(cl.DefaultGetProperties) > 0 {
		return cl.DefaultGetProperties, nil
	}
	return cl.PropertyNames(), nil
}
