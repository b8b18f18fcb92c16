package jmap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/jmapd/pkg/jmap/state"
	"github.com/marmos91/jmapd/pkg/jmap/store"
)

// duplicateSentinel marks a creation id that was logged more than once in
// one request. Lookups that hit it fail with duplicateCreationId.
const duplicateSentinel = "\x00DUPLICATE"

type creationKey struct {
	Type       string
	CreationID string
}

// Context is the per-request mutable bag: the schema handle and active
// transaction, the accumulated sentences, the creation-id table, the
// exception guid list, per-account state sessions, and the call timing
// log. It is single-writer and never shared across requests.
type Context struct {
	ctx    context.Context
	engine *Engine
	conn   *store.Conn

	tx    *gorm.DB
	depth int

	// IsSystem escalates client-permission checks on record properties.
	IsSystem bool

	// MayCall, when set, gates every dispatched call; a false return
	// yields a forbidden error sentence. A nil MayCall allows all calls.
	MayCall func(method string, args map[string]any) bool

	// AccountID is the default account for calls that do not carry an
	// accountId argument.
	AccountID string

	sentences      SentenceCollection
	creationIDs    map[creationKey]string
	exceptionGUIDs []string
	callInfo       map[string][]time.Duration
	states         map[string]*state.Session
	postCommit     []func(*Context)
}

// Ctx returns the request's context.Context (deadline, cancellation).
func (c *Context) Ctx() context.Context {
	return c.ctx
}

// Engine returns the engine this context was created by.
func (c *Context) Engine() *Engine {
	return c.engine
}

// Tx returns the active transaction. It is only valid inside TxnDo.
func (c *Context) Tx() *gorm.DB {
	return c.tx
}

// InTxn reports whether a transaction is open.
func (c *Context) InTxn() bool {
	return c.depth > 0
}

// Sentences returns the sentences accumulated so far.
func (c *Context) Sentences() SentenceCollection {
	return c.sentences
}

func (c *Context) pushSentence(s Sentence) {
	c.sentences = append(c.sentences, s)
}

// StateSession returns the account-state session for an account,
// creating it lazily. Must be called inside a transaction.
func (c *Context) StateSession(accountID string) *state.Session {
	s, ok := c.states[accountID]
	if !ok {
		s = state.NewSession(accountID)
		c.states[accountID] = s
	}
	return s
}

// LogCreationID records the id assigned to a client creation id. Logging
// the same creation id twice in one request flips the entry to a
// sentinel so later lookups fail.
func (c *Context) LogCreationID(typ, creationID, id string) {
	key := creationKey{Type: typ, CreationID: creationID}
	if _, seen := c.creationIDs[key]; seen {
		c.creationIDs[key] = duplicateSentinel
		return
	}
	c.creationIDs[key] = id
}

// ResolveCreationID maps a "#creationId" reference to the id assigned
// earlier in this request.
func (c *Context) ResolveCreationID(typ, creationID string) (string, *MethodError) {
	key := creationKey{Type: typ, CreationID: creationID}
	id, ok := c.creationIDs[key]
	if !ok {
		return "", InvalidArgumentsError(fmt.Sprintf("unknown creation id %q", creationID))
	}
	if id == duplicateSentinel {
		return "", ErrDuplicateCreationID
	}
	return id, nil
}

// ResolveCreationIDUntyped maps a "#creationId" reference to its id
// when the caller does not know which type logged it. An id that was
// logged under several types is ambiguous and rejected.
func (c *Context) ResolveCreationIDUntyped(creationID string) (string, *MethodError) {
	var (
		found     string
		hits      int
		duplicate bool
	)
	for key, id := range c.creationIDs {
		if key.CreationID != creationID {
			continue
		}
		if id == duplicateSentinel {
			duplicate = true
			continue
		}
		found = id
		hits++
	}
	if duplicate {
		return "", ErrDuplicateCreationID
	}
	switch hits {
	case 0:
		return "", InvalidArgumentsError(fmt.Sprintf("unknown creation id %q", creationID))
	case 1:
		return found, nil
	default:
		return "", InvalidArgumentsError(fmt.Sprintf("ambiguous creation id %q", creationID))
	}
}

// RecordCallInfo appends one call's elapsed time under its method name.
func (c *Context) RecordCallInfo(name string, elapsed time.Duration) {
	c.callInfo[name] = append(c.callInfo[name], elapsed)
}

// CallInfo returns the per-method timing log for this request.
func (c *Context) CallInfo() map[string][]time.Duration {
	return c.callInfo
}

// AddExceptionGUID records a filed exception report id.
func (c *Context) AddExceptionGUID(guid string) {
	c.exceptionGUIDs = append(c.exceptionGUIDs, guid)
}

// ExceptionGUIDs returns the report ids filed during this request.
func (c *Context) ExceptionGUIDs() []string {
	return c.exceptionGUIDs
}

// QueuePostCommit schedules a hook to run after the outer transaction
// commits. Used for external side effects that must not fire on
// rollback.
func (c *Context) QueuePostCommit(fn func(*Context)) {
	c.postCommit = append(c.postCommit, fn)
}

// TxnDo runs work inside a transaction. At depth zero it opens the
// request's top-level transaction, flushes staged state bumps on
// success, commits, and runs queued post-commit hooks. Nested calls run
// inside a savepoint with a localised pending-state view: folded into
// the outer view on success, discarded with the savepoint on failure.
func (c *Context) TxnDo(fn func() error) error {
	if c.depth == 0 {
		return c.txnOuter(fn)
	}
	return c.txnNested(fn)
}

func (c *Context) txnOuter(fn func() error) error {
	// State sessions must not outlive a transaction; a leftover session
	// here means a previous caller bypassed TxnDo.
	if len(c.states) != 0 {
		return errors.New("jmap: state sessions exist outside a transaction")
	}

	tx := c.conn.DB().Begin()
	if tx.Error != nil {
		return fmt.Errorf("begin transaction: %w", tx.Error)
	}
	c.tx = tx
	c.depth = 1

	err := fn()
	if err == nil {
		err = c.commitStates()
	}
	if err == nil {
		err = tx.Commit().Error
	}

	c.tx = nil
	c.depth = 0
	c.states = make(map[string]*state.Session)

	if err != nil {
		tx.Rollback()
		c.postCommit = nil
		return err
	}

	hooks := c.postCommit
	c.postCommit = nil
	for _, h := range hooks {
		h(c)
	}
	return nil
}

func (c *Context) txnNested(fn func() error) error {
	name := fmt.Sprintf("jmap_sp_%d", c.depth)
	if err := c.tx.SavePoint(name).Error; err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	saved := make(map[string]map[string]int64, len(c.states))
	for acc, s := range c.states {
		saved[acc] = s.Localize()
	}

	c.depth++
	err := fn()
	c.depth--

	if err != nil {
		if rbErr := c.tx.RollbackTo(name).Error; rbErr != nil {
			return fmt.Errorf("rollback to %s after %w: %v", name, err, rbErr)
		}
		for acc, s := range c.states {
			if outer, ok := saved[acc]; ok {
				s.Restore(outer)
			} else {
				// Session born inside the failed scope: drop its bumps.
				s.Restore(make(map[string]int64))
			}
		}
		return err
	}

	for acc, s := range c.states {
		if outer, ok := saved[acc]; ok {
			s.Fold(outer)
		}
	}
	return nil
}

// commitStates flushes every session's pending bumps, in account order.
func (c *Context) commitStates() error {
	accounts := make([]string, 0, len(c.states))
	for acc := range c.states {
		accounts = append(accounts, acc)
	}
	sort.Strings(accounts)

	for _, acc := range accounts {
		if err := c.states[acc].Commit(c.tx); err != nil {
			return err
		}
	}
	return nil
}
