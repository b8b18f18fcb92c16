package jmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/jmapd/internal/logger"
	"github.com/marmos91/jmapd/pkg/jmap/jsonptr"
	"github.com/marmos91/jmapd/pkg/jmap/state"
)

// Invocation is one unit of dispatcher work: either a plain call or a
// multicall spliced in by the optimizer.
type Invocation struct {
	Call  *Call
	Multi Multicall
}

// Execute runs a batched call list and returns the accumulated sentence
// collection. Per-call failures become error sentences and the batch
// continues; an error return means the whole request failed and no
// partial response should be sent.
func (e *Engine) Execute(c *Context, calls []Call) (SentenceCollection, error) {
	if len(calls) > MaxCallsPerRequest {
		return SentenceCollection{errSentence(ErrTooManyMethods, "")}, nil
	}

	invs := make([]Invocation, 0, len(calls))
	for i := range calls {
		call := calls[i]
		if !call.HasClientID && e.assignClientIDs {
			call.ClientID = "x" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
			call.HasClientID = true
		}
		invs = append(invs, Invocation{Call: &call})
	}

	if e.optimize != nil {
		invs = e.optimize(c, invs)
	}

	err := c.TxnDo(func() error {
		for _, inv := range invs {
			e.executeOne(c, inv)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, state.ErrBlocked) {
			// The request lost the state-row race at commit; the client
			// must replay the whole batch.
			return SentenceCollection{
				errSentence(TryAgainError("blocked by another client"), ""),
			}, nil
		}
		return nil, err
	}

	return c.Sentences(), nil
}

func (e *Engine) executeOne(c *Context, inv Invocation) {
	start := time.Now()

	if inv.Multi != nil {
		e.executeMulticall(c, inv.Multi)
		c.RecordCallInfo(inv.Multi.CallIdent(), time.Since(start))
		return
	}

	call := inv.Call
	defer func() {
		elapsed := time.Since(start)
		c.RecordCallInfo(call.Method, elapsed)
		logger.Debug("method call completed",
			"method", call.Method,
			"client_id", call.ClientID,
			"duration_ms", logger.Duration(start),
		)
	}()

	if !call.HasClientID {
		c.pushSentence(errSentence(InvalidArgumentsError("missing clientId"), ""))
		return
	}

	handler := e.HandlerFor(call.Method)
	if handler == nil {
		c.pushSentence(errSentence(ErrUnknownMethod, call.ClientID))
		return
	}

	args, refErr := c.expandReferences(call.Args)
	if refErr != nil {
		c.pushSentence(errSentence(refErr, call.ClientID))
		return
	}

	if c.MayCall != nil && !c.MayCall(call.Method, args) {
		c.pushSentence(errSentence(ErrForbidden, call.ClientID))
		return
	}

	var results []Result
	err := c.TxnDo(func() error {
		var err error
		results, err = invokeHandler(handler, c, args)
		return err
	})
	if err != nil {
		var me *MethodError
		switch {
		case errors.As(err, &me):
			// Internal errors were already reported at the handler
			// boundary that produced them; never re-report.
			c.pushSentence(errSentence(me, call.ClientID))
		case errors.Is(err, state.ErrBlocked):
			c.pushSentence(errSentence(TryAgainError("blocked by another client"), call.ClientID))
		default:
			guid := e.fileException(c, err)
			c.pushSentence(errSentence(InternalError(guid), call.ClientID))
		}
		return
	}

	for i, r := range results {
		c.pushSentence(Sentence{Name: r.Name, Args: r.Args, ClientID: call.ClientID})
		if r.Name == "error" && i < len(results)-1 {
			// RFC 8620 forbids results after an error for the same call.
			e.fileException(c, fmt.Errorf(
				"handler for %s emitted %d results after an error result",
				call.Method, len(results)-i-1))
			break
		}
	}
}

func (e *Engine) executeMulticall(c *Context, m Multicall) {
	var pairs []BoundResult
	err := c.TxnDo(func() error {
		var err error
		pairs, err = m.Execute(c)
		return err
	})
	if err != nil {
		guid := e.fileException(c, fmt.Errorf("multicall %s: %w", m.CallIdent(), err))
		c.pushSentence(errSentence(InternalError(guid), ""))
		return
	}
	for _, p := range pairs {
		c.pushSentence(Sentence{Name: p.Result.Name, Args: p.Result.Args, ClientID: p.ClientID})
	}
}

// invokeHandler calls the handler, converting a panic into an error so
// the surrounding savepoint still rolls back.
func invokeHandler(h Handler, c *Context, args map[string]any) (results []Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(c, args)
}

// resultReference is the decoded shape of a back-reference value.
type resultReference struct {
	ResultOf string
	Name     string
	Path     string
}

// expandReferences resolves every "#key" back-reference in args against
// the sentences accumulated so far, returning a new argument map with
// the referenced values deep-copied in under "key".
func (c *Context) expandReferences(args map[string]any) (map[string]any, *MethodError) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	for k, v := range args {
		if !strings.HasPrefix(k, "#") {
			continue
		}
		key := strings.TrimPrefix(k, "#")

		if _, dup := args[key]; dup {
			return nil, ResultReferenceError(fmt.Sprintf(
				"arguments %q and %q cannot both be present", key, k))
		}

		ref, ok := parseResultReference(v)
		if !ok {
			return nil, ResultReferenceError("malformed ResultReference")
		}

		sent, found := c.Sentences().FirstByClientID(ref.ResultOf)
		if !found || sent.Name != ref.Name {
			return nil, ResultReferenceError(fmt.Sprintf(
				"no result of name %q for client id %q", ref.Name, ref.ResultOf))
		}

		// Normalizing through JSON both deep-copies the referenced value
		// and reduces it to the plain shapes the pointer resolver walks.
		doc, err := normalizeJSON(sent.Args)
		if err != nil {
			return nil, ResultReferenceError(fmt.Sprintf(
				"could not resolve ResultReference: %v", err))
		}
		val, err := jsonptr.Resolve(doc, ref.Path)
		if err != nil {
			return nil, ResultReferenceError(fmt.Sprintf(
				"error resolving ResultReference path: %v", err))
		}

		out[key] = val
		delete(out, k)
	}

	return out, nil
}

// parseResultReference accepts exactly {resultOf, name, path}, all
// strings.
func parseResultReference(v any) (resultReference, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 3 {
		return resultReference{}, false
	}
	resultOf, ok1 := m["resultOf"].(string)
	name, ok2 := m["name"].(string)
	path, ok3 := m["path"].(string)
	if !ok1 || !ok2 || !ok3 {
		return resultReference{}, false
	}
	return resultReference{ResultOf: resultOf, Name: name, Path: path}, true
}

func normalizeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
