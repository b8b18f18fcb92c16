// Package jmap implements the core JMAP (RFC 8620) request engine:
// batched method dispatch with back-references, per-account state
// bookkeeping, and the per-request context the generated method
// handlers run against.
package jmap

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/jmapd/internal/logger"
	"github.com/marmos91/jmapd/pkg/jmap/state"
	"github.com/marmos91/jmapd/pkg/jmap/store"
)

// MaxCallsPerRequest is the batch size limit; larger batches are
// rejected with tooManyMethods before any call runs.
const MaxCallsPerRequest = 5000

// Handler executes one method call against the request context.
type Handler func(c *Context, args map[string]any) ([]Result, error)

// ExceptionReporter files out-of-band crash reports. FileReport returns
// a correlation guid; the guid is the only detail a client ever sees.
type ExceptionReporter interface {
	FileReport(c *Context, err error) string
}

// LogReporter files exception reports to the process log.
type LogReporter struct{}

// FileReport logs the error and returns a fresh correlation guid.
func (LogReporter) FileReport(c *Context, err error) string {
	guid := uuid.NewString()
	logger.Error("exception report filed", "guid", guid, "error", err)
	return guid
}

// Optimizer rewrites the invocation list before dispatch, typically
// coalescing runs of identical calls into a single multicall while
// preserving per-call response ordering.
type Optimizer func(c *Context, invs []Invocation) []Invocation

// Engine holds the process-wide immutable request machinery: the handler
// map built at startup and the schema handle. All mutable per-request
// state lives on Context.
type Engine struct {
	conn            *store.Conn
	handlers        map[string]Handler
	reporter        ExceptionReporter
	assignClientIDs bool
	optimize        Optimizer
}

// Option configures an Engine.
type Option func(*Engine)

// WithReporter replaces the default log-backed exception reporter.
func WithReporter(r ExceptionReporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithClientIDAssignment makes the dispatcher synthesize missing
// clientIds instead of rejecting the call.
func WithClientIDAssignment() Option {
	return func(e *Engine) { e.assignClientIDs = true }
}

// WithOptimizer installs a call-list optimizer.
func WithOptimizer(o Optimizer) Option {
	return func(e *Engine) { e.optimize = o }
}

// NewEngine creates an engine over a schema handle and a handler map.
// The handler map is not copied and must not change after this call.
func NewEngine(conn *store.Conn, handlers map[string]Handler, opts ...Option) *Engine {
	e := &Engine{
		conn:     conn,
		handlers: handlers,
		reporter: LogReporter{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Conn returns the engine's schema handle.
func (e *Engine) Conn() *store.Conn {
	return e.conn
}

// HandlerFor returns the handler registered for a method, or nil.
func (e *Engine) HandlerFor(method string) Handler {
	return e.handlers[method]
}

// NewContext creates a fresh per-request context.
func (e *Engine) NewContext(ctx context.Context) *Context {
	return &Context{
		ctx:         ctx,
		engine:      e,
		conn:        e.conn,
		creationIDs: make(map[creationKey]string),
		callInfo:    make(map[string][]time.Duration),
		states:      make(map[string]*state.Session),
	}
}

// ReportException files an exception report for a failure caught
// outside the dispatcher (typically the transport) and returns its
// correlation guid.
func (e *Engine) ReportException(c *Context, err error) string {
	return e.fileException(c, err)
}

func (e *Engine) fileException(c *Context, err error) string {
	guid := e.reporter.FileReport(c, err)
	c.AddExceptionGUID(guid)
	return guid
}
