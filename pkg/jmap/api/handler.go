package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/marmos91/jmapd/internal/logger"
	"github.com/marmos91/jmapd/pkg/jmap"
)

// maxBodyBytes caps the request body; a batch of 5,000 calls fits
// comfortably.
const maxBodyBytes = 16 << 20

// ContextConfigurer prepares the request context before dispatch; the
// embedding application hangs authentication off it (AccountID,
// IsSystem, MayCall).
type ContextConfigurer func(r *http.Request, c *jmap.Context)

// Handler is the JMAP HTTP entry point. It accepts either a bare array
// of call triples or a {"methodCalls": [...]} wrapper and mirrors the
// shape in the response.
type Handler struct {
	engine    *jmap.Engine
	metrics   *Metrics
	configure ContextConfigurer
}

// NewHandler creates the JMAP endpoint handler. metrics and configure
// may be nil.
func NewHandler(engine *jmap.Engine, metrics *Metrics, configure ContextConfigurer) *Handler {
	return &Handler{engine: engine, metrics: metrics, configure: configure}
}

type wrappedRequest struct {
	MethodCalls []jmap.Call `json:"methodCalls"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	txnID := uuid.NewString()
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Ix-Transaction-ID", txnID)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeDecodeError(w)
		return
	}

	calls, wrapped, ok := decodeCalls(body)
	if !ok {
		h.writeDecodeError(w)
		return
	}

	c := h.engine.NewContext(r.Context())
	if h.configure != nil {
		h.configure(r, c)
	}

	sentences, err := h.engine.Execute(c, calls)
	if err != nil {
		// A top-level transaction failure yields no partial response.
		guid := h.engine.ReportException(c, err)
		logger.Error("request failed",
			"transaction_id", txnID,
			"guid", guid,
			"error", err,
		)
		h.writeStatus(w, http.StatusInternalServerError, map[string]any{
			"error": "internal",
			"guid":  guid,
		})
		return
	}

	if h.metrics != nil {
		h.metrics.observeCalls(c.CallInfo())
	}

	var payload any = sentences
	if wrapped {
		payload = map[string]any{"methodResponses": sentences}
	}
	h.writeStatus(w, http.StatusOK, payload)
}

func (h *Handler) writeDecodeError(w http.ResponseWriter) {
	h.writeStatus(w, http.StatusBadRequest, map[string]any{
		"error": "could not decode request",
	})
}

func (h *Handler) writeStatus(w http.ResponseWriter, status int, payload any) {
	if h.metrics != nil {
		h.metrics.observeRequest(status)
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("response encode failed", "error", err)
	}
}

// decodeCalls parses the body as either a bare call array or the
// {"methodCalls": [...]} wrapper; wrapped reports which shape was seen
// so the response can mirror it.
func decodeCalls(body []byte) (calls []jmap.Call, wrapped bool, ok bool) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, false, false
	}

	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &calls); err != nil {
			return nil, false, false
		}
		return calls, false, true
	}

	var req wrappedRequest
	if err := json.Unmarshal(trimmed, &req); err != nil || req.MethodCalls == nil {
		return nil, false, false
	}
	return req.MethodCalls, true, true
}
