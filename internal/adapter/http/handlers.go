package http

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	hrotel "github.com/Strob0t/hookrelay/internal/adapter/otel"
	"github.com/Strob0t/hookrelay/internal/adapter/ws"
	"github.com/Strob0t/hookrelay/internal/domain"
	"github.com/Strob0t/hookrelay/internal/logger"
	"github.com/Strob0t/hookrelay/internal/port/sessionstore"
	"github.com/Strob0t/hookrelay/internal/service"
)

// Headers set by the hook adapter.
const (
	HeaderProcessContext = "X-Hook-Process-Context"
	HeaderCwd            = "X-Hook-Cwd"
)

const maxSessionIDLen = 256

// HookResponse is the body the host tool expects from a hook.
type HookResponse struct {
	Continue bool `json:"continue"`
}

// Handlers serves the ingest and observer listeners.
type Handlers struct {
	Relay        *service.Relay
	Sessions     sessionstore.Store
	Observers    *ws.Hub
	MaxBodyBytes int64
}

// IngestEvent accepts one raw hook event. It answers {"continue":true} no
// matter what happened to the event so the host tool is never blocked.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	processContext := r.Header.Get(HeaderProcessContext)
	if processContext == "" {
		processContext = r.Header.Get(HeaderCwd)
	}
	ctx, span := hrotel.StartIngestSpan(r.Context(), processContext)
	defer span.End()

	body := r.Body
	if h.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		// The partial body is still normalized; it becomes a malformed event.
		slog.Warn("hook body read failed", "process_context", processContext, "read", len(data), "error", err)
	}

	ev, err := h.Relay.Ingest(ctx, data, processContext)
	span.SetAttributes(
		attribute.String("hook.kind", string(ev.Kind)),
		attribute.String("session.id", ev.SessionID),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.From(logger.WithSessionID(ctx, ev.SessionID)).Warn("event not forwarded to observers",
			"kind", string(ev.Kind), "error", err)
	}

	writeJSON(w, http.StatusOK, HookResponse{Continue: true})
}

// Health reports pool, session, correlator and router state.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Relay.Health())
}

// GetSession returns the latest flushed document of a session.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	if h.Sessions == nil {
		writeError(w, http.StatusNotFound, "session store not configured")
		return
	}
	id := urlParam(r, "id")
	if len(id) > maxSessionIDLen {
		writeDomainError(w, fmt.Errorf("%w: session id longer than %d bytes", domain.ErrValidation, maxSessionIDLen), "")
		return
	}
	doc, err := h.Sessions.Load(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

