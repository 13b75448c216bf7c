package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/convograph/convograph/internal/event"
	"github.com/convograph/convograph/internal/graph"
	"github.com/convograph/convograph/internal/ingest"
	"github.com/convograph/convograph/internal/metrics"
	"github.com/convograph/convograph/internal/query"
	"github.com/convograph/convograph/internal/snapshot"
	"github.com/convograph/convograph/internal/stats"
)

type handlers struct {
	svc  *query.Service
	pipe *ingest.Pipeline
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps the error taxonomy onto HTTP status codes. Callers get a
// typed error or a result, never a torn response.
func statusFor(err error) int {
	switch {
	case errors.Is(err, graph.ErrUnknownConversation),
		errors.Is(err, graph.ErrUnknownParticipant),
		errors.Is(err, graph.ErrUnknownEdge):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrDuplicateConversation),
		errors.Is(err, graph.ErrAlreadyResolved),
		errors.Is(err, graph.ErrAlreadyClosed):
		return http.StatusConflict
	case errors.Is(err, graph.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, graph.ErrSelfDelegation),
		errors.Is(err, graph.ErrOutOfOrderTimestamp),
		errors.Is(err, event.ErrMalformed),
		errors.Is(err, event.ErrUnsupportedType),
		errors.Is(err, query.ErrBadCursor):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func (h *handlers) postEvent(w http.ResponseWriter, r *http.Request) {
	var e event.InteractionEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&e); err != nil {
		metrics.EventsRejected.WithLabelValues("decode").Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid event payload"})
		return
	}
	if err := h.pipe.Handle(r.Context(), &e); err != nil {
		metrics.EventsRejected.WithLabelValues(rejectionReason(err)).Inc()
		writeError(w, err)
		return
	}
	metrics.EventsIngested.WithLabelValues(string(e.Type)).Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": e.EventID})
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, event.ErrMalformed):
		return "malformed"
	case errors.Is(err, event.ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, graph.ErrOutOfOrderTimestamp):
		return "out_of_order"
	case errors.Is(err, graph.ErrSelfDelegation):
		return "self_delegation"
	default:
		return "other"
	}
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (h *handlers) conversationTimeline(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.ConversationTimeline(r.Context(), chi.URLParam(r, "id"),
		queryInt(r, "limit", 50), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) agentScorecard(w http.ResponseWriter, r *http.Request) {
	card, err := h.svc.AgentScorecard(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *handlers) collaborationGraph(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.CollaborationGraph(r.Context(), int64(queryInt(r, "min", 1)),
		queryInt(r, "limit", 50), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) routeRecommendation(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	candidates := strings.Split(r.URL.Query().Get("candidates"), ",")
	clean := candidates[:0]
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			clean = append(clean, c)
		}
	}
	ranked, err := h.svc.RouteRecommendation(r.Context(), from, clean)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "ranking": ranked})
}

func (h *handlers) popularIntents(w http.ResponseWriter, r *http.Request) {
	intents, err := h.svc.PopularIntents(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intents)
}

func (h *handlers) overview(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Overview(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// SnapshotHandler serves point-in-time exports of the full state.
type SnapshotHandler struct {
	Store  *graph.Store
	Engine *stats.Engine
}

func (s *SnapshotHandler) export(w http.ResponseWriter, r *http.Request) {
	snap, err := snapshot.Export(r.Context(), s.Store, s.Engine)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
