package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/psantana5/syncwarden/internal/discover"
	"github.com/psantana5/syncwarden/internal/logging"
	"github.com/psantana5/syncwarden/internal/state"
	"github.com/psantana5/syncwarden/internal/store"
	"github.com/psantana5/syncwarden/internal/tracing"
	"github.com/psantana5/syncwarden/internal/wrapper"
)

// Supervisor is what the control API drives. *state.AppState implements it.
type Supervisor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Snapshot() state.Snapshot
}

// HealthReporter is implemented by supervisors that track process-table
// health. *state.AppState implements it.
type HealthReporter interface {
	ScanHealth() discover.HealthReport
}

// ActionResult is the body of /start and /stop responses.
type ActionResult struct {
	Started bool           `json:"started,omitempty"`
	Stopped bool           `json:"stopped,omitempty"`
	Warning string         `json:"warning,omitempty"`
	Status  state.Snapshot `json:"status"`
}

// Handler serves the local control API.
type Handler struct {
	sup     Supervisor
	journal store.Journal
	metrics http.Handler
	version string
	logger  *logging.Logger
}

// NewHandler creates a handler for sup.
func NewHandler(sup Supervisor, version string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{sup: sup, version: version, logger: logger.Component("api")}
}

// SetJournal enables /history.
func (h *Handler) SetJournal(j store.Journal) { h.journal = j }

// SetMetricsHandler enables /metrics.
func (h *Handler) SetMetricsHandler(m http.Handler) { h.metrics = m }

// RouterOptions carries the optional middleware.
type RouterOptions struct {
	Auth    *Authenticator
	Limiter *Limiter
	Tracing *tracing.Provider
}

// NewRouter builds the route table. Mutating routes are rate limited;
// everything but /health requires the API key when one is configured.
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	if opts.Tracing != nil {
		r.Use(tracing.HTTPMiddleware(opts.Tracing))
	}
	if opts.Auth.Enabled() {
		r.Use(opts.Auth.Middleware)
	}

	limit := func(next http.HandlerFunc) http.Handler {
		if opts.Limiter == nil {
			return next
		}
		return opts.Limiter.Middleware(IPKeyFunc)(next)
	}

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/status", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/history", h.History).Methods(http.MethodGet)
	r.Handle("/start", limit(h.Start)).Methods(http.MethodPost)
	r.Handle("/stop", limit(h.Stop)).Methods(http.MethodPost)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	}
	return r
}

// Health handles GET /health. It turns 503 once process enumeration keeps
// failing.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "healthy", "version": h.version}
	status := http.StatusOK
	if hr, ok := h.sup.(HealthReporter); ok {
		scan := hr.ScanHealth()
		body["status"] = scan.Status
		body["scan"] = scan
		if scan.Status == discover.HealthStatusUnhealthy.String() {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}

// Status handles GET /status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sup.Snapshot())
}

// Start handles POST /start
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	err := h.sup.Start(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ActionResult{Started: true, Status: h.sup.Snapshot()})
	case errors.Is(err, wrapper.ErrAlreadySpawned), errors.Is(err, state.ErrExternalRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Start request failed", logging.Fields{"error": err})
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Stop handles POST /stop. A refused kill of an external process is
// reported as a warning, not a failure.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	err := h.sup.Stop(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ActionResult{Stopped: true, Status: h.sup.Snapshot()})
	case !wrapper.IsFatal(err):
		writeJSON(w, http.StatusOK, ActionResult{Warning: err.Error(), Status: h.sup.Snapshot()})
	default:
		h.logger.Error("Stop request failed", logging.Fields{"error": err})
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// History handles GET /history?limit=N
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read journal", logging.Fields{"error": err})
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	if entries == nil {
		entries = []store.Transition{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
