// Package admin serves the read-only monitoring view of a data source over
// HTTP. Nothing reachable from here can lease, restore or close a
// connection.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/go-i2p/dbcp/lib/datasource"
	apperrors "github.com/go-i2p/dbcp/lib/errors"
	"github.com/go-i2p/dbcp/lib/metrics"
	"github.com/go-i2p/dbcp/lib/validation"
	"github.com/go-i2p/dbcp/version"
)

// Source is what the handlers read from. *datasource.Monitor implements it.
type Source interface {
	Snapshot() datasource.Snapshot
	Tracking() bool
	Taken(olderThan time.Duration) []datasource.TakenConn
	Metrics() *metrics.Registry
}

var _ Source = (*datasource.Monitor)(nil)

// Handler routes the monitoring endpoints.
type Handler struct {
	src Source
}

// NewHandler returns a chi router exposing src.
func NewHandler(src Source) chi.Router {
	h := &Handler{src: src}
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Status)
	r.Get("/healthz", h.Liveness)
	r.Get("/readyz", h.Readiness)
	r.Get("/version", h.Version)
	r.Route("/pool", func(r chi.Router) {
		r.Get("/", h.Pool)
		r.Get("/taken", h.Taken)
	})
	r.Get("/cache", h.Cache)
	r.Get("/breaker", h.Breaker)
	r.Method(http.MethodGet, "/metrics", h.src.Metrics().Handler())
}

// TakenResponse lists leased connections.
type TakenResponse struct {
	OlderThan   string                 `json:"older_than"`
	Count       int                    `json:"count"`
	Connections []datasource.TakenConn `json:"connections"`
}

// Status writes the full snapshot.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.src.Snapshot())
}

// Liveness always succeeds while the process serves requests.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness succeeds only while the data source is working.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	state := h.src.Snapshot().State
	status := http.StatusOK
	if state != datasource.StateWorking {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(state)})
}

// Version writes the build information.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

// Pool writes the pool counters.
func (h *Handler) Pool(w http.ResponseWriter, r *http.Request) {
	snap := h.src.Snapshot()
	if snap.Pool == nil {
		writeError(w, fmt.Errorf("%w: data source %s is %s", apperrors.ErrUnavailable, snap.Name, snap.State))
		return
	}
	writeJSON(w, http.StatusOK, snap.Pool)
}

// Taken writes the connections leased for at least ?older_than.
func (h *Handler) Taken(w http.ResponseWriter, r *http.Request) {
	if !h.src.Tracking() {
		writeError(w, fmt.Errorf("%w: connection tracking is disabled", apperrors.ErrInvalidState))
		return
	}

	olderThan, err := validation.Duration("older_than", r.URL.Query().Get("older_than"))
	if err == nil {
		err = validation.NonNegativeDuration("older_than", olderThan)
	}
	if err != nil {
		writeError(w, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err))
		return
	}

	conns := h.src.Taken(olderThan)
	if conns == nil {
		conns = []datasource.TakenConn{}
	}
	writeJSON(w, http.StatusOK, TakenResponse{
		OlderThan:   olderThan.String(),
		Count:       len(conns),
		Connections: conns,
	})
}

// Cache writes the statement cache counters.
func (h *Handler) Cache(w http.ResponseWriter, r *http.Request) {
	snap := h.src.Snapshot()
	if snap.Cache == nil {
		writeError(w, fmt.Errorf("%w: statement cache is disabled", apperrors.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, snap.Cache)
}

// Breaker writes the circuit breaker state.
func (h *Handler) Breaker(w http.ResponseWriter, r *http.Request) {
	snap := h.src.Snapshot()
	if snap.Breaker == nil {
		writeError(w, fmt.Errorf("%w: circuit breaker is disabled", apperrors.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, snap.Breaker)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Debug("json encode error")
	}
}

// writeError maps err to a status code and writes its message.
func writeError(w http.ResponseWriter, err error) {
	e := apperrors.FromSentinel(err)
	writeJSON(w, e.HTTPStatus(), e)
}
