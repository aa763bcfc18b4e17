// Package httpapi exposes the control plane's external HTTP interface:
// POST/GET/DELETE /vms, GET /stats, GET /metrics. It never talks to a
// driver directly — every handler goes through the desired state store
// and the pool manager.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vmfleet/fleetd/internal/backend"
	"github.com/vmfleet/fleetd/internal/cache"
	"github.com/vmfleet/fleetd/internal/desiredstate"
	"github.com/vmfleet/fleetd/internal/domain"
	"github.com/vmfleet/fleetd/internal/logging"
	"github.com/vmfleet/fleetd/internal/metrics"
	"github.com/vmfleet/fleetd/internal/poolmgr"
)

// statsCacheTTL is short enough that a stale read is never more than one
// beat behind the reconciler tick it's standing in for.
const statsCacheTTL = 500 * time.Millisecond

const statsCacheKey = "stats"

type Server struct {
	store *desiredstate.Store
	pool  *poolmgr.Manager
	cache cache.Cache
	mux   *http.ServeMux
}

// NewServer builds a Server with no stats cache; GET /stats always reads
// through to the pool manager.
func NewServer(store *desiredstate.Store, pool *poolmgr.Manager) *Server {
	return NewServerWithCache(store, pool, cache.NoopCache{})
}

// NewServerWithCache builds a Server whose GET /stats responses are cached
// in c for statsCacheTTL, taking repeat load off the pool manager's map
// snapshot under heavy polling.
func NewServerWithCache(store *desiredstate.Store, pool *poolmgr.Manager, c cache.Cache) *Server {
	s := &Server{store: store, pool: pool, cache: c, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /vms", s.handleCreate)
	s.mux.HandleFunc("GET /vms", s.handleList)
	s.mux.HandleFunc("GET /vms/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /vms/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

type createRequest struct {
	JobId  string      `json:"job_id"`
	Tenant string      `json:"tenant"`
	Spec   domain.Spec `json:"spec"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.JobId == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	tenant := req.Tenant
	if tenant == "" {
		tenant = req.JobId
	}
	if err := req.Spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.store.Put(ctx, domain.JobId(req.JobId), domain.Tenant(tenant), req.Spec); err != nil {
		writeMappedError(w, err)
		return
	}

	info, err := s.pool.Attach(ctx, domain.JobId(req.JobId), domain.Tenant(tenant), req.Spec)
	if err != nil {
		// the desired entry is durable even if attach can't complete yet;
		// the reconciler will retry on its next tick.
		if errors.Is(err, backend.ErrNoWarmVMAvailable) {
			writeJSON(w, http.StatusAccepted, map[string]string{
				"job_id": req.JobId,
				"status": "accepted",
			})
			return
		}
		writeMappedError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs := s.pool.Jobs(r.Context())
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobId(r.PathValue("id"))
	info, ok := s.pool.Lookup(r.Context(), jobID)
	if !ok {
		writeMappedError(w, backend.ErrUnknownJob)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobId(r.PathValue("id"))
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := s.store.Delete(ctx, jobID); err != nil {
		writeMappedError(w, err)
		return
	}
	if err := s.pool.Detach(ctx, jobID); err != nil {
		logging.Op().Warn("detach during delete failed", "job_id", string(jobID), "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if cached, err := s.cache.Get(ctx, statsCacheKey); err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(cached)
		return
	}

	stats := s.pool.Stats(ctx)
	body, err := json.Marshal(stats)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode stats")
		return
	}
	if err := s.cache.Set(ctx, statsCacheKey, body, statsCacheTTL); err != nil {
		logging.Op().Warn("stats cache write failed", "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeMappedError maps the typed backend errors onto HTTP status codes:
// unknown_job -> 404, no_warm_vm_available/store_unavailable/
// driver_unreachable -> 503, anything else -> 400.
func writeMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backend.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, backend.ErrNoWarmVMAvailable),
		errors.Is(err, backend.ErrStoreUnavailable),
		errors.Is(err, backend.ErrDriverUnreachable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
