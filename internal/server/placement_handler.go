package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/auth"
	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/groups"
	"github.com/limiquantix/vmplacer/internal/provision"
	"github.com/limiquantix/vmplacer/internal/server/middleware"
	"github.com/limiquantix/vmplacer/internal/services/planner"
)

const maxSpecBytes = 1 << 20

// Planner runs and looks up placement runs.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) (*domain.PlacementRun, error)
	Get(ctx context.Context, id string) (*domain.PlacementRun, error)
	List(ctx context.Context, filter domain.RunFilter) ([]*domain.PlacementRun, error)
	Latest(ctx context.Context, cluster string) (*domain.PlacementRun, error)
	WaitReady(ctx context.Context, runID string) (*provision.Report, error)
}

// PlacementHandler serves the placement REST API.
type PlacementHandler struct {
	planner Planner
	logger  *zap.Logger
}

// NewPlacementHandler creates a new placement handler.
func NewPlacementHandler(p Planner, logger *zap.Logger) *PlacementHandler {
	return &PlacementHandler{
		planner: p,
		logger:  logger.Named("placement-handler"),
	}
}

// RegisterRoutes registers the placement API routes.
// Routes:
//   - POST /api/v1/placements - Place a cluster spec (?refresh=true skips the snapshot cache)
//   - GET  /api/v1/placements - List runs (?cluster=, ?limit=)
//   - GET  /api/v1/placements/{id} - Get a run
//   - POST /api/v1/placements/{id}/wait - Power on the VMs of a run and wait for their IPs
//   - GET  /api/v1/clusters/{cluster}/latest - Latest run of a cluster
func (h *PlacementHandler) RegisterRoutes(mux *http.ServeMux, authn *middleware.Authenticator) {
	mux.Handle("POST /api/v1/placements", authn.Require(auth.ScopeWrite, http.HandlerFunc(h.createPlacement)))
	mux.Handle("GET /api/v1/placements", authn.Require(auth.ScopeRead, http.HandlerFunc(h.listPlacements)))
	mux.Handle("GET /api/v1/placements/{id}", authn.Require(auth.ScopeRead, http.HandlerFunc(h.getPlacement)))
	mux.Handle("POST /api/v1/placements/{id}/wait", authn.Require(auth.ScopeWrite, http.HandlerFunc(h.waitPlacement)))
	mux.Handle("GET /api/v1/clusters/{cluster}/latest", authn.Require(auth.ScopeRead, http.HandlerFunc(h.latestPlacement)))
}

func (h *PlacementHandler) createPlacement(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSpecBytes))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "invalid_body", err.Error())
		return
	}
	spec, err := groups.ParseClusterSpec(body)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	req := planner.Request{Spec: spec}
	req.Refresh, _ = strconv.ParseBool(r.URL.Query().Get("refresh"))
	if claims, ok := middleware.GetClaims(r.Context()); ok {
		req.RequestedBy = claims.Subject
	}
	run, err := h.planner.Plan(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, run)
}

func (h *PlacementHandler) listPlacements(w http.ResponseWriter, r *http.Request) {
	filter := domain.RunFilter{Cluster: r.URL.Query().Get("cluster")}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	runs, err := h.planner.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *PlacementHandler) getPlacement(w http.ResponseWriter, r *http.Request) {
	run, err := h.planner.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func (h *PlacementHandler) waitPlacement(w http.ResponseWriter, r *http.Request) {
	report, err := h.planner.WaitReady(r.Context(), r.PathValue("id"))
	if err != nil && report == nil {
		h.writeDomainError(w, err)
		return
	}
	if err != nil {
		h.logger.Warn("Wait interrupted", zap.String("run_id", r.PathValue("id")), zap.Error(err))
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *PlacementHandler) latestPlacement(w http.ResponseWriter, r *http.Request) {
	run, err := h.planner.Latest(r.Context(), r.PathValue("cluster"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// writeJSON writes a JSON response.
func (h *PlacementHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

// writeError writes an error JSON response.
func (h *PlacementHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.logger.Warn("API error",
		zap.Int("status", status),
		zap.String("code", code),
		zap.String("message", message),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    code,
		"message": message,
	})
}

func (h *PlacementHandler) writeDomainError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	h.writeError(w, status, code, err.Error())
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
