package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"metering-billing/internal/audit"
	estimationapp "metering-billing/internal/estimation/application"
	"metering-billing/internal/observability/logging"
	readingsapp "metering-billing/internal/readings/application"
	scope "metering-billing/internal/scope/domain"
)

// Consolidator runs one consolidation window.
type Consolidator interface {
	Consolidate(ctx context.Context, start, end time.Time, meterNos []string) (readingsapp.ConsolidationResult, error)
}

// Allocator runs one estimate allocation window.
type Allocator interface {
	Allocate(ctx context.Context, ref scope.Ref, start, end time.Time, method string) (estimationapp.AllocationResult, error)
}

// JobsHandler serves manual job triggers.
type JobsHandler struct {
	consolidator Consolidator
	allocator    Allocator
	audit        audit.Logger
	logger       *zap.Logger
}

// NewJobsHandler constructs a JobsHandler.
func NewJobsHandler(consolidator Consolidator, allocator Allocator, auditLogger audit.Logger, logger *zap.Logger) (*JobsHandler, error) {
	if consolidator == nil {
		return nil, errors.New("jobs handler: nil consolidator")
	}
	if allocator == nil {
		return nil, errors.New("jobs handler: nil allocator")
	}
	return &JobsHandler{
		consolidator: consolidator,
		allocator:    allocator,
		audit:        auditLogger,
		logger:       logging.OrNop(logger),
	}, nil
}

type consolidateRequest struct {
	Start    string   `json:"start"`
	End      string   `json:"end"`
	MeterNos []string `json:"meter_nos"`
}

type allocateRequest struct {
	ScopeType string `json:"scope_type"`
	ScopeID   int64  `json:"scope_id"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Method    string `json:"method"`
}

// ServeHTTP handles POST /api/v1/jobs/consolidate and POST /api/v1/jobs/allocate.
func (h *JobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/api/v1/jobs/consolidate":
		h.handleConsolidate(w, r)
	case "/api/v1/jobs/allocate":
		h.handleAllocate(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *JobsHandler) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	var req consolidateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, end, err := parseWindow("start", req.Start, "end", req.End)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := h.consolidator.Consolidate(r.Context(), start, end, req.MeterNos)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"written": result.Written, "groups": result.Groups})

	logAudit(r, h.audit, audit.Entry{Action: audit.ActionConsolidate, ResourceType: "job"}, map[string]any{
		"start":     formatTime(start),
		"end":       formatTime(end),
		"meter_nos": req.MeterNos,
		"written":   result.Written,
	})
}

func (h *JobsHandler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ref, err := scope.ParseRef(req.ScopeType, req.ScopeID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, end, err := parseWindow("start", req.Start, "end", req.End)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := h.allocator.Allocate(r.Context(), ref, start, end, req.Method)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"synthetic_rows": result.SyntheticRows,
		"buckets":        result.Buckets,
		"meters":         result.Meters,
	})

	logAudit(r, h.audit, audit.Entry{Action: audit.ActionAllocate, ResourceType: "job", Scope: ref.String()}, map[string]any{
		"start":          formatTime(start),
		"end":            formatTime(end),
		"method":         req.Method,
		"synthetic_rows": result.SyntheticRows,
	})
}
