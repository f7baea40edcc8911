package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/h0rn3t/timescaledb/internal/observability"
	"github.com/h0rn3t/timescaledb/internal/query/planner"
)

// maxRequestBytes bounds the size of an explain request body.
const maxRequestBytes = 1 << 20

// Planner plans SQL statements.
type Planner interface {
	PlanSQL(ctx context.Context, sql string) (*planner.Plan, error)
}

// ExplainRequest represents an explain request.
type ExplainRequest struct {
	SQL    string `json:"sql"`
	Format string `json:"format,omitempty"`
}

// ExplainResponse represents the explain response. Plan holds the text
// rendering for the text format and the JSON plan tree otherwise.
type ExplainResponse struct {
	Plan      json.RawMessage `json:"plan"`
	Summary   PlanSummary     `json:"summary"`
	RequestID string          `json:"request_id"`
}

// PlanSummary contains headline figures of a plan.
type PlanSummary struct {
	Command          string    `json:"command"`
	QueryID          uint64    `json:"query_id"`
	TotalCost        float64   `json:"total_cost"`
	DecompressedRows float64   `json:"decompressed_rows"`
	Relations        []Scanned `json:"relations"`
	PlanningTimeMs   float64   `json:"planning_time_ms"`
}

// Scanned reports chunk pruning for one relation.
type Scanned struct {
	Name             string `json:"name"`
	Table            string `json:"table"`
	Path             string `json:"path,omitempty"`
	ChunksScanned    int    `json:"chunks_scanned"`
	ChunksTotal      int    `json:"chunks_total"`
	RuntimeExclusion bool   `json:"runtime_exclusion"`
}

// ExplainHandler handles POST /v1/explain requests.
type ExplainHandler struct {
	planner Planner
	metrics *observability.Metrics
	stats   *observability.QualStats
	logger  *slog.Logger
}

// NewExplainHandler creates a new explain handler. metrics and stats may be nil.
func NewExplainHandler(p Planner, metrics *observability.Metrics, stats *observability.QualStats, logger *slog.Logger) *ExplainHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExplainHandler{planner: p, metrics: metrics, stats: stats, logger: logger}
}

// ServeHTTP handles the explain HTTP request.
func (h *ExplainHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req ExplainRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.SQL == "" {
		writeMessage(w, http.StatusBadRequest, "sql is required", requestID)
		return
	}
	format, err := planner.ParseFormat(req.Format)
	if err != nil {
		writeError(w, err, requestID)
		return
	}

	start := time.Now()
	plan, err := h.planner.PlanSQL(r.Context(), req.SQL)
	elapsed := time.Since(start)
	if err != nil {
		if h.metrics != nil {
			h.metrics.ObserveError(err, elapsed)
		}
		h.logger.Warn("planning failed", "error", err, "request_id", requestID)
		writeError(w, err, requestID)
		return
	}
	if h.metrics != nil {
		h.metrics.ObservePlan(plan, elapsed)
	}
	if h.stats != nil {
		h.stats.RecordPlan(plan)
	}

	rendered, err := plan.Explain(format)
	if err != nil {
		writeError(w, err, requestID)
		return
	}
	if format == planner.FormatText {
		if rendered, err = json.Marshal(string(rendered)); err != nil {
			writeMessage(w, http.StatusInternalServerError, err.Error(), requestID)
			return
		}
	}

	writeJSON(w, http.StatusOK, ExplainResponse{
		Plan:      rendered,
		Summary:   summarize(plan, elapsed),
		RequestID: requestID,
	})
}

func summarize(plan *planner.Plan, elapsed time.Duration) PlanSummary {
	s := PlanSummary{
		Command:          plan.Command,
		QueryID:          plan.QueryID,
		TotalCost:        plan.TotalCost(),
		DecompressedRows: plan.DecompressedRows(),
		Relations:        make([]Scanned, 0, len(plan.Relations)),
		PlanningTimeMs:   float64(elapsed.Microseconds()) / 1000,
	}
	for _, rp := range plan.Relations {
		sc := Scanned{Name: rp.Relation.Name, Table: rp.Relation.Table.Name}
		if rp.Path != nil {
			sc.Path = rp.Path.Kind.String()
		}
		if pr := rp.Pruning; pr != nil {
			sc.ChunksScanned = len(pr.Chunks)
			sc.ChunksTotal = pr.Total
			sc.RuntimeExclusion = pr.RuntimeExclusion
		}
		s.Relations = append(s.Relations, sc)
	}
	return s
}
