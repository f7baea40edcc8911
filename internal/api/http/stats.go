package http

import (
	"net/http"
	"strconv"

	"github.com/h0rn3t/timescaledb/internal/observability"
)

const defaultTopColumns = 20

// StatsResponse represents the qual statistics response.
type StatsResponse struct {
	Totals    observability.PlanTotals    `json:"totals"`
	Columns   []observability.ColumnStats `json:"columns"`
	RequestID string                      `json:"request_id"`
}

// StatsHandler handles GET /v1/stats requests.
type StatsHandler struct {
	stats *observability.QualStats
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(stats *observability.QualStats) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// ServeHTTP handles the stats HTTP request. The optional top parameter
// limits the number of columns returned.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodGet {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	top := defaultTopColumns
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeMessage(w, http.StatusBadRequest, "top must be a non-negative integer", requestID)
			return
		}
		top = n
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Totals:    h.stats.Totals(),
		Columns:   h.stats.GetTopColumns(top),
		RequestID: requestID,
	})
}
