package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h0rn3t/timescaledb/internal/catalog"
	"github.com/h0rn3t/timescaledb/internal/config"
	tserrors "github.com/h0rn3t/timescaledb/internal/errors"
	"github.com/h0rn3t/timescaledb/internal/logging"
	"github.com/h0rn3t/timescaledb/internal/observability"
	"github.com/h0rn3t/timescaledb/internal/query/planner"
)

// newTestServer serves the API over a metrics hypertable of four
// compressed chunks covering [0, 400).
func newTestServer(t *testing.T, mutate func(*config.PlannerConfig)) (*httptest.Server, *observability.QualStats) {
	t.Helper()
	ctx := context.Background()
	c := catalog.NewMemoryCatalog()
	require.NoError(t, c.RegisterTable(ctx, &catalog.Table{
		Name: "metrics", Kind: catalog.KindHypertable, PartitionColumn: "time", RowCount: 40000,
	}))
	for i := int64(0); i < 4; i++ {
		require.NoError(t, c.RegisterChunk(ctx, &catalog.Chunk{
			ID: i + 1, Name: fmt.Sprintf("_hyper_1_%d_chunk", i+1), Hypertable: "metrics",
			RangeStart: i * 100, RangeEnd: (i + 1) * 100,
			Compressed: true, RowCount: 10000, BatchCount: 10, BatchSize: 1000, CompressedPages: 20,
		}))
	}

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(&cfg.Planner)
	}
	reg := prometheus.NewRegistry()
	stats := observability.NewQualStats(time.Hour)
	router := NewRouter(RouterConfig{
		Planner:  planner.NewPlanner(c, cfg.Planner, cfg.Cost, logging.Discard()),
		Metrics:  observability.NewMetrics(reg),
		Stats:    stats,
		Gatherer: reg,
		Logger:   logging.Discard(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, stats
}

func postExplain(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/explain", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestExplainHandler_Text(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := postExplain(t, srv, `{"sql": "SELECT * FROM metrics WHERE time >= 100 AND time < 200"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, resp.Header.Get("X-Request-ID"), resp.Header.Get("X-Correlation-ID"))

	out := decode[ExplainResponse](t, resp)
	var text string
	require.NoError(t, json.Unmarshal(out.Plan, &text))
	assert.Contains(t, text, "Chunks: 1 of 4")
	assert.Contains(t, text, "DecompressChunk")

	assert.Equal(t, "SELECT", out.Summary.Command)
	assert.InDelta(t, 10000, out.Summary.DecompressedRows, 1e-9)
	require.Len(t, out.Summary.Relations, 1)
	assert.Equal(t, Scanned{Name: "metrics", Table: "metrics", Path: "Append", ChunksScanned: 1, ChunksTotal: 4}, out.Summary.Relations[0])
	assert.Equal(t, resp.Header.Get("X-Request-ID"), out.RequestID)
}

func TestExplainHandler_JSON(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := postExplain(t, srv, `{"sql": "SELECT * FROM metrics WHERE time < 200", "format": "json"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[ExplainResponse](t, resp)
	var plan []map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Plan, &plan))
	require.Len(t, plan, 1)
	assert.Contains(t, plan[0], "Plans")
}

func TestExplainHandler_Errors(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.PlannerConfig) {
		cfg.MaxDecompressedRowsPerDML = 10000
	})

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"invalid body", `{`, http.StatusBadRequest, ""},
		{"missing sql", `{}`, http.StatusBadRequest, ""},
		{"parse error", `{"sql": "SELECT FROM WHERE"}`, http.StatusBadRequest, tserrors.CodeParseError},
		{"unsupported", `{"sql": "SELECT * FROM metrics m LEFT JOIN metrics n ON m.time = n.time"}`, http.StatusBadRequest, tserrors.CodeUnsupportedSyntax},
		{"unknown table", `{"sql": "SELECT * FROM missing"}`, http.StatusNotFound, tserrors.CodeTableNotFound},
		{"unknown format", `{"sql": "SELECT * FROM metrics", "format": "xml"}`, http.StatusBadRequest, tserrors.CodeInvalidRequest},
		{"decompression limit", `{"sql": "DELETE FROM metrics WHERE time < 200"}`, http.StatusUnprocessableEntity, tserrors.CodeDecompressionLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postExplain(t, srv, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			out := decode[ErrorResponse](t, resp)
			assert.NotEmpty(t, out.Error)
			assert.Equal(t, tt.code, out.Code)
			assert.NotEmpty(t, out.RequestID)
		})
	}

	t.Run("limit details", func(t *testing.T) {
		out := decode[ErrorResponse](t, postExplain(t, srv, `{"sql": "DELETE FROM metrics WHERE time < 200"}`))
		assert.EqualValues(t, 20000, out.Details["decompressed_rows"])
		assert.EqualValues(t, 10000, out.Details["limit"])
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/explain")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestExplainHandler_UnknownFormatIsNotPlanned(t *testing.T) {
	srv, stats := newTestServer(t, nil)

	resp := postExplain(t, srv, `{"sql": "SELECT * FROM metrics WHERE time < 100", "format": "xml"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decode[ErrorResponse](t, resp)
	assert.Equal(t, string(tserrors.ErrCategoryValidation), out.Category)
	assert.Equal(t, tserrors.CodeInvalidRequest, out.Code)
	assert.Zero(t, stats.Totals().Plans)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "tsplan_plans_total{")
	assert.Contains(t, string(body), "tsplan_chunks_considered_total 0")

	resp = postExplain(t, srv, `{"sql": "SELECT * FROM metrics WHERE time < 100", "format": "TEXT"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), stats.Totals().Plans)
}

func TestStatsHandler(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	postExplain(t, srv, `{"sql": "SELECT * FROM metrics m WHERE m.time >= 100 AND m.value > 1"}`)

	resp, err := http.Get(srv.URL + "/v1/stats?top=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[StatsResponse](t, resp)
	assert.Equal(t, int64(1), out.Totals.Plans)
	assert.Equal(t, int64(1), out.Totals.ChunksExcluded)
	require.Len(t, out.Columns, 1)

	bad, err := http.Get(srv.URL + "/v1/stats?top=x")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestMetricsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	postExplain(t, srv, `{"sql": "SELECT * FROM metrics WHERE time < 100"}`)
	postExplain(t, srv, `{"sql": "SELECT * FROM missing"}`)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tsplan_plans_total{command="SELECT"} 1`)
	assert.Contains(t, string(body), `tsplan_plan_errors_total{category="CATALOG",code="TABLE_NOT_FOUND"} 1`)
	assert.Contains(t, string(body), "tsplan_chunks_excluded_total 3")

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

type panicPlanner struct{}

func (panicPlanner) PlanSQL(context.Context, string) (*planner.Plan, error) {
	panic("boom")
}

func TestMiddleware_RecoversAndPropagatesIDs(t *testing.T) {
	router := NewRouter(RouterConfig{Planner: panicPlanner{}, Logger: logging.Discard()})

	req := httptest.NewRequest(http.MethodPost, "/v1/explain", strings.NewReader(`{"sql": "SELECT 1"}`))
	req.Header.Set("X-Request-ID", "req-1")
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))

	var out ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "req-1", out.RequestID)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{tserrors.NewValidationError(tserrors.CodeParseError, "x"), http.StatusBadRequest},
		{tserrors.NewCatalogError(tserrors.CodeTableNotFound, "x", nil), http.StatusNotFound},
		{tserrors.NewCatalogError(tserrors.CodeLookupFailed, "x", nil), http.StatusServiceUnavailable},
		{tserrors.NewPlanningError(tserrors.CodeDecompressionLimit, "x"), http.StatusUnprocessableEntity},
		{tserrors.NewPlanningError(tserrors.CodeNoRelation, "x"), http.StatusBadRequest},
		{tserrors.NewStorageError(tserrors.CodeDownloadFailed, "x", nil), http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
