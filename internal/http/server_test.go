package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/insightd/internal/capability"
	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/coordinator"
	"github.com/fyrsmithlabs/insightd/internal/dataset"
	"github.com/fyrsmithlabs/insightd/internal/evaluator"
	"github.com/fyrsmithlabs/insightd/internal/insight"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/registry"
	"github.com/fyrsmithlabs/insightd/internal/session"
	"github.com/fyrsmithlabs/insightd/internal/trace"
	"github.com/fyrsmithlabs/insightd/internal/viz"
)

// fakeProvider implements capability.Provider. Nil fields fall back to a
// small successful run over the sales dataset.
type fakeProvider struct {
	ingest func(ctx context.Context, source string) (*dataset.Dataset, error)
}

func (p *fakeProvider) Ingest(ctx context.Context, source string) (*dataset.Dataset, error) {
	if p.ingest != nil {
		return p.ingest(ctx, source)
	}
	return dataset.ReadCSV(strings.NewReader(salesCSV()), dataset.BaseName(source))
}

func (p *fakeProvider) AnalyzeStatistics(ctx context.Context, ds *dataset.Dataset, contexts []memory.RetrievedContext) (*capability.Analysis, error) {
	ins := insight.New("revenue and units move together", 0.93,
		insight.SourceStatistical, insight.CategoryCorrelation)
	ins.PatternKey = "correlation:revenue~units"
	return &capability.Analysis{Insights: []insight.Insight{ins}}, nil
}

func (p *fakeProvider) Visualize(ctx context.Context, ds *dataset.Dataset, contexts []memory.RetrievedContext, artifactsDir string) (*capability.Visuals, error) {
	return &capability.Visuals{
		Charts: []viz.Chart{{Kind: viz.KindTimeSeries, Column: "revenue", Path: filepath.Join(artifactsDir, "revenue.txt")}},
		Insights: []insight.Insight{insight.New(
			"revenue trends upward across the charted window", 0.6,
			insight.SourceVisual, insight.CategoryChart)},
	}, nil
}

func (p *fakeProvider) SynthesizeReport(ctx context.Context, req capability.ReportRequest) (*capability.Report, error) {
	return &capability.Report{
		MarkdownPath: filepath.Join(req.ArtifactsDir, "report.md"),
		Insights: []insight.Insight{insight.New(
			"unit volume is the main driver of revenue growth", 0.8,
			insight.SourceSynthesized, insight.CategorySummary)},
	}, nil
}

func salesCSV() string {
	var b strings.Builder
	b.WriteString("date,revenue,units\n")
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		units := 10 + i
		fmt.Fprintf(&b, "%s,%d,%d\n", start.AddDate(0, 0, i).Format("2006-01-02"), units*10, units)
	}
	return b.String()
}

type serverFixture struct {
	srv   *Server
	coord *coordinator.Coordinator
	bank  *memory.Bank
	eval  *evaluator.Evaluator
	feed  *trace.Feed
	logs  *logging.TestLogger
}

func newServerFixture(t *testing.T, p capability.Provider, reg *registry.Registry) *serverFixture {
	t.Helper()

	logs := logging.NewTestLogger(t)
	bank, err := memory.Open(config.MemoryConfig{
		Root:                filepath.Join(t.TempDir(), "bank"),
		SimilarityThreshold: 0.3,
		TypeWeight:          0.25,
		RetrievalLimit:      5,
		DecayHalfLife:       config.Duration(720 * time.Hour),
		PatternMinSupport:   2,
	}, logs.Logger)
	require.NoError(t, err)
	t.Cleanup(func() { bank.Close() })

	eval := evaluator.New(config.EvaluationConfig{Enabled: true}, bank, logs.Logger)
	coord, err := coordinator.New(config.CoordinatorConfig{
		IngestTimeout:    config.Duration(5 * time.Second),
		AnalysisTimeout:  config.Duration(5 * time.Second),
		SynthesisTimeout: config.Duration(5 * time.Second),
		CommitTimeout:    config.Duration(5 * time.Second),
		ArtifactsDir:     t.TempDir(),
	}, coordinator.Options{Provider: p, Bank: bank, Evaluator: eval, Logger: logs.Logger})
	require.NoError(t, err)

	feed := trace.NewFeed()
	t.Cleanup(func() { feed.Close() })

	srv, err := NewServer(config.ServerConfig{}, Options{
		Coordinator: coord,
		Bank:        bank,
		Registry:    reg,
		Feed:        feed,
		Logger:      logs.Logger,
	})
	require.NoError(t, err)

	return &serverFixture{srv: srv, coord: coord, bank: bank, eval: eval, feed: feed, logs: logs}
}

func doJSON(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) SessionView {
	t.Helper()
	var v SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func analyzeSource(t *testing.T, fx *serverFixture, source string) SessionView {
	t.Helper()
	rec := doJSON(t, fx.srv, http.MethodPost, "/v1/analyze", AnalyzeRequest{Source: source})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeView(t, rec)
}

func TestNewServerValidates(t *testing.T) {
	_, err := NewServer(config.ServerConfig{}, Options{Bank: &memory.Bank{}})
	assert.ErrorContains(t, err, "nil coordinator")

	fx := newServerFixture(t, &fakeProvider{}, nil)
	_, err = NewServer(config.ServerConfig{}, Options{Coordinator: fx.coord})
	assert.ErrorContains(t, err, "nil memory bank")
}

func TestNewServerDefaults(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)

	assert.Equal(t, "127.0.0.1", fx.srv.cfg.Host)
	assert.Equal(t, 8080, fx.srv.cfg.Port)
	assert.Positive(t, fx.srv.cfg.ShutdownTimeout.Duration())
}

func TestHandleHealth(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)

	rec := doJSON(t, fx.srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleReady(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)

	rec := doJSON(t, fx.srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	fx.srv.SetReady(true)
	rec = doJSON(t, fx.srv, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Ready)
}

func TestHandleMetricsServesPrometheus(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)

	// One instrumented request so the request counter has a sample.
	doJSON(t, fx.srv, http.MethodGet, "/health", nil)

	rec := doJSON(t, fx.srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "insightd_http_requests_total")
}

func TestHandleAnalyzeRunsToCommit(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)

	view := analyzeSource(t, fx, "sales.csv")

	assert.NotEmpty(t, view.ID)
	assert.Equal(t, string(session.StateCommitted), view.Status)
	assert.Equal(t, "sales", view.Dataset)
	assert.Equal(t, 10, view.Rows)
	assert.True(t, view.MemoryPersisted)
	assert.Empty(t, view.ContextSessions)
	assert.False(t, view.CreatedAt.IsZero())

	// Insights come back in rank order.
	require.Len(t, view.Insights, 3)
	assert.Equal(t, insight.SourceStatistical, view.Insights[0].Source)
	assert.Equal(t, insight.SourceSynthesized, view.Insights[1].Source)
	assert.Equal(t, insight.SourceVisual, view.Insights[2].Source)

	assert.True(t, strings.HasSuffix(view.Report, "report.md"), view.Report)
	require.Len(t, view.Charts, 1)
	assert.Contains(t, view.Charts[0], view.ID)

	require.Len(t, view.Phases, 5)
	assert.Equal(t, "ingest", view.Phases[0].Phase)
	assert.Equal(t, "commit", view.Phases[4].Phase)
	for _, p := range view.Phases {
		assert.Equal(t, session.PhaseOK, p.Status, p.Phase)
	}

	stored, err := fx.bank.Session(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, "sales", stored.Dataset)
}

func TestHandleAnalyzeByCatalogName(t *testing.T) {
	catalog := filepath.Join(t.TempDir(), "datasets.toml")
	require.NoError(t, os.WriteFile(catalog, []byte(
		"[datasets.sales]\npath = \"exports/sales-2026.csv\"\ntype = \"timeseries\"\n"), 0o600))
	reg, err := registry.Load(catalog)
	require.NoError(t, err)

	fx := newServerFixture(t, &fakeProvider{}, reg)

	rec := doJSON(t, fx.srv, http.MethodPost, "/v1/analyze", AnalyzeRequest{Name: "sales"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeView(t, rec)
	assert.Equal(t, string(session.StateCommitted), view.Status)
	assert.Equal(t, "sales-2026", view.Dataset)

	rec = doJSON(t, fx.srv, http.MethodPost, "/v1/analyze", AnalyzeRequest{Name: "churn"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown dataset")
}

func TestHandleAnalyzeValidation(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)

	rec := doJSON(t, fx.srv, http.MethodPost, "/v1/analyze", AnalyzeRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "source or name is required")

	rec = doJSON(t, fx.srv, http.MethodPost, "/v1/analyze", AnalyzeRequest{Source: "a.csv", Name: "sales"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "mutually exclusive")

	rec = doJSON(t, fx.srv, http.MethodPost, "/v1/analyze", AnalyzeRequest{Source: "a.csv", Type: "weekly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown analysis type")

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader("not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	raw := httptest.NewRecorder()
	fx.srv.echo.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestHandleAnalyzeIngestFailure(t *testing.T) {
	p := &fakeProvider{
		ingest: func(ctx context.Context, source string) (*dataset.Dataset, error) {
			return nil, &dataset.IngestionError{Dataset: source, Reason: "no header row"}
		},
	}
	fx := newServerFixture(t, p, nil)

	rec := doJSON(t, fx.srv, http.MethodPost, "/v1/analyze", AnalyzeRequest{Source: "broken.csv"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	view := decodeView(t, rec)
	assert.Equal(t, string(session.StateFailed), view.Status)
	assert.Contains(t, view.Error, "no header row")
}

func TestHandleSessionsNewestFirst(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)

	first := analyzeSource(t, fx, "january.csv")
	second := analyzeSource(t, fx, "february.csv")

	rec := doJSON(t, fx.srv, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list SessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, second.ID, list.Sessions[0].ID)
	assert.Equal(t, first.ID, list.Sessions[1].ID)

	rec = doJSON(t, fx.srv, http.MethodGet, "/v1/sessions?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, second.ID, list.Sessions[0].ID)
}

func TestHandleSessionByID(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)

	view := analyzeSource(t, fx, "sales.csv")

	rec := doJSON(t, fx.srv, http.MethodGet, "/v1/sessions/"+view.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeView(t, rec)
	assert.Equal(t, view.ID, got.ID)
	assert.Len(t, got.Phases, 5)

	rec = doJSON(t, fx.srv, http.MethodGet, "/v1/sessions/0198ffff-0000-7000-8000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSessionGraftsEvaluation(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)

	view := analyzeSource(t, fx, "sales.csv")
	fx.eval.Wait()

	rec := doJSON(t, fx.srv, http.MethodGet, "/v1/sessions/"+view.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeView(t, rec)
	require.NotNil(t, got.Evaluation)
	assert.NotEmpty(t, got.Evaluation.Grade)
}

func TestHandleRecommit(t *testing.T) {
	p := &fakeProvider{
		ingest: func(ctx context.Context, source string) (*dataset.Dataset, error) {
			if source == "broken.csv" {
				return nil, &dataset.IngestionError{Dataset: source, Reason: "no header row"}
			}
			return dataset.ReadCSV(strings.NewReader(salesCSV()), dataset.BaseName(source))
		},
	}
	fx := newServerFixture(t, p, nil)

	// Already persisted: recommit is a no-op.
	view := analyzeSource(t, fx, "sales.csv")
	rec := doJSON(t, fx.srv, http.MethodPost, "/v1/sessions/"+view.ID+"/recommit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeView(t, rec).MemoryPersisted)

	// A failed run cannot be recommitted.
	failed := doJSON(t, fx.srv, http.MethodPost, "/v1/analyze", AnalyzeRequest{Source: "broken.csv"})
	require.Equal(t, http.StatusBadRequest, failed.Code)
	failedView := decodeView(t, failed)
	rec = doJSON(t, fx.srv, http.MethodPost, "/v1/sessions/"+failedView.ID+"/recommit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, fx.srv, http.MethodPost, "/v1/sessions/0198ffff-0000-7000-8000-000000000000/recommit", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePatterns(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)

	analyzeSource(t, fx, "january.csv")
	analyzeSource(t, fx, "february.csv")

	rec := doJSON(t, fx.srv, http.MethodGet, "/v1/patterns", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PatternsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.GreaterOrEqual(t, resp.Count, 1)
	assert.Equal(t, "correlation:revenue~units", resp.Patterns[0].Key)
	assert.Equal(t, 2, resp.Patterns[0].Support)

	rec = doJSON(t, fx.srv, http.MethodGet, "/v1/patterns?min_support=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
}

func TestMiddleware(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)

	t.Run("adds request id to response", func(t *testing.T) {
		rec := doJSON(t, fx.srv, http.MethodGet, "/health", nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		fx.srv.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		assert.NotPanics(t, func() {
			fx.srv.echo.ServeHTTP(rec, req)
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleTraceStream(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)

	ts := httptest.NewServer(fx.srv.echo)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/trace/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(echo.HeaderContentType), "text/event-stream")

	// Headers arrive only after the handler has subscribed, so this
	// emit cannot be missed.
	require.NoError(t, fx.feed.Emit(context.Background(), trace.Event{
		Time:      time.Now().UTC(),
		Type:      trace.EventPhaseStart,
		SessionID: "0198eeee-0000-7000-8000-000000000001",
		Dataset:   "sales",
		Phase:     "ingest",
	}))

	reader := bufio.NewReader(resp.Body)
	var line string
	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}

	var ev trace.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
	assert.Equal(t, "0198eeee-0000-7000-8000-000000000001", ev.SessionID)
	assert.Equal(t, trace.EventPhaseStart, ev.Type)
	assert.Equal(t, "ingest", ev.Phase)
}

func TestHandleTraceStreamWithoutFeed(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)
	fx.srv.feed = nil

	rec := doJSON(t, fx.srv, http.MethodGet, "/v1/trace/stream", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	fx := newServerFixture(t, &fakeProvider{}, nil)
	fx.srv.cfg.Port = 0

	errChan := make(chan error, 1)
	go func() {
		errChan <- fx.srv.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fx.srv.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.True(t, err == nil || err == http.ErrServerClosed)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
