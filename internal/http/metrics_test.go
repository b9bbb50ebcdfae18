package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewHTTPMetrics()

	// Dedicated routes keep the label values private to this test even
	// though the collectors are process globals.
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/metrics-probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "hello")
	})
	e.GET("/metrics-probe-fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "nope")
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics-probe", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics-probe-fail", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/metrics-probe", "200")))

	// Handler errors are counted with the status echo will answer with,
	// not the zero value of an uncommitted response.
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/metrics-probe-fail", "400")))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRequests))
}

func TestNewHTTPMetricsIsSingleton(t *testing.T) {
	assert.Same(t, NewHTTPMetrics(), NewHTTPMetrics())
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/health", "/health"},
		{"/v1/analyze", "/v1/analyze"},
		{"/v1/sessions/:id", "/v1/sessions/:id"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input), tt.input)
	}
}
