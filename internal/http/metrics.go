package http

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalHTTPMetrics *HTTPMetrics
	httpMetricsOnce   sync.Once
)

// HTTPMetrics holds the Prometheus metrics for the API server.
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge
}

// NewHTTPMetrics creates and registers the API metrics.
//
// Registration happens once per process; repeated calls return the same
// set, which avoids duplicate-collector panics when several components
// construct a server.
//
// Metrics:
//   - insightd_http_requests_total{method,endpoint,status} - served requests
//   - insightd_http_request_duration_seconds{method,endpoint} - request wall time
//   - insightd_http_response_size_bytes{method,endpoint} - response body size
//   - insightd_http_active_requests - requests currently in flight
func NewHTTPMetrics() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		globalHTTPMetrics = &HTTPMetrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "insightd_http_requests_total",
					Help: "Total HTTP requests served",
				},
				[]string{"method", "endpoint", "status"},
			),

			RequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "insightd_http_request_duration_seconds",
					Help:    "HTTP request wall time",
					Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
				},
				[]string{"method", "endpoint"},
			),

			ResponseSize: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "insightd_http_response_size_bytes",
					Help:    "HTTP response body size",
					Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
				},
				[]string{"method", "endpoint"},
			),

			ActiveRequests: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "insightd_http_active_requests",
					Help: "Number of HTTP requests currently in flight",
				},
			),
		}
	})

	return globalHTTPMetrics
}

// Middleware returns an echo middleware that records request metrics.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			m.ActiveRequests.Inc()
			// Deferred so a recovered panic still releases the slot.
			defer m.ActiveRequests.Dec()

			err := next(c)

			method := c.Request().Method
			endpoint := normalizePath(c.Path())
			status := strconv.Itoa(responseStatus(c, err))

			m.RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
			m.RequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
			m.ResponseSize.WithLabelValues(method, endpoint).Observe(float64(c.Response().Size))

			return err
		}
	}
}

// responseStatus resolves the status a request will be answered with. A
// handler error still travelling to echo's error handler has not been
// written to the response yet.
func responseStatus(c echo.Context, err error) int {
	if err != nil && !c.Response().Committed {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he.Code
		}
		return http.StatusInternalServerError
	}
	return c.Response().Status
}

// normalizePath keeps the endpoint label bounded. Echo reports the
// registered route template, so parameterized routes like
// /v1/sessions/:id already collapse to a single label value; requests
// that matched no route collapse to "/".
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
