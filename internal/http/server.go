// Package http serves the daemon API: health and readiness probes, the
// Prometheus scrape endpoint, and the v1 analysis API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/coordinator"
	"github.com/fyrsmithlabs/insightd/internal/dataset"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/registry"
	"github.com/fyrsmithlabs/insightd/internal/session"
	"github.com/fyrsmithlabs/insightd/internal/trace"
)

// heartbeatInterval keeps idle trace streams alive through proxies.
const heartbeatInterval = 25 * time.Second

// Server is the daemon's HTTP API.
type Server struct {
	echo   *echo.Echo
	coord  *coordinator.Coordinator
	bank   *memory.Bank
	reg    *registry.Registry
	feed   *trace.Feed
	logger *logging.Logger
	cfg    config.ServerConfig
	ready  atomic.Bool
}

// Options carries the Server's collaborators. Coordinator and Bank are
// required; a nil Registry serves path sources only, and a nil Feed
// disables the trace stream endpoint.
type Options struct {
	Coordinator *coordinator.Coordinator
	Bank        *memory.Bank
	Registry    *registry.Registry
	Feed        *trace.Feed
	Metrics     *HTTPMetrics
	Logger      *logging.Logger
}

// NewServer builds the API server. Zero config fields fall back to the
// defaults.
func NewServer(cfg config.ServerConfig, opts Options) (*Server, error) {
	if opts.Coordinator == nil {
		return nil, errors.New("nil coordinator")
	}
	if opts.Bank == nil {
		return nil, errors.New("nil memory bank")
	}
	if opts.Logger == nil {
		opts.Logger = logging.FromContext(context.Background())
	}
	if opts.Registry == nil {
		opts.Registry = &registry.Registry{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewHTTPMetrics()
	}

	def := config.NewDefaultConfig().Server
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.ShutdownTimeout.Duration() <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	logger := opts.Logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(opts.Metrics.Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), rid)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", responseStatus(c, err)),
				zap.Duration("duration", time.Since(start)))

			return err
		}
	})

	s := &Server{
		echo:   e,
		coord:  opts.Coordinator,
		bank:   opts.Bank,
		reg:    opts.Registry,
		feed:   opts.Feed,
		logger: logger,
		cfg:    cfg,
	}
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/ready", s.handleReady)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/analyze", s.handleAnalyze)
	v1.GET("/sessions", s.handleSessions)
	v1.GET("/sessions/:id", s.handleSession)
	v1.POST("/sessions/:id/recommit", s.handleRecommit)
	v1.GET("/patterns", s.handlePatterns)
	v1.GET("/trace/stream", s.handleTraceStream)
}

// Handler exposes the router for tests that drive the server without a
// listener.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// SetReady flips the readiness probe. The daemon marks the server ready
// once every component is wired and listening.
func (s *Server) SetReady(v bool) {
	s.ready.Store(v)
}

// handleHealth reports process liveness.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady reports whether the daemon is accepting analysis work.
func (s *Server) handleReady(c echo.Context) error {
	if !s.ready.Load() {
		return c.JSON(http.StatusServiceUnavailable, ReadyResponse{Ready: false})
	}
	return c.JSON(http.StatusOK, ReadyResponse{Ready: true})
}

// handleAnalyze runs one analysis to completion and returns the final
// session view. A failed run still answers with the session so the caller
// sees which phase broke.
func (s *Server) handleAnalyze(c echo.Context) error {
	ctx := c.Request().Context()

	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid analyze request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	source := strings.TrimSpace(req.Source)
	name := strings.TrimSpace(req.Name)
	switch {
	case source == "" && name == "":
		return echo.NewHTTPError(http.StatusBadRequest, "source or name is required")
	case source != "" && name != "":
		return echo.NewHTTPError(http.StatusBadRequest, "source and name are mutually exclusive")
	}

	switch req.Type {
	case "", registry.TypeComprehensive, registry.TypeTimeseries:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown analysis type %q", req.Type))
	}

	if name != "" {
		entry, err := s.reg.Resolve(name)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		source = entry.Path
	}

	sess, err := s.coord.Run(ctx, source)
	if err != nil {
		status := http.StatusInternalServerError
		var ingErr *dataset.IngestionError
		if errors.As(err, &ingErr) {
			status = http.StatusBadRequest
		}
		if sess != nil {
			return c.JSON(status, NewSessionView(sess))
		}
		return echo.NewHTTPError(status, err.Error())
	}

	return c.JSON(http.StatusOK, NewSessionView(sess))
}

// handleSessions lists sessions, newest first. Live runs come from the
// coordinator's store, history from the memory bank.
func (s *Server) handleSessions(c echo.Context) error {
	ctx := c.Request().Context()

	views := make([]SessionView, 0, 8)
	idx := make(map[string]int)
	for _, sess := range s.coord.Store().List() {
		idx[sess.ID] = len(views)
		views = append(views, NewSessionView(sess))
	}

	banked, err := s.bank.Sessions(ctx)
	if err != nil {
		s.logger.Error(ctx, "listing sessions failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing sessions failed")
	}
	for _, sess := range banked {
		if i, ok := idx[sess.ID]; ok {
			// The live copy has the full phase list; evaluations are
			// attached to the bank record after the run.
			if views[i].Evaluation == nil {
				views[i].Evaluation = sess.Evaluation
			}
			continue
		}
		views = append(views, NewSessionView(sess))
	}

	// Ids are UUIDv7, so byte order is creation order.
	sort.Slice(views, func(i, j int) bool { return views[i].ID > views[j].ID })

	if n, convErr := strconv.Atoi(c.QueryParam("limit")); convErr == nil && n > 0 && n < len(views) {
		views = views[:n]
	}

	return c.JSON(http.StatusOK, SessionListResponse{Sessions: views, Count: len(views)})
}

// handleSession returns one session by id.
func (s *Server) handleSession(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	sess, err := s.coord.Store().Get(id)
	if err != nil {
		sess, err = s.bank.Session(ctx, id)
		if err != nil {
			if errors.Is(err, memory.ErrSessionNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("session %s not found", id))
			}
			s.logger.Error(ctx, "session lookup failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "session lookup failed")
		}
	} else if sess.Evaluation == nil {
		if banked, bankErr := s.bank.Session(ctx, id); bankErr == nil && banked.Evaluation != nil {
			sess.Evaluation = banked.Evaluation
		}
	}

	return c.JSON(http.StatusOK, NewSessionView(sess))
}

// handleRecommit retries the memory write for a committed session that
// did not reach durable memory.
func (s *Server) handleRecommit(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	sess, err := s.coord.Recommit(ctx, id)
	if err != nil {
		var stateErr *session.InvalidStateError
		switch {
		case errors.Is(err, session.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		case errors.As(err, &stateErr):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			s.logger.Error(ctx, "recommit failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "recommit failed")
		}
	}

	return c.JSON(http.StatusOK, NewSessionView(sess))
}

// handlePatterns returns recurring patterns from the memory bank,
// strongest first.
func (s *Server) handlePatterns(c echo.Context) error {
	ctx := c.Request().Context()

	minSupport, _ := strconv.Atoi(c.QueryParam("min_support"))
	patterns, err := s.bank.Patterns(ctx, minSupport)
	if err != nil {
		s.logger.Error(ctx, "listing patterns failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing patterns failed")
	}

	return c.JSON(http.StatusOK, PatternsResponse{Patterns: patterns, Count: len(patterns)})
}

// handleTraceStream serves phase lifecycle events over SSE, one JSON
// event per data line. The subscription is registered before the first
// byte goes out, so a client never misses events emitted after its
// request returned headers.
func (s *Server) handleTraceStream(c echo.Context) error {
	if s.feed == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "trace stream unavailable")
	}

	events, cancel := s.feed.Subscribe()
	defer cancel()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn(ctx, "encoding trace event failed", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(res, "data: %s\n\n", data); err != nil {
				return nil
			}
			res.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": heartbeat\n\n"); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.cfg.Addr()
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
