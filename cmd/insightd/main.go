// Insightd is the analysis coordinator daemon. It serves the HTTP API,
// watches the dataset inbox, and maintains the durable memory bank that
// carries findings across runs.
//
// Configuration is loaded from $XDG_CONFIG_HOME/insightd/config.yaml
// overlaid with INSIGHTD_-prefixed environment variables. See
// internal/config for the full tree.
//
// Usage:
//
//	# Start the daemon with defaults
//	insightd
//
//	# Configure via file or environment
//	insightd -config ./insightd.yaml
//	INSIGHTD_SERVER_PORT=9090 insightd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/capability"
	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/coordinator"
	"github.com/fyrsmithlabs/insightd/internal/evaluator"
	api "github.com/fyrsmithlabs/insightd/internal/http"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/registry"
	"github.com/fyrsmithlabs/insightd/internal/telemetry"
	"github.com/fyrsmithlabs/insightd/internal/trace"
	"github.com/fyrsmithlabs/insightd/internal/watch"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (defaults to $XDG_CONFIG_HOME/insightd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  insightd           Start the insightd daemon\n")
			fmt.Fprintf(os.Stderr, "  insightd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Daemon shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("insightd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration, create the data directory
//  2. Telemetry, then the logger bridged onto its log provider
//  3. Infrastructure: memory bank, capability provider, trace sinks
//  4. Coordinator, dataset catalog, inbox watcher
//  5. HTTP server, marked ready once everything above is up
func run(ctx context.Context, configPath string) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadWithFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := config.EnsureDataDir(cfg); err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting insightd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Bool("telemetry_degraded", tel.Degraded()))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close(logger)

	coord, err := coordinator.New(cfg.Coordinator, coordinator.Options{
		Provider:  deps.provider,
		Bank:      deps.bank,
		Evaluator: deps.eval,
		Tracer:    deps.tracer,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize coordinator: %w", err)
	}

	catalog, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("failed to load dataset catalog: %w", err)
	}

	logger.Info(ctx, "dependencies initialized",
		zap.String("memory_root", deps.bank.Root()),
		zap.Int("catalog_datasets", catalog.Len()),
		zap.Bool("nats_connected", deps.natsConn != nil))

	var inbox *watch.Watcher
	if cfg.Watcher.Enabled {
		inbox, err = watch.New(cfg.Watcher, coord, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize inbox watcher: %w", err)
		}
		inbox.Start(ctx)
		defer inbox.Stop()
	}

	srv, err := api.NewServer(cfg.Server, api.Options{
		Coordinator: coord,
		Bank:        deps.bank,
		Registry:    catalog,
		Feed:        deps.feed,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	srv.SetReady(true)

	logger.Info(ctx, "insightd ready",
		zap.String("health_endpoint", fmt.Sprintf("http://%s/health", cfg.Server.Addr())),
		zap.String("metrics_endpoint", "/metrics"),
		zap.Bool("inbox_watcher", inbox != nil))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http shutdown failed", zap.Error(err))
	}

	return nil
}

// dependencies holds the infrastructure the coordinator runs on.
type dependencies struct {
	bank     *memory.Bank
	provider capability.Provider
	eval     *evaluator.Evaluator
	feed     *trace.Feed
	tracer   *trace.Tracer
	natsConn *nats.Conn
}

// Close releases infrastructure in dependency order: trace sinks first,
// then in-flight evaluations, then the bank they write to.
func (d *dependencies) Close(logger *logging.Logger) {
	ctx := context.Background()
	if d.tracer != nil {
		if err := d.tracer.Close(); err != nil {
			logger.Warn(ctx, "closing trace sinks failed", zap.Error(err))
		}
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.eval != nil {
		d.eval.Wait()
	}
	if d.bank != nil {
		if err := d.bank.Close(); err != nil {
			logger.Warn(ctx, "closing memory bank failed", zap.Error(err))
		}
	}
}

// initDependencies opens the memory bank, builds the capability
// provider, and wires the configured trace sinks.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	bank, err := memory.Open(cfg.Memory, logger)
	if err != nil {
		return nil, err
	}

	provider, err := capability.NewProvider(ctx, cfg.Capabilities, logger)
	if err != nil {
		bank.Close()
		return nil, err
	}

	// The in-process feed always runs; it backs the SSE trace stream.
	feed := trace.NewFeed()
	sinks := []trace.Sink{feed}

	if cfg.Trace.File.Enabled {
		fileSink, err := trace.NewFileSink(cfg.Trace.File.Path)
		if err != nil {
			bank.Close()
			return nil, err
		}
		sinks = append(sinks, fileSink)
		logger.Info(ctx, "trace file sink enabled", zap.String("path", cfg.Trace.File.Path))
	}

	var nc *nats.Conn
	if cfg.Trace.NATS.Enabled {
		nc, err = nats.Connect(cfg.Trace.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			bank.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Trace.NATS.URL, err)
		}
		natsSink, err := trace.NewNATSSink(nc, cfg.Trace.NATS.SubjectPrefix)
		if err != nil {
			nc.Close()
			bank.Close()
			return nil, err
		}
		sinks = append(sinks, natsSink)
		logger.Info(ctx, "trace nats sink enabled",
			zap.String("url", cfg.Trace.NATS.URL),
			zap.String("subject_prefix", cfg.Trace.NATS.SubjectPrefix))
	}

	return &dependencies{
		bank:     bank,
		provider: provider,
		eval:     evaluator.New(cfg.Evaluation, bank, logger),
		feed:     feed,
		tracer:   trace.New(logger, sinks...),
		natsConn: nc,
	}, nil
}
