package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/monitor"
)

var (
	// monitor command flags
	moFile     string
	moInterval time.Duration
)

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVar(&moFile, "file", "", "trace log to follow (defaults to the daemon's trace file)")
	monitorCmd.Flags().DurationVar(&moInterval, "interval", time.Second, "dashboard refresh interval")
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard over the daemon's analysis runs",
	Long: `Follow the daemon's trace log and render a live dashboard: one row per
run with its phase timeline, recent phase durations, and run counters.

The daemon writes the trace log when trace.file.enabled is set. The
dashboard picks up runs already in the log and streams new ones as they
execute. Quit with q.

Examples:
  # Watch the local daemon
  insight monitor

  # Follow a specific trace log
  insight monitor --file /var/lib/insightd/trace.ndjson`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	// Warnings from the tailer would scribble over the dashboard.
	lc := cfg.Logging
	lc.Format = logging.FormatConsole
	lc.Output.Stdout = true
	lc.Output.OTEL = false
	lc.Caller.Enabled = false
	lc.Level = zapcore.ErrorLevel
	logger, err := logging.NewLogger(&lc, nil)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path := moFile
	if path == "" {
		path = cfg.Trace.File.Path
	}
	if path == "" {
		return fmt.Errorf("no trace log configured; set trace.file.path or pass --file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := monitor.Follow(ctx, path, logger)
	if err != nil {
		return err
	}

	p := tea.NewProgram(monitor.NewModel(events, moInterval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}
