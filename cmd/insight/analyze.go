package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/insightd/internal/capability"
	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/coordinator"
	"github.com/fyrsmithlabs/insightd/internal/evaluator"
	"github.com/fyrsmithlabs/insightd/internal/insight"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/monitor"
	"github.com/fyrsmithlabs/insightd/internal/registry"
	"github.com/fyrsmithlabs/insightd/internal/session"
	"github.com/fyrsmithlabs/insightd/internal/trace"
)

var (
	// analyze command flags
	azType        string
	azDateColumn  string
	azValueColumn string
	azFormat      string
	azWatch       bool
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&azType, "type", "", "analysis type: comprehensive or timeseries (defaults to the catalog entry)")
	analyzeCmd.Flags().StringVar(&azDateColumn, "date-column", "", "date column for timeseries focus")
	analyzeCmd.Flags().StringVar(&azValueColumn, "value-column", "", "value column for timeseries focus")
	analyzeCmd.Flags().StringVar(&azFormat, "format", "text", "output format: text or json")
	analyzeCmd.Flags().BoolVar(&azWatch, "watch", false, "show the live phase dashboard while the run executes")
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <path|name>",
	Short: "Run one analysis over a dataset",
	Long: `Run one analysis over a dataset file or a catalog name.

Catalog names resolve through the dataset registry (datasets.toml); anything
path-shaped is loaded directly. Results are committed to the memory bank and
the run's charts and report land in the artifact directory.

Examples:
  # Analyze a file
  insight analyze exports/q3_sales.csv

  # Analyze a registered dataset by name
  insight analyze sales

  # Focus the summary on one time series
  insight analyze metrics.csv --type timeseries --date-column date --value-column revenue

  # Watch phases live and emit the session as JSON
  insight analyze sales --watch --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	switch azFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q (valid: text, json)", azFormat)
	}

	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}
	if err := config.EnsureDataDir(cfg); err != nil {
		return err
	}

	logger, err := newCLILogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	catalog, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return err
	}
	entry, err := resolveAnalysisTarget(catalog, args[0], azType, azDateColumn, azValueColumn)
	if err != nil {
		return err
	}

	ctx := context.Background()

	bank, err := memory.Open(cfg.Memory, logger)
	if err != nil {
		return err
	}
	defer bank.Close()

	provider, err := capability.NewProvider(ctx, cfg.Capabilities, logger)
	if err != nil {
		return err
	}

	eval := evaluator.New(cfg.Evaluation, bank, logger)

	feed := trace.NewFeed()
	tracer := trace.New(logger, feed)
	defer tracer.Close()

	coord, err := coordinator.New(cfg.Coordinator, coordinator.Options{
		Provider:  provider,
		Bank:      bank,
		Evaluator: eval,
		Tracer:    tracer,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	var (
		sess   *session.Session
		runErr error
	)
	if azWatch {
		sess, runErr = runWithDashboard(ctx, coord, feed, entry.Path)
	} else {
		sess, runErr = coord.Run(ctx, entry.Path)
	}

	// Pick up the evaluation the commit triggered.
	eval.Wait()
	if sess != nil && sess.MemoryPersisted && sess.Evaluation == nil {
		if banked, err := bank.Session(ctx, sess.ID); err == nil {
			sess.Evaluation = banked.Evaluation
		}
	}

	if sess == nil {
		return runErr
	}
	if azFormat == "json" {
		if err := outputJSON(sess); err != nil {
			return err
		}
	} else {
		renderSession(os.Stdout, sess, entry)
	}
	if runErr != nil {
		return fmt.Errorf("analysis failed: %w", runErr)
	}
	return nil
}

// runWithDashboard executes the run while the phase dashboard consumes
// the trace feed. Quitting the dashboard detaches the view; the run
// itself keeps going.
func runWithDashboard(ctx context.Context, coord *coordinator.Coordinator, feed *trace.Feed, source string) (*session.Session, error) {
	events, cancel := feed.Subscribe()
	defer cancel()

	p := tea.NewProgram(monitor.NewModel(events, time.Second), tea.WithAltScreen())

	type result struct {
		sess *session.Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sess, err := coord.Run(ctx, source)
		done <- result{sess, err}
		// Closing the feed drains buffered events to the dashboard
		// before the quit lands.
		feed.Close()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		// The dashboard is cosmetic; the run result still decides the
		// command outcome.
		fmt.Fprintf(os.Stderr, "dashboard error: %v\n", err)
	}
	res := <-done
	return res.sess, res.err
}

// resolveAnalysisTarget resolves a path or catalog name and overlays the
// command-line typing hints. Timeseries focus on a plain path needs both
// column names; catalog entries carry their own.
func resolveAnalysisTarget(catalog *registry.Registry, arg, typ, dateCol, valueCol string) (registry.Entry, error) {
	entry, err := catalog.ResolveSource(arg)
	if err != nil {
		return registry.Entry{}, err
	}

	if typ != "" {
		entry.Type = typ
	}
	if dateCol != "" {
		entry.DateColumn = dateCol
	}
	if valueCol != "" {
		entry.ValueColumn = valueCol
	}

	switch entry.Type {
	case "", registry.TypeComprehensive:
	case registry.TypeTimeseries:
		if entry.DateColumn == "" || entry.ValueColumn == "" {
			return registry.Entry{}, fmt.Errorf("timeseries analysis requires --date-column and --value-column")
		}
	default:
		return registry.Entry{}, fmt.Errorf("unknown analysis type %q (valid: %s, %s)", entry.Type, registry.TypeComprehensive, registry.TypeTimeseries)
	}
	return entry, nil
}

// renderSession prints the human-readable run summary.
func renderSession(w io.Writer, sess *session.Session, entry registry.Entry) {
	if sess.State == session.StateFailed {
		fmt.Fprintf(w, "Analysis failed: %s\n", sess.Error)
		fmt.Fprintf(w, "Session: %s\n", sess.ID)
		renderPhases(w, sess)
		return
	}

	fmt.Fprintf(w, "Analysis complete\n")
	fmt.Fprintf(w, "Session: %s\n", sess.ID)
	fmt.Fprintf(w, "Dataset: %s (%d rows, %d columns)\n", sess.Dataset, sess.Rows, len(sess.Schema.Columns))
	if len(sess.ContextSessions) > 0 {
		fmt.Fprintf(w, "Context: %d prior session(s)\n", len(sess.ContextSessions))
	}

	if entry.Type == registry.TypeTimeseries {
		if focus := trendFocus(sess.Insights, entry.ValueColumn); len(focus) > 0 {
			fmt.Fprintf(w, "\nTrend focus (%s):\n", entry.ValueColumn)
			for _, in := range focus {
				fmt.Fprintf(w, "  * %s\n", in.Text)
			}
		}
	}

	fmt.Fprintf(w, "\nInsights (%d):\n", len(sess.Insights))
	for i, in := range sess.Insights {
		fmt.Fprintf(w, "  %d. [%s %.0f%%] %s\n", i+1, in.Source, in.Confidence*100, in.Text)
	}

	if len(sess.Artifacts) > 0 {
		fmt.Fprintf(w, "\nArtifacts:\n")
		for _, a := range sess.Artifacts {
			fmt.Fprintf(w, "  %s: %s\n", a.Kind, a.Path)
		}
	}

	renderPhases(w, sess)

	if sess.Evaluation != nil {
		fmt.Fprintf(w, "\nEvaluation: %s (%.1f overall)\n", sess.Evaluation.Grade, sess.Evaluation.Overall)
		for _, s := range sess.Evaluation.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}

	if sess.MemoryPersisted {
		fmt.Fprintf(w, "\nMemory: persisted\n")
	} else {
		fmt.Fprintf(w, "\nMemory: NOT persisted; retry with `insight sessions recommit %s`\n", sess.ID)
	}
}

func renderPhases(w io.Writer, sess *session.Session) {
	if len(sess.Phases) == 0 {
		return
	}
	fmt.Fprintf(w, "\nPhases:\n")
	for _, ph := range sess.Phases {
		if ph.Status == session.PhaseOK {
			fmt.Fprintf(w, "  %-10s %-6s %s\n", ph.Phase, ph.Status, ph.Duration.Round(time.Millisecond))
		} else {
			fmt.Fprintf(w, "  %-10s %-6s %s: %s\n", ph.Phase, ph.Status, ph.ErrorKind, ph.Error)
		}
	}
}

// trendFocus selects trend findings that mention the focus column.
func trendFocus(insights []insight.Insight, valueColumn string) []insight.Insight {
	if valueColumn == "" {
		return nil
	}
	var out []insight.Insight
	for _, in := range insights {
		if in.Category == insight.CategoryTrend && strings.Contains(in.Text, valueColumn) {
			out = append(out, in)
		}
	}
	return out
}
