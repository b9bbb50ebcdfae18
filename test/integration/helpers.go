package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/insightd/internal/capability"
	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/coordinator"
	"github.com/fyrsmithlabs/insightd/internal/evaluator"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/trace"
)

// newTestConfig returns the default config rooted in a per-test temp dir.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.DataDir = dir
	cfg.Memory.Root = filepath.Join(dir, "memory")
	cfg.Coordinator.ArtifactsDir = filepath.Join(dir, "artifacts")
	cfg.Trace.File.Enabled = false
	return cfg
}

// pipeline bundles a wired coordinator with the bank and evaluator behind
// it so tests can inspect what a run left there.
type pipeline struct {
	coord    *coordinator.Coordinator
	bank     *memory.Bank
	eval     *evaluator.Evaluator
	provider capability.Provider
	logger   *logging.Logger
}

// newTestPipeline wires coordinator, bank, provider, and evaluator the way
// the daemon does. The bank argument lets tests substitute a read-only or
// pre-seeded bank; nil opens a fresh writer bank.
func newTestPipeline(t *testing.T, cfg *config.Config, bank *memory.Bank) *pipeline {
	t.Helper()

	logger := logging.NewTestLogger(t).Logger

	if bank == nil {
		var err error
		bank, err = memory.Open(cfg.Memory, logger)
		require.NoError(t, err, "Should open memory bank")
		t.Cleanup(func() { bank.Close() })
	}

	provider, err := capability.NewProvider(context.Background(), cfg.Capabilities, logger)
	require.NoError(t, err, "Should build capability provider")

	eval := evaluator.New(cfg.Evaluation, bank, logger)

	coord, err := coordinator.New(cfg.Coordinator, coordinator.Options{
		Provider:  provider,
		Bank:      bank,
		Evaluator: eval,
		Tracer:    trace.New(logger),
		Logger:    logger,
	})
	require.NoError(t, err, "Should build coordinator")

	return &pipeline{coord: coord, bank: bank, eval: eval, provider: provider, logger: logger}
}

// writeSalesCSV writes a 60 row sales table with an upward revenue trend,
// units correlated with revenue, and one outlier spike, so every analysis
// capability has something to find.
func writeSalesCSV(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "sales.csv")
	f, err := os.Create(path)
	require.NoError(t, err, "Should create dataset file")
	defer f.Close()

	_, err = fmt.Fprintln(f, "date,revenue,units,region")
	require.NoError(t, err)

	regions := []string{"north", "south", "east", "west"}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		day := start.AddDate(0, 0, i)
		revenue := 1000.0 + float64(i)*25 + float64(i%7)*12
		units := 40 + i + i%5
		if i == 45 {
			revenue *= 4
		}
		_, err = fmt.Fprintf(f, "%s,%.2f,%d,%s\n",
			day.Format("2006-01-02"), revenue, units, regions[i%len(regions)])
		require.NoError(t, err)
	}
	return path
}
