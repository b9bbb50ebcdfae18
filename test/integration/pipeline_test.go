package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/insightd/internal/coordinator"
	"github.com/fyrsmithlabs/insightd/internal/evaluator"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/session"
	"github.com/fyrsmithlabs/insightd/internal/trace"
)

// TestPipeline_FullRun walks one analysis from ingestion to durable
// memory: run, commit, evaluation, and artifacts on disk.
func TestPipeline_FullRun(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := newTestConfig(t)
	source := writeSalesCSV(t, cfg.DataDir)
	p := newTestPipeline(t, cfg, nil)

	// 1. Run the full pipeline
	sess, err := p.coord.Run(ctx, source)
	require.NoError(t, err, "Run should commit")
	require.Equal(t, session.StateCommitted, sess.State)
	assert.True(t, sess.MemoryPersisted, "Commit should reach the bank")

	t.Logf("✅ Run committed: %d insights", len(sess.Insights))

	// 2. Ingestion facts
	assert.Equal(t, "sales", sess.Dataset)
	assert.Equal(t, 60, sess.Rows)
	assert.Len(t, sess.Schema.Columns, 4)

	// 3. Insights ordered by confidence, highest first
	require.NotEmpty(t, sess.Insights, "Pipeline should produce insights")
	for i := 1; i < len(sess.Insights); i++ {
		assert.GreaterOrEqual(t, sess.Insights[i-1].Confidence, sess.Insights[i].Confidence,
			"Insights should be ordered by confidence")
	}

	// 4. Every phase recorded and ok
	for _, phase := range []string{
		coordinator.PhaseIngest,
		coordinator.PhaseAnalyze,
		coordinator.PhaseVisualize,
		coordinator.PhaseReport,
		coordinator.PhaseCommit,
	} {
		rec := sess.Phase(phase)
		require.NotNil(t, rec, "Phase %s should be recorded", phase)
		assert.Equal(t, session.PhaseOK, rec.Status, "Phase %s should succeed", phase)
	}

	t.Logf("✅ All %d phases recorded", len(sess.Phases))

	// 5. Artifacts written where the session says they are
	require.NotEmpty(t, sess.Artifacts, "Run should leave artifacts")
	for _, a := range sess.Artifacts {
		_, err := os.Stat(a.Path)
		assert.NoError(t, err, "Artifact %s should exist at %s", a.Kind, a.Path)
	}

	// 6. The bank holds the session, with the evaluation attached
	p.eval.Wait()
	stored, err := p.bank.Session(ctx, sess.ID)
	require.NoError(t, err, "Bank should hold the committed session")
	assert.Equal(t, len(sess.Insights), len(stored.Insights))
	require.NotNil(t, stored.Evaluation, "Evaluation should attach after commit")
	assert.NotEmpty(t, stored.Evaluation.Grade)

	t.Logf("✅ Stored with evaluation grade %s (%.1f overall)",
		stored.Evaluation.Grade, stored.Evaluation.Overall)
}

// TestPipeline_MemoryAccumulation runs the same dataset twice and checks
// the second run sees the first as prior context and patterns gain
// support.
func TestPipeline_MemoryAccumulation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := newTestConfig(t)
	source := writeSalesCSV(t, cfg.DataDir)
	p := newTestPipeline(t, cfg, nil)

	// 1. First run seeds the bank
	first, err := p.coord.Run(ctx, source)
	require.NoError(t, err)
	require.True(t, first.MemoryPersisted)
	assert.Empty(t, first.ContextSessions, "Nothing to retrieve on an empty bank")

	// 2. Second run retrieves the first as context
	second, err := p.coord.Run(ctx, source)
	require.NoError(t, err)
	require.Contains(t, second.ContextSessions, first.ID,
		"Second run should retrieve the first as context")

	t.Logf("✅ Second run retrieved %d context session(s)", len(second.ContextSessions))

	// 3. Recurring findings accumulate pattern support
	patterns, err := p.bank.Patterns(ctx, 2)
	require.NoError(t, err)
	require.NotEmpty(t, patterns, "Two identical runs should produce recurring patterns")
	for _, pat := range patterns {
		assert.GreaterOrEqual(t, pat.Support, 2)
		assert.False(t, pat.LastSeen.Before(pat.FirstSeen))
	}
	p.eval.Wait()

	t.Logf("✅ %d pattern(s) with support >= 2", len(patterns))
}

// TestPipeline_CommitRescueAndRecommit forces the memory write to fail by
// running against a read-only bank, then replays the rescued session
// through Recommit with a writable one.
func TestPipeline_CommitRescueAndRecommit(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := newTestConfig(t)
	source := writeSalesCSV(t, cfg.DataDir)

	readBank, err := memory.OpenRead(cfg.Memory, nil)
	require.NoError(t, err)
	p := newTestPipeline(t, cfg, readBank)

	// 1. The run still commits; only persistence fails
	sess, err := p.coord.Run(ctx, source)
	require.NoError(t, err, "A failed bank write should not fail the run")
	require.Equal(t, session.StateCommitted, sess.State)
	require.False(t, sess.MemoryPersisted)

	rec := sess.Phase(coordinator.PhaseCommit)
	require.NotNil(t, rec)
	assert.Equal(t, session.PhaseError, rec.Status)

	t.Logf("✅ Run committed without persistence")

	// 2. The rescue artifact holds the full session record
	rescuePath := filepath.Join(cfg.Coordinator.ArtifactsDir, sess.ID, coordinator.SessionArtifact)
	raw, err := os.ReadFile(rescuePath)
	require.NoError(t, err, "Rescue artifact should be written")

	var rescued session.Session
	require.NoError(t, json.Unmarshal(raw, &rescued))
	assert.Equal(t, sess.ID, rescued.ID)
	assert.Equal(t, session.StateCommitted, rescued.State)
	assert.False(t, rescued.MemoryPersisted)

	t.Logf("✅ Rescue artifact at %s", rescuePath)

	// 3. Recommit through a coordinator holding a writable bank and the
	// same session store
	bank, err := memory.Open(cfg.Memory, p.logger)
	require.NoError(t, err)
	t.Cleanup(func() { bank.Close() })

	eval := evaluator.New(cfg.Evaluation, bank, p.logger)
	coord, err := coordinator.New(cfg.Coordinator, coordinator.Options{
		Provider:  p.provider,
		Bank:      bank,
		Store:     p.coord.Store(),
		Evaluator: eval,
		Tracer:    trace.New(p.logger),
		Logger:    p.logger,
	})
	require.NoError(t, err)

	final, err := coord.Recommit(ctx, sess.ID)
	require.NoError(t, err, "Recommit should persist the session")
	assert.True(t, final.MemoryPersisted)

	// 4. The bank holds it and the rescue artifact is gone
	stored, err := bank.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, len(sess.Insights), len(stored.Insights))

	_, err = os.Stat(rescuePath)
	assert.True(t, os.IsNotExist(err), "Rescue artifact should be removed after recommit")

	// 5. Recommit is idempotent
	again, err := coord.Recommit(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, again.MemoryPersisted)
	eval.Wait()

	t.Logf("✅ Session recommitted and rescue artifact cleaned up")
}
