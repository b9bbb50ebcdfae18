package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/capability"
	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/dataset"
	"github.com/fyrsmithlabs/insightd/internal/evaluator"
	"github.com/fyrsmithlabs/insightd/internal/insight"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/session"
	"github.com/fyrsmithlabs/insightd/internal/trace"
)

// Phase names as recorded on sessions and as trace and metric labels.
const (
	PhaseIngest    = "ingest"
	PhaseAnalyze   = "analyze"
	PhaseVisualize = "visualize"
	PhaseReport    = "report"
	PhaseCommit    = "commit"
)

// Run outcome labels on the runs metric.
const (
	runCommitted = "committed"
	runFailed    = "failed"
)

// SessionArtifact is the file name of the session record written into the
// run's artifact directory when the memory bank write fails. A later
// recommit can replay the record from there.
const SessionArtifact = "session.json"

// Options carries the Coordinator's collaborators. Provider and Bank are
// required; the rest default.
type Options struct {
	Provider  capability.Provider
	Bank      *memory.Bank
	Store     *session.Store
	Evaluator *evaluator.Evaluator
	Tracer    *trace.Tracer
	Logger    *logging.Logger
}

// Coordinator drives analysis runs. It is safe for concurrent use; each
// run works on its own session and the store serializes session access.
type Coordinator struct {
	cfg      config.CoordinatorConfig
	provider capability.Provider
	bank     *memory.Bank
	store    *session.Store
	eval     *evaluator.Evaluator
	tracer   *trace.Tracer
	logger   *logging.Logger
}

// New builds a Coordinator. A nil Store gets a private one, a nil Tracer
// traces to the logger only, and a nil Evaluator disables post-run
// evaluation. Zero timeouts fall back to the defaults.
func New(cfg config.CoordinatorConfig, opts Options) (*Coordinator, error) {
	if opts.Provider == nil {
		return nil, errors.New("nil capability provider")
	}
	if opts.Bank == nil {
		return nil, errors.New("nil memory bank")
	}

	def := config.NewDefaultConfig()
	if cfg.IngestTimeout.Duration() <= 0 {
		cfg.IngestTimeout = def.Coordinator.IngestTimeout
	}
	if cfg.AnalysisTimeout.Duration() <= 0 {
		cfg.AnalysisTimeout = def.Coordinator.AnalysisTimeout
	}
	if cfg.SynthesisTimeout.Duration() <= 0 {
		cfg.SynthesisTimeout = def.Coordinator.SynthesisTimeout
	}
	if cfg.CommitTimeout.Duration() <= 0 {
		cfg.CommitTimeout = def.Coordinator.CommitTimeout
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = filepath.Join(def.DataDir, "artifacts")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.FromContext(context.Background())
	}
	store := opts.Store
	if store == nil {
		store = session.NewStore()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.New(logger)
	}

	return &Coordinator{
		cfg:      cfg,
		provider: opts.Provider,
		bank:     opts.Bank,
		store:    store,
		eval:     opts.Evaluator,
		tracer:   tracer,
		logger:   logger.Named("coordinator"),
	}, nil
}

// Store exposes the session registry for the HTTP and CLI surfaces.
func (c *Coordinator) Store() *session.Store { return c.store }

// Run executes one full analysis of source and returns the terminal
// session. Failed runs return the session alongside the error; committed
// runs return a nil error even when some phases failed, and callers
// inspect the per-phase records and MemoryPersisted.
func (c *Coordinator) Run(ctx context.Context, source string) (*session.Session, error) {
	id, err := session.NewID()
	if err != nil {
		return nil, err
	}

	sess := session.New(id, dataset.BaseName(source), source)
	if err := c.store.Put(sess); err != nil {
		return nil, err
	}

	ctx = logging.WithSessionID(ctx, id)
	ctx = logging.WithDataset(ctx, sess.Dataset)

	c.tracer.Metrics().RunStarted()
	c.logger.Info(ctx, "run started", zap.String("source", source))

	ds, err := c.ingest(ctx, id, sess.Dataset, source)
	if err != nil {
		return c.fail(ctx, id, err)
	}

	contexts := c.retrieve(ctx, id, ds)

	analysis, visuals, err := c.analyzeParallel(ctx, id, ds, contexts)
	if err != nil {
		return c.fail(ctx, id, err)
	}

	if err := c.synthesize(ctx, id, ds, analysis, visuals, contexts); err != nil {
		return c.fail(ctx, id, err)
	}

	return c.commit(ctx, id, sess.Dataset)
}

// ingest loads and types the dataset. Any failure here is fatal: nothing
// downstream can run without data.
func (c *Coordinator) ingest(ctx context.Context, id, name, source string) (*dataset.Dataset, error) {
	pctx, cancel := context.WithTimeout(logging.WithPhase(ctx, PhaseIngest), c.cfg.IngestTimeout.Duration())
	defer cancel()

	start := time.Now()
	c.tracer.PhaseStart(pctx, id, name, PhaseIngest)

	ds, err := c.provider.Ingest(pctx, source)
	if err != nil {
		err = wrapTimeout(capability.CapabilityIngest, c.cfg.IngestTimeout.Duration(), err)
		c.recordPhase(pctx, id, failedRecord(PhaseIngest, start, err))
		c.tracer.PhaseError(pctx, id, name, PhaseIngest, time.Since(start), err)
		return nil, err
	}

	err = c.store.Update(id, func(s *session.Session) error {
		s.Schema = ds.Schema()
		s.Rows = ds.Rows()
		if err := s.Advance(session.StateIngested); err != nil {
			return err
		}
		s.RecordPhase(okRecord(PhaseIngest, start))
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.tracer.PhaseEnd(pctx, id, name, PhaseIngest, time.Since(start))
	return ds, nil
}

// retrieve pulls prior relevant sessions from the memory bank. Retrieval
// trouble degrades to an empty context set; it never fails the run.
func (c *Coordinator) retrieve(ctx context.Context, id string, ds *dataset.Dataset) []memory.RetrievedContext {
	contexts, err := c.bank.RetrieveContext(ctx, ds.Schema(), memory.RetrieveOptions{ExcludeSessionID: id})
	if err != nil {
		c.logger.Warn(ctx, "context retrieval failed, continuing without prior context", zap.Error(err))
		return nil
	}
	if len(contexts) == 0 {
		return nil
	}

	ids := make([]string, 0, len(contexts))
	for _, rc := range contexts {
		ids = append(ids, rc.SessionID)
	}
	if err := c.store.Update(id, func(s *session.Session) error {
		s.ContextSessions = ids
		return nil
	}); err != nil {
		c.logger.Warn(ctx, "context provenance dropped", zap.Error(err))
	}
	c.logger.Info(ctx, "prior context retrieved", zap.Int("sessions", len(contexts)))
	return contexts
}

// analyzeParallel runs the statistics and visualization branches under a
// shared deadline and joins their results. One branch failing records the
// failure and continues with the other; both failing is fatal.
func (c *Coordinator) analyzeParallel(ctx context.Context, id string, ds *dataset.Dataset, contexts []memory.RetrievedContext) (*capability.Analysis, *capability.Visuals, error) {
	if err := c.store.Update(id, func(s *session.Session) error {
		return s.Advance(session.StateAnalyzing)
	}); err != nil {
		return nil, nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, c.cfg.AnalysisTimeout.Duration())
	defer cancel()

	var (
		wg         sync.WaitGroup
		analysis   *capability.Analysis
		visuals    *capability.Visuals
		aRec, vRec session.PhaseRecord
		aErr, vErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		actx := logging.WithPhase(pctx, PhaseAnalyze)
		start := time.Now()
		c.tracer.PhaseStart(actx, id, ds.Name(), PhaseAnalyze)
		analysis, aErr = c.provider.AnalyzeStatistics(actx, ds, contexts)
		if aErr != nil {
			aErr = wrapTimeout(capability.CapabilityStatistics, c.cfg.AnalysisTimeout.Duration(), aErr)
			aRec = failedRecord(PhaseAnalyze, start, aErr)
			c.tracer.PhaseError(actx, id, ds.Name(), PhaseAnalyze, time.Since(start), aErr)
			return
		}
		aRec = okRecord(PhaseAnalyze, start)
		c.tracer.PhaseEnd(actx, id, ds.Name(), PhaseAnalyze, time.Since(start))
	}()
	go func() {
		defer wg.Done()
		vctx := logging.WithPhase(pctx, PhaseVisualize)
		start := time.Now()
		c.tracer.PhaseStart(vctx, id, ds.Name(), PhaseVisualize)
		visuals, vErr = c.provider.Visualize(vctx, ds, contexts, c.artifactsDir(id))
		if vErr != nil {
			vErr = wrapTimeout(capability.CapabilityVisualization, c.cfg.AnalysisTimeout.Duration(), vErr)
			vRec = failedRecord(PhaseVisualize, start, vErr)
			c.tracer.PhaseError(vctx, id, ds.Name(), PhaseVisualize, time.Since(start), vErr)
			return
		}
		vRec = okRecord(PhaseVisualize, start)
		c.tracer.PhaseEnd(vctx, id, ds.Name(), PhaseVisualize, time.Since(start))
	}()
	wg.Wait()

	bothFailed := aErr != nil && vErr != nil

	if err := c.store.Update(id, func(s *session.Session) error {
		s.RecordPhase(aRec)
		s.RecordPhase(vRec)
		if bothFailed {
			return nil
		}
		s.Insights = mergeInsights(analysis, visuals)
		s.Artifacts = append(s.Artifacts, chartArtifacts(visuals)...)
		return s.Advance(session.StateSynthesizing)
	}); err != nil {
		return nil, nil, err
	}

	if bothFailed {
		return nil, nil, fmt.Errorf("analysis and visualization both failed: %w", errors.Join(aErr, vErr))
	}
	if aErr != nil {
		analysis = nil
	}
	if vErr != nil {
		visuals = nil
	}
	return analysis, visuals, nil
}

// synthesize asks the report capability to assemble the final report. A
// report failure is recorded on the session and the run continues to
// commit with whatever the analysis phase produced.
func (c *Coordinator) synthesize(ctx context.Context, id string, ds *dataset.Dataset, analysis *capability.Analysis, visuals *capability.Visuals, contexts []memory.RetrievedContext) error {
	pctx, cancel := context.WithTimeout(logging.WithPhase(ctx, PhaseReport), c.cfg.SynthesisTimeout.Duration())
	defer cancel()

	snap, err := c.store.Get(id)
	if err != nil {
		return err
	}

	start := time.Now()
	c.tracer.PhaseStart(pctx, id, ds.Name(), PhaseReport)

	rep, err := c.provider.SynthesizeReport(pctx, capability.ReportRequest{
		Session:      snap,
		Dataset:      ds,
		Analysis:     analysis,
		Visuals:      visuals,
		Contexts:     contexts,
		ArtifactsDir: c.artifactsDir(id),
	})
	if err != nil {
		err = wrapTimeout(capability.CapabilityReport, c.cfg.SynthesisTimeout.Duration(), err)
		c.recordPhase(pctx, id, failedRecord(PhaseReport, start, err))
		c.tracer.PhaseError(pctx, id, ds.Name(), PhaseReport, time.Since(start), err)
		c.logger.Warn(pctx, "report synthesis failed, committing without report", zap.Error(err))
		return nil
	}

	err = c.store.Update(id, func(s *session.Session) error {
		s.Insights = append(s.Insights, rep.Insights...)
		insight.Sort(s.Insights)
		if rep.MarkdownPath != "" {
			s.Artifacts = append(s.Artifacts, session.Artifact{Kind: "report", Path: rep.MarkdownPath})
		}
		if rep.HTMLPath != "" {
			s.Artifacts = append(s.Artifacts, session.Artifact{Kind: "report", Path: rep.HTMLPath})
		}
		s.RecordPhase(okRecord(PhaseReport, start))
		return nil
	})
	if err != nil {
		return err
	}

	c.tracer.PhaseEnd(pctx, id, ds.Name(), PhaseReport, time.Since(start))
	return nil
}

// commit moves the session to COMMITTED and writes it to the memory bank.
// A bank write failure leaves the run committed with MemoryPersisted
// false and the session unfrozen, so a later Recommit can finish the job.
func (c *Coordinator) commit(ctx context.Context, id, name string) (*session.Session, error) {
	pctx, cancel := context.WithTimeout(logging.WithPhase(ctx, PhaseCommit), c.cfg.CommitTimeout.Duration())
	defer cancel()

	start := time.Now()
	c.tracer.PhaseStart(pctx, id, name, PhaseCommit)

	var final *session.Session
	if err := c.store.Update(id, func(s *session.Session) error {
		if err := s.Advance(session.StateCommitted); err != nil {
			return err
		}
		s.MemoryPersisted = true
		final = s.Clone()
		return nil
	}); err != nil {
		c.recordPhase(pctx, id, failedRecord(PhaseCommit, start, err))
		c.tracer.PhaseError(pctx, id, name, PhaseCommit, time.Since(start), err)
		return c.fail(pctx, id, err)
	}

	persistErr := c.bank.Commit(pctx, final)
	if persistErr != nil {
		persistErr = wrapTimeout(PhaseCommit, c.cfg.CommitTimeout.Duration(), persistErr)
		c.logger.Warn(pctx, "memory commit failed, session not persisted", zap.Error(persistErr))
	}

	if err := c.store.Update(id, func(s *session.Session) error {
		rec := okRecord(PhaseCommit, start)
		if persistErr != nil {
			s.MemoryPersisted = false
			rec = failedRecord(PhaseCommit, start, persistErr)
		}
		s.RecordPhase(rec)
		final = s.Clone()
		return nil
	}); err != nil {
		return c.fail(pctx, id, err)
	}

	if persistErr != nil {
		c.rescue(pctx, final)
		c.tracer.PhaseError(pctx, id, name, PhaseCommit, time.Since(start), persistErr)
	} else {
		if err := c.store.Freeze(id); err != nil {
			return c.fail(pctx, id, err)
		}
		c.eval.Trigger(final)
		c.tracer.PhaseEnd(pctx, id, name, PhaseCommit, time.Since(start))
	}

	c.tracer.Metrics().RunFinished(runCommitted, len(final.Insights))
	c.logger.Info(ctx, "run committed",
		zap.Int("insights", len(final.Insights)),
		zap.Bool("memory_persisted", final.MemoryPersisted),
		zap.Duration("took", final.TotalDuration()))
	return final, nil
}

// Recommit retries the memory bank write for a committed session whose
// first commit did not reach durable memory. It is idempotent: an already
// persisted session returns unchanged.
func (c *Coordinator) Recommit(ctx context.Context, id string) (*session.Session, error) {
	sess, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}
	if sess.State != session.StateCommitted {
		return nil, &session.InvalidStateError{SessionID: id, State: sess.State, Op: "recommit"}
	}
	if sess.MemoryPersisted {
		return sess, nil
	}

	ctx = logging.WithSessionID(ctx, id)
	ctx = logging.WithDataset(ctx, sess.Dataset)

	sess.MemoryPersisted = true
	if err := c.bank.Commit(ctx, sess); err != nil {
		c.logger.Warn(ctx, "memory commit failed, session not persisted", zap.Error(err))
		return nil, err
	}

	var final *session.Session
	if err := c.store.Update(id, func(s *session.Session) error {
		s.MemoryPersisted = true
		final = s.Clone()
		return nil
	}); err != nil {
		return nil, err
	}
	if err := c.store.Freeze(id); err != nil {
		return nil, err
	}
	c.eval.Trigger(final)
	os.Remove(filepath.Join(c.artifactsDir(id), SessionArtifact))

	c.logger.Info(ctx, "session recommitted", zap.Int("insights", len(final.Insights)))
	return final, nil
}

// fail moves the session to FAILED, freezes it, and returns it with the
// cause.
func (c *Coordinator) fail(ctx context.Context, id string, cause error) (*session.Session, error) {
	if err := c.store.Update(id, func(s *session.Session) error {
		return s.Fail(cause.Error())
	}); err != nil {
		c.logger.Error(ctx, "session could not be marked failed", zap.Error(err))
	}
	if err := c.store.Freeze(id); err != nil {
		c.logger.Error(ctx, "session freeze failed", zap.Error(err))
	}
	c.tracer.Metrics().RunFinished(runFailed, 0)

	final, err := c.store.Get(id)
	if err != nil {
		return nil, cause
	}
	c.logger.Error(ctx, "run failed", zap.String("state", string(final.State)), zap.Error(cause))
	return final, cause
}

func (c *Coordinator) artifactsDir(id string) string {
	return filepath.Join(c.cfg.ArtifactsDir, id)
}

// rescue writes the session record next to the run's artifacts so the
// memory write can be retried after this process is gone. Best effort.
func (c *Coordinator) rescue(ctx context.Context, sess *session.Session) {
	dir := c.artifactsDir(sess.ID)
	path := filepath.Join(dir, SessionArtifact)

	raw, err := json.MarshalIndent(sess, "", "  ")
	if err == nil {
		if mkErr := os.MkdirAll(dir, 0o700); mkErr == nil {
			err = os.WriteFile(path, raw, 0o600)
		} else {
			err = mkErr
		}
	}
	if err != nil {
		c.logger.Warn(ctx, "session rescue write failed", zap.Error(err))
		return
	}
	c.logger.Info(ctx, "session saved for recommit", zap.String("path", path))
}

// recordPhase appends a phase record outside the phase's own store
// update. Record loss is logged, never fatal.
func (c *Coordinator) recordPhase(ctx context.Context, id string, rec session.PhaseRecord) {
	if err := c.store.Update(id, func(s *session.Session) error {
		s.RecordPhase(rec)
		return nil
	}); err != nil {
		c.logger.Warn(ctx, "phase record dropped", zap.String("phase", rec.Phase), zap.Error(err))
	}
}

// mergeInsights joins the two branch results in a fixed order, then sorts,
// so the merge is deterministic regardless of which branch finished first.
func mergeInsights(analysis *capability.Analysis, visuals *capability.Visuals) []insight.Insight {
	var out []insight.Insight
	if analysis != nil {
		out = append(out, analysis.Insights...)
	}
	if visuals != nil {
		out = append(out, visuals.Insights...)
	}
	insight.Sort(out)
	return out
}

func chartArtifacts(visuals *capability.Visuals) []session.Artifact {
	if visuals == nil {
		return nil
	}
	out := make([]session.Artifact, 0, len(visuals.Charts))
	for _, ch := range visuals.Charts {
		out = append(out, session.Artifact{Kind: "chart", Path: ch.Path})
	}
	return out
}

func okRecord(phase string, start time.Time) session.PhaseRecord {
	return session.PhaseRecord{
		Phase:     phase,
		Status:    session.PhaseOK,
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
	}
}

func failedRecord(phase string, start time.Time, err error) session.PhaseRecord {
	return session.PhaseRecord{
		Phase:     phase,
		Status:    session.PhaseError,
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
		ErrorKind: errorKind(err),
		Error:     err.Error(),
	}
}

// wrapTimeout converts a deadline miss into a TimeoutError carrying the
// phase budget. Errors already typed pass through.
func wrapTimeout(capName string, budget time.Duration, err error) error {
	var te *capability.TimeoutError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &capability.TimeoutError{Capability: capName, Timeout: budget, Err: context.DeadlineExceeded}
	}
	return err
}

// errorKind names the error taxonomy entry for phase records.
func errorKind(err error) string {
	var (
		ingestErr  *dataset.IngestionError
		timeoutErr *capability.TimeoutError
		toolErr    *capability.ToolError
		stateErr   *session.InvalidStateError
		writeErr   *memory.WriteError
	)
	switch {
	case errors.As(err, &ingestErr):
		return "IngestionError"
	case errors.As(err, &timeoutErr):
		return "TimeoutError"
	case errors.As(err, &toolErr):
		return "ToolError"
	case errors.As(err, &stateErr):
		return "InvalidStateError"
	case errors.As(err, &writeErr):
		return "WriteError"
	default:
		return "Error"
	}
}
