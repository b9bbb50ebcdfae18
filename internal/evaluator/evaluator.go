// Package evaluator grades committed sessions after the fact. Grading is
// advisory: the result is attached to the session's memory record in the
// background, and a failure or panic inside an evaluation never touches
// the run it grades.
package evaluator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/insight"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/session"
)

const (
	// maxSuggestions caps the improvement hints carried on a report.
	maxSuggestions = 3

	// neutralMemoryScore is used when no prior context was retrieved: the
	// run had nothing to draw on, so memory effectiveness is unmeasurable.
	neutralMemoryScore = 50

	// lowInfluenceShare is the influenced-insight share below which
	// retrieved context counts as underused.
	lowInfluenceShare = 0.25

	// recurringSupport is the support floor for a pattern to count as
	// recurring when suggestions mention unused memory.
	recurringSupport = 2
)

// Evaluator scores sessions on quality, performance, and memory
// effectiveness, each on a 0-100 scale, and blends them into an overall
// grade.
type Evaluator struct {
	cfg    config.EvaluationConfig
	bank   *memory.Bank
	logger *logging.Logger

	wg sync.WaitGroup
}

// New builds an Evaluator persisting through bank. Zero config fields fall
// back to the package defaults.
func New(cfg config.EvaluationConfig, bank *memory.Bank, logger *logging.Logger) *Evaluator {
	def := config.NewDefaultConfig().Evaluation
	if cfg.Timeout.Duration() <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MinInsights < 1 {
		cfg.MinInsights = def.MinInsights
	}
	if cfg.ConfidenceFloor <= 0 || cfg.ConfidenceFloor > 1 {
		cfg.ConfidenceFloor = def.ConfidenceFloor
	}
	if cfg.Baseline.Duration() <= 0 {
		cfg.Baseline = def.Baseline
	}
	if cfg.QualityWeight+cfg.PerformanceWeight+cfg.MemoryWeight <= 0 {
		cfg.QualityWeight = def.QualityWeight
		cfg.PerformanceWeight = def.PerformanceWeight
		cfg.MemoryWeight = def.MemoryWeight
	}
	if logger == nil {
		logger = logging.FromContext(context.Background())
	}
	return &Evaluator{cfg: cfg, bank: bank, logger: logger.Named("evaluator")}
}

// Trigger starts a detached evaluation of a committed session and returns
// immediately. The session is snapshotted first, so later mutations by the
// caller are not observed. No-op when evaluation is disabled.
func (e *Evaluator) Trigger(sess *session.Session) {
	if e == nil || !e.cfg.Enabled || sess == nil {
		return
	}
	snap := sess.Clone()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(snap)
	}()
}

// Wait blocks until every triggered evaluation has finished.
func (e *Evaluator) Wait() {
	e.wg.Wait()
}

func (e *Evaluator) run(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout.Duration())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, "evaluation panicked",
				zap.String("session_id", sess.ID),
				zap.Any("panic", r))
		}
	}()

	recent, err := e.bank.Patterns(ctx, recurringSupport)
	if err != nil {
		e.logger.Warn(ctx, "pattern query failed, scoring without patterns",
			zap.String("session_id", sess.ID), zap.Error(err))
	}

	ev := e.Evaluate(sess, recent)

	if err := e.bank.AttachEvaluation(ctx, sess.ID, ev); err != nil {
		e.logger.Warn(ctx, "evaluation not persisted",
			zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	e.logger.Info(ctx, "session evaluated",
		zap.String("session_id", sess.ID),
		zap.Float64("overall", ev.Overall),
		zap.String("grade", ev.Grade))
}

// Evaluate scores a session against recent recurring patterns. It is pure:
// nothing is persisted and the session is left untouched.
func (e *Evaluator) Evaluate(sess *session.Session, recent []memory.Pattern) session.Evaluation {
	quality := e.qualityScore(sess)
	perf := e.performanceScore(sess)
	mem := e.memoryScore(sess)

	overall := quality*e.cfg.QualityWeight + perf*e.cfg.PerformanceWeight + mem*e.cfg.MemoryWeight

	return session.Evaluation{
		QualityScore:     quality,
		PerformanceScore: perf,
		MemoryScore:      mem,
		Overall:          overall,
		Grade:            Grade(overall),
		Suggestions:      e.suggest(sess, recent),
		EvaluatedAt:      time.Now().UTC(),
	}
}

// qualityScore blends insight yield against the configured minimum with
// average confidence against the configured floor.
func (e *Evaluator) qualityScore(sess *session.Session) float64 {
	count := math.Min(float64(len(sess.Insights))/float64(e.cfg.MinInsights), 1)
	conf := math.Min(avgConfidence(sess.Insights)/e.cfg.ConfidenceFloor, 1)
	return (count + conf) / 2 * 100
}

// performanceScore decays linearly from 100 at instant completion to 0 at
// the configured baseline duration.
func (e *Evaluator) performanceScore(sess *session.Session) float64 {
	frac := 1 - sess.TotalDuration().Seconds()/e.cfg.Baseline.Duration().Seconds()
	return math.Max(frac, 0) * 100
}

// memoryScore is the share of final insights shaped by retrieved context.
func (e *Evaluator) memoryScore(sess *session.Session) float64 {
	if len(sess.ContextSessions) == 0 {
		return neutralMemoryScore
	}
	return influenceShare(sess) * 100
}

// suggest derives up to maxSuggestions improvement hints from rule
// thresholds. Quality rules come first so they survive the cap.
func (e *Evaluator) suggest(sess *session.Session, recent []memory.Pattern) []string {
	var out []string

	if n := len(sess.Insights); n < e.cfg.MinInsights {
		out = append(out, fmt.Sprintf("only %d insight(s) against a target of %d; widen column coverage or relax analysis thresholds", n, e.cfg.MinInsights))
	}
	if avg := avgConfidence(sess.Insights); len(sess.Insights) > 0 && avg < e.cfg.ConfidenceFloor {
		out = append(out, fmt.Sprintf("average confidence %.2f is below the %.2f floor; findings rest on weak signals", avg, e.cfg.ConfidenceFloor))
	}
	if d := sess.TotalDuration(); d > e.cfg.Baseline.Duration() {
		out = append(out, fmt.Sprintf("run took %s against a %s baseline; %s was the slowest phase",
			d.Round(time.Millisecond), e.cfg.Baseline.Duration(), slowestPhase(sess)))
	}
	if len(sess.ContextSessions) > 0 && influenceShare(sess) < lowInfluenceShare {
		msg := "retrieved context rarely shaped findings"
		if len(recent) > 0 {
			msg = fmt.Sprintf("%s; %d recurring pattern(s) in memory went unused", msg, len(recent))
		}
		out = append(out, msg)
	}

	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

// Grade maps an overall score to its letter grade.
func Grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func avgConfidence(ins []insight.Insight) float64 {
	if len(ins) == 0 {
		return 0
	}
	var sum float64
	for i := range ins {
		sum += ins[i].Confidence
	}
	return sum / float64(len(ins))
}

func influenceShare(sess *session.Session) float64 {
	if len(sess.Insights) == 0 {
		return 0
	}
	influenced := 0
	for i := range sess.Insights {
		if sess.Insights[i].MemoryInfluenced {
			influenced++
		}
	}
	return float64(influenced) / float64(len(sess.Insights))
}

func slowestPhase(sess *session.Session) string {
	name, longest := "", time.Duration(-1)
	for _, rec := range sess.Phases {
		if rec.Duration > longest {
			name, longest = rec.Phase, rec.Duration
		}
	}
	return name
}
