package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/insightd/internal/insight"
)

func TestSession_AdvanceHappyPath(t *testing.T) {
	t.Parallel()

	s := New("s1", "sales", "sales.csv")
	assert.Equal(t, StateInit, s.State)

	for _, next := range []State{StateIngested, StateAnalyzing, StateSynthesizing, StateCommitted} {
		require.NoError(t, s.Advance(next))
		assert.Equal(t, next, s.State)
	}
	assert.False(t, s.CompletedAt.IsZero())
}

func TestSession_AdvanceIllegalEdge(t *testing.T) {
	t.Parallel()

	s := New("s1", "sales", "")
	err := s.Advance(StateCommitted)

	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "s1", stateErr.SessionID)
	assert.Equal(t, StateInit, stateErr.State)

	// The failed transition leaves the state untouched.
	assert.Equal(t, StateInit, s.State)
}

func TestSession_AdvanceUnknownState(t *testing.T) {
	t.Parallel()

	s := New("s1", "sales", "")
	require.Error(t, s.Advance(State("LIMBO")))
}

func TestSession_Fail(t *testing.T) {
	t.Parallel()

	s := New("s1", "sales", "")
	require.NoError(t, s.Fail("dataset unreadable"))

	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, "dataset unreadable", s.Error)
	assert.False(t, s.CompletedAt.IsZero())

	// A terminal session cannot fail again.
	var stateErr *InvalidStateError
	require.ErrorAs(t, s.Fail("again"), &stateErr)
}

func TestSession_RecordPhase(t *testing.T) {
	t.Parallel()

	s := New("s1", "sales", "")
	start := s.CreatedAt

	s.RecordPhase(PhaseRecord{Phase: "ingest", Status: PhaseOK,
		StartedAt: start, Duration: 100 * time.Millisecond})
	s.RecordPhase(PhaseRecord{Phase: "report", Status: PhaseError,
		StartedAt: start.Add(300 * time.Millisecond), Duration: 50 * time.Millisecond,
		ErrorKind: "ToolError", Error: "render failed"})

	assert.Equal(t, 150*time.Millisecond, s.TotalDuration())

	rec := s.Phase("report")
	require.NotNil(t, rec)
	assert.Equal(t, PhaseError, rec.Status)
	assert.Equal(t, "ToolError", rec.ErrorKind)
	assert.Nil(t, s.Phase("commit"))
}

func TestSession_RecordPhaseOrdersByStart(t *testing.T) {
	t.Parallel()

	s := New("s1", "sales", "")
	start := s.CreatedAt

	// Finish order: visualize before analyze. Start order must win.
	s.RecordPhase(PhaseRecord{Phase: "ingest", Status: PhaseOK,
		StartedAt: start, Duration: 10 * time.Millisecond})
	s.RecordPhase(PhaseRecord{Phase: "visualize", Status: PhaseOK,
		StartedAt: start.Add(20 * time.Millisecond), Duration: 30 * time.Millisecond})
	s.RecordPhase(PhaseRecord{Phase: "analyze", Status: PhaseOK,
		StartedAt: start.Add(15 * time.Millisecond), Duration: 90 * time.Millisecond})

	var order []string
	for _, rec := range s.Phases {
		order = append(order, rec.Phase)
	}
	assert.Equal(t, []string{"ingest", "analyze", "visualize"}, order)
}

func TestSession_TotalDurationTerminal(t *testing.T) {
	t.Parallel()

	s := New("s1", "sales", "")
	require.NoError(t, s.Fail("boom"))

	assert.Equal(t, s.CompletedAt.Sub(s.CreatedAt), s.TotalDuration())
}

func TestSession_Clone(t *testing.T) {
	t.Parallel()

	s := New("s1", "sales", "")
	s.Insights = []insight.Insight{insight.New("finding", 0.8, insight.SourceStatistical, insight.CategoryTrend)}
	s.ContextSessions = []string{"s0"}
	s.Evaluation = &Evaluation{Overall: 88, Grade: "B", Suggestions: []string{"add temporal column"}}

	s.RecordPhase(PhaseRecord{Phase: "ingest", Status: PhaseOK,
		StartedAt: s.CreatedAt, Duration: time.Millisecond})

	c := s.Clone()
	c.Insights[0].Text = "mutated"
	c.ContextSessions[0] = "mutated"
	c.Evaluation.Suggestions[0] = "mutated"
	c.Phases[0].Phase = "mutated"

	assert.Equal(t, "finding", s.Insights[0].Text)
	assert.Equal(t, "s0", s.ContextSessions[0])
	assert.Equal(t, "add temporal column", s.Evaluation.Suggestions[0])
	assert.Equal(t, "ingest", s.Phases[0].Phase)
}
