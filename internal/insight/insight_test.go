package insight

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampConfidence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, ClampConfidence(-0.5))
	assert.Equal(t, 1.0, ClampConfidence(1.5))
	assert.Equal(t, 0.7, ClampConfidence(0.7))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
}

func TestNew_Clamps(t *testing.T) {
	t.Parallel()

	in := New("revenue and units move together", 3.0, SourceStatistical, CategoryCorrelation)
	assert.Equal(t, 1.0, in.Confidence)
	assert.Equal(t, SourceStatistical, in.Source)
}

func TestSort_ConfidenceDescending(t *testing.T) {
	t.Parallel()

	insights := []Insight{
		New("low", 0.2, SourceStatistical, CategorySummary),
		New("high", 0.9, SourceSynthesized, CategorySummary),
		New("mid", 0.5, SourceVisual, CategoryChart),
	}
	Sort(insights)

	assert.Equal(t, "high", insights[0].Text)
	assert.Equal(t, "mid", insights[1].Text)
	assert.Equal(t, "low", insights[2].Text)
}

func TestSort_SourceBreaksTies(t *testing.T) {
	t.Parallel()

	insights := []Insight{
		New("synth", 0.8, SourceSynthesized, CategorySummary),
		New("visual", 0.8, SourceVisual, CategoryChart),
		New("stat", 0.8, SourceStatistical, CategoryTrend),
	}
	Sort(insights)

	assert.Equal(t, "stat", insights[0].Text)
	assert.Equal(t, "visual", insights[1].Text)
	assert.Equal(t, "synth", insights[2].Text)
}

func TestSort_InsertionOrderAmongEquals(t *testing.T) {
	t.Parallel()

	insights := []Insight{
		New("first", 0.8, SourceStatistical, CategoryTrend),
		New("second", 0.8, SourceStatistical, CategoryOutlier),
		New("third", 0.8, SourceStatistical, CategoryCorrelation),
	}
	Sort(insights)

	assert.Equal(t, "first", insights[0].Text)
	assert.Equal(t, "second", insights[1].Text)
	assert.Equal(t, "third", insights[2].Text)
}
