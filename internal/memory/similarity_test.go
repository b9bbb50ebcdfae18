package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/insightd/internal/dataset"
)

func schemaOf(cols ...dataset.ColumnSchema) dataset.Schema {
	return dataset.Schema{Columns: cols}
}

func col(name string, typ dataset.ColumnType) dataset.ColumnSchema {
	return dataset.ColumnSchema{Name: name, Type: typ}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	sales := schemaOf(
		col("date", dataset.TypeTemporal),
		col("revenue", dataset.TypeNumeric),
		col("units", dataset.TypeNumeric),
		col("region", dataset.TypeCategorical),
	)

	tests := []struct {
		name       string
		a, b       dataset.Schema
		typeWeight float64
		want       float64
	}{
		{
			name:       "identical schemas",
			a:          sales,
			b:          sales,
			typeWeight: 0.25,
			want:       1.0,
		},
		{
			name:       "no shared columns",
			a:          sales,
			b:          schemaOf(col("temperature", dataset.TypeNumeric)),
			typeWeight: 0.25,
			want:       0,
		},
		{
			name:       "empty candidate",
			a:          sales,
			b:          dataset.Schema{},
			typeWeight: 0.25,
			want:       0,
		},
		{
			name:       "empty query",
			a:          dataset.Schema{},
			b:          sales,
			typeWeight: 0.25,
			want:       0,
		},
		{
			name: "half overlap with matching types",
			a:    sales,
			b: schemaOf(
				col("date", dataset.TypeTemporal),
				col("revenue", dataset.TypeNumeric),
				col("discount", dataset.TypeNumeric),
				col("channel", dataset.TypeCategorical),
			),
			typeWeight: 0.25,
			// jaccard 2/6, both shared columns type-match.
			want: 2.0 / 6.0,
		},
		{
			name:       "shared name with mismatched type",
			a:          schemaOf(col("value", dataset.TypeNumeric)),
			b:          schemaOf(col("value", dataset.TypeCategorical)),
			typeWeight: 0.25,
			want:       1.0 / 1.25,
		},
		{
			name:       "zero type weight is plain jaccard",
			a:          schemaOf(col("value", dataset.TypeNumeric)),
			b:          schemaOf(col("value", dataset.TypeCategorical)),
			typeWeight: 0,
			want:       1.0,
		},
		{
			name:       "names compare case insensitively",
			a:          schemaOf(col("Revenue", dataset.TypeNumeric)),
			b:          schemaOf(col("revenue", dataset.TypeNumeric)),
			typeWeight: 0.25,
			want:       1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Similarity(tt.a, tt.b, tt.typeWeight)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	t.Parallel()

	a := schemaOf(
		col("date", dataset.TypeTemporal),
		col("revenue", dataset.TypeNumeric),
	)
	b := schemaOf(
		col("revenue", dataset.TypeNumeric),
		col("region", dataset.TypeCategorical),
		col("units", dataset.TypeNumeric),
	)

	assert.InDelta(t, Similarity(a, b, 0.25), Similarity(b, a, 0.25), 1e-9)
}

func TestSimilarityPartialTypeMatch(t *testing.T) {
	t.Parallel()

	a := schemaOf(
		col("x", dataset.TypeNumeric),
		col("y", dataset.TypeNumeric),
	)
	b := schemaOf(
		col("x", dataset.TypeNumeric),
		col("y", dataset.TypeCategorical),
	)

	// jaccard 1, half the shared columns type-match.
	want := (1 + 0.25*0.5) / 1.25
	assert.InDelta(t, want, Similarity(a, b, 0.25), 1e-9)
}
