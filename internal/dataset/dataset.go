// Package dataset loads tabular data files and infers a typed schema.
//
// Supported formats are CSV with a header row and JSON arrays of flat
// objects. Column types are inferred from the values: a column where every
// non-missing value parses as a number is numeric, as a timestamp is
// temporal, as true/false is boolean; anything else is categorical.
package dataset

import (
	"math"
	"sort"
	"time"
)

// ColumnType classifies the values in a column.
type ColumnType string

const (
	TypeNumeric     ColumnType = "numeric"
	TypeTemporal    ColumnType = "temporal"
	TypeBoolean     ColumnType = "boolean"
	TypeCategorical ColumnType = "categorical"
)

// ColumnSchema describes one column.
type ColumnSchema struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Schema is the ordered column layout of a dataset. It is what the memory
// bank compares when looking for structurally similar past sessions.
type Schema struct {
	Columns []ColumnSchema `json:"columns"`
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Types returns a name-to-type lookup.
func (s Schema) Types() map[string]ColumnType {
	types := make(map[string]ColumnType, len(s.Columns))
	for _, c := range s.Columns {
		types[c.Name] = c.Type
	}
	return types
}

// Dataset is an ingested table. Values are stored columnar: numeric
// columns as float64 slices with NaN marking missing cells, temporal
// columns as time slices with the zero time marking missing cells, and
// boolean and categorical columns as strings.
type Dataset struct {
	name   string
	path   string
	rows   int
	schema Schema

	numeric     map[string][]float64
	temporal    map[string][]time.Time
	categorical map[string][]string
	missing     map[string]int
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// Path returns the source file path, empty for in-memory datasets.
func (d *Dataset) Path() string { return d.path }

// Rows returns the number of data rows.
func (d *Dataset) Rows() int { return d.rows }

// Schema returns the ordered column layout.
func (d *Dataset) Schema() Schema { return d.schema }

// Numeric returns the values of a numeric column.
func (d *Dataset) Numeric(name string) ([]float64, bool) {
	v, ok := d.numeric[name]
	return v, ok
}

// Temporal returns the values of a temporal column.
func (d *Dataset) Temporal(name string) ([]time.Time, bool) {
	v, ok := d.temporal[name]
	return v, ok
}

// Categorical returns the values of a boolean or categorical column.
func (d *Dataset) Categorical(name string) ([]string, bool) {
	v, ok := d.categorical[name]
	return v, ok
}

// NumericColumns returns the numeric column names in schema order.
func (d *Dataset) NumericColumns() []string {
	return d.columnsOfType(TypeNumeric)
}

// TemporalColumns returns the temporal column names in schema order.
func (d *Dataset) TemporalColumns() []string {
	return d.columnsOfType(TypeTemporal)
}

func (d *Dataset) columnsOfType(t ColumnType) []string {
	var names []string
	for _, c := range d.schema.Columns {
		if c.Type == t {
			names = append(names, c.Name)
		}
	}
	return names
}

// MissingCount returns how many cells in a column are missing.
func (d *Dataset) MissingCount(name string) int {
	return d.missing[name]
}

// Completeness returns the fraction of non-missing cells across the whole
// table, in [0, 1]. An empty table is complete.
func (d *Dataset) Completeness() float64 {
	cells := d.rows * len(d.schema.Columns)
	if cells == 0 {
		return 1
	}
	missing := 0
	for _, n := range d.missing {
		missing += n
	}
	return 1 - float64(missing)/float64(cells)
}

// NumericValues returns the non-missing values of a numeric column.
func (d *Dataset) NumericValues(name string) []float64 {
	raw, ok := d.numeric[name]
	if !ok {
		return nil
	}
	vals := make([]float64, 0, len(raw))
	for _, v := range raw {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	return vals
}

// PairedValues returns rows where both numeric columns are present, as two
// aligned slices.
func (d *Dataset) PairedValues(a, b string) ([]float64, []float64) {
	va, oka := d.numeric[a]
	vb, okb := d.numeric[b]
	if !oka || !okb {
		return nil, nil
	}
	xs := make([]float64, 0, len(va))
	ys := make([]float64, 0, len(vb))
	for i := range va {
		if math.IsNaN(va[i]) || math.IsNaN(vb[i]) {
			continue
		}
		xs = append(xs, va[i])
		ys = append(ys, vb[i])
	}
	return xs, ys
}

// TimeSeries returns rows where the temporal column is set and the numeric
// column is present, ordered by time.
func (d *Dataset) TimeSeries(timeCol, valueCol string) ([]time.Time, []float64) {
	ts, okt := d.temporal[timeCol]
	vs, okv := d.numeric[valueCol]
	if !okt || !okv {
		return nil, nil
	}
	type point struct {
		t time.Time
		v float64
	}
	points := make([]point, 0, len(ts))
	for i := range ts {
		if ts[i].IsZero() || math.IsNaN(vs[i]) {
			continue
		}
		points = append(points, point{t: ts[i], v: vs[i]})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].t.Before(points[j].t) })

	outT := make([]time.Time, len(points))
	outV := make([]float64, len(points))
	for i, p := range points {
		outT[i] = p.t
		outV[i] = p.v
	}
	return outT, outV
}
