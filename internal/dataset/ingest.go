package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// maxDatasetBytes caps input files at 100 MiB.
	maxDatasetBytes = 100 << 20

	// maxColumns caps the table width.
	maxColumns = 1000
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// BaseName derives the dataset name from a source path, the file name
// without its extension.
func BaseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// Load reads a dataset file, dispatching on the extension. Supported
// extensions are .csv and .json.
func Load(path string) (*Dataset, error) {
	name := BaseName(path)

	fi, err := os.Stat(path)
	if err != nil {
		return nil, ingestErr(path, "cannot stat file", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, ingestErr(path, "not a regular file", nil)
	}
	if fi.Size() > maxDatasetBytes {
		return nil, ingestErr(path, fmt.Sprintf("file exceeds %d bytes", int64(maxDatasetBytes)), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, ingestErr(path, "cannot open file", err)
	}
	defer f.Close()

	r := io.LimitReader(f, maxDatasetBytes)

	var d *Dataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		d, err = ReadCSV(r, name)
	case ".json":
		d, err = ReadJSON(r, name)
	default:
		return nil, ingestErr(path, fmt.Sprintf("unsupported format %q", filepath.Ext(path)), nil)
	}
	if err != nil {
		return nil, err
	}
	d.path = path
	return d, nil
}

// ReadCSV ingests CSV data with a header row.
func ReadCSV(r io.Reader, name string) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ingestErr(name, "file is empty", nil)
	}
	if err != nil {
		return nil, ingestErr(name, "malformed header", err)
	}
	if len(header) == 0 {
		return nil, ingestErr(name, "no columns", nil)
	}
	if len(header) > maxColumns {
		return nil, ingestErr(name, fmt.Sprintf("too many columns (%d > %d)", len(header), maxColumns), nil)
	}

	names := normalizeHeader(header)
	cols := make([][]string, len(names))

	rows := 0
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, ingestErr(name, fmt.Sprintf("malformed row %d", rows+2), err)
		}
		for i := range names {
			cols[i] = append(cols[i], record[i])
		}
		rows++
	}
	if rows == 0 {
		return nil, ingestErr(name, "no data rows", nil)
	}

	return buildDataset(name, names, cols, rows), nil
}

// ReadJSON ingests a JSON array of flat objects. Keys are ordered
// alphabetically; nested values are rejected.
func ReadJSON(r io.Reader, name string) (*Dataset, error) {
	var records []map[string]any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&records); err != nil {
		return nil, ingestErr(name, "malformed json", err)
	}
	if len(records) == 0 {
		return nil, ingestErr(name, "no data rows", nil)
	}

	keySet := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			keySet[k] = struct{}{}
		}
	}
	if len(keySet) == 0 {
		return nil, ingestErr(name, "no columns", nil)
	}
	if len(keySet) > maxColumns {
		return nil, ingestErr(name, fmt.Sprintf("too many columns (%d > %d)", len(keySet), maxColumns), nil)
	}

	names := make([]string, 0, len(keySet))
	for k := range keySet {
		names = append(names, k)
	}
	sort.Strings(names)

	cols := make([][]string, len(names))
	for i := range cols {
		cols[i] = make([]string, len(records))
	}
	for rowIdx, rec := range records {
		for colIdx, key := range names {
			val, ok := rec[key]
			if !ok || val == nil {
				continue
			}
			s, err := scalarString(val)
			if err != nil {
				return nil, ingestErr(name, fmt.Sprintf("row %d field %q", rowIdx+1, key), err)
			}
			cols[colIdx][rowIdx] = s
		}
	}

	return buildDataset(name, names, cols, len(records)), nil
}

func scalarString(v any) (string, error) {
	switch value := v.(type) {
	case string:
		return value, nil
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(value), nil
	default:
		return "", fmt.Errorf("nested values are not supported")
	}
}

// normalizeHeader fills in blank names and dedupes repeats with a numeric
// suffix.
func normalizeHeader(header []string) []string {
	seen := make(map[string]int, len(header))
	names := make([]string, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		seen[name] = 1
		names[i] = name
	}
	return names
}

func buildDataset(name string, names []string, cols [][]string, rows int) *Dataset {
	d := &Dataset{
		name:        name,
		rows:        rows,
		numeric:     make(map[string][]float64),
		temporal:    make(map[string][]time.Time),
		categorical: make(map[string][]string),
		missing:     make(map[string]int),
	}

	for i, colName := range names {
		t := classify(cols[i])
		d.schema.Columns = append(d.schema.Columns, ColumnSchema{Name: colName, Type: t})

		switch t {
		case TypeNumeric:
			vals := make([]float64, rows)
			for j, raw := range cols[i] {
				f, ok := parseNumber(raw)
				if !ok {
					vals[j] = math.NaN()
					d.missing[colName]++
					continue
				}
				vals[j] = f
			}
			d.numeric[colName] = vals
		case TypeTemporal:
			vals := make([]time.Time, rows)
			for j, raw := range cols[i] {
				ts, ok := parseTime(raw)
				if !ok {
					d.missing[colName]++
					continue
				}
				vals[j] = ts
			}
			d.temporal[colName] = vals
		case TypeBoolean:
			vals := make([]string, rows)
			for j, raw := range cols[i] {
				if isMissing(raw) {
					d.missing[colName]++
					continue
				}
				vals[j] = strings.ToLower(strings.TrimSpace(raw))
			}
			d.categorical[colName] = vals
		default:
			vals := make([]string, rows)
			for j, raw := range cols[i] {
				if isMissing(raw) {
					d.missing[colName]++
					continue
				}
				vals[j] = strings.TrimSpace(raw)
			}
			d.categorical[colName] = vals
		}
	}
	return d
}

// classify picks the narrowest type that fits every non-missing value:
// boolean, then numeric, then temporal, falling back to categorical. A
// fully missing column is categorical.
func classify(values []string) ColumnType {
	seen := 0
	isBool, isNum, isTime := true, true, true

	for _, raw := range values {
		if isMissing(raw) {
			continue
		}
		seen++
		v := strings.TrimSpace(raw)
		if isBool && !parseableBool(v) {
			isBool = false
		}
		if isNum {
			if _, ok := parseNumber(v); !ok {
				isNum = false
			}
		}
		if isTime {
			if _, ok := parseTime(v); !ok {
				isTime = false
			}
		}
		if !isBool && !isNum && !isTime {
			return TypeCategorical
		}
	}
	if seen == 0 {
		return TypeCategorical
	}
	switch {
	case isBool:
		return TypeBoolean
	case isNum:
		return TypeNumeric
	case isTime:
		return TypeTemporal
	default:
		return TypeCategorical
	}
}

func isMissing(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "nan", "na", "n/a":
		return true
	}
	return false
}

func parseableBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false":
		return true
	}
	return false
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
