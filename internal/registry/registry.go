// Package registry maps dataset names to their files and analysis
// options through a TOML catalog:
//
//	[datasets.sales]
//	path = "data/sales.csv"
//	type = "timeseries"
//	date_column = "date"
//	value_column = "revenue"
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Analysis types accepted in catalog entries and on the CLI.
const (
	TypeComprehensive = "comprehensive"
	TypeTimeseries    = "timeseries"
)

// ErrUnknownDataset is returned when a name has no catalog entry.
var ErrUnknownDataset = errors.New("unknown dataset")

// Entry describes one named dataset.
type Entry struct {
	Name        string `toml:"-"`
	Path        string `toml:"path"`
	Type        string `toml:"type"`
	DateColumn  string `toml:"date_column"`
	ValueColumn string `toml:"value_column"`
}

// Registry is a loaded dataset catalog.
type Registry struct {
	entries map[string]Entry
}

// Load reads a datasets.toml catalog. A missing file yields an empty
// registry; a present but invalid one is an error.
func Load(path string) (*Registry, error) {
	r := &Registry{entries: map[string]Entry{}}
	if path == "" {
		return r, nil
	}

	var file struct {
		Datasets map[string]Entry `toml:"datasets"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("parse dataset catalog %s: %w", path, err)
	}

	for name, e := range file.Datasets {
		e.Name = name
		if err := validateEntry(e); err != nil {
			return nil, fmt.Errorf("dataset catalog %s: %w", path, err)
		}
		r.entries[name] = e
	}
	return r, nil
}

func validateEntry(e Entry) error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("dataset with empty name")
	}
	if strings.TrimSpace(e.Path) == "" {
		return fmt.Errorf("dataset %s: path is required", e.Name)
	}
	switch e.Type {
	case "", TypeComprehensive, TypeTimeseries:
	default:
		return fmt.Errorf("dataset %s: unknown analysis type %q", e.Name, e.Type)
	}
	return nil
}

// Resolve returns the entry for a catalog name.
func (r *Registry) Resolve(name string) (Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		if names := r.Names(); len(names) > 0 {
			return Entry{}, fmt.Errorf("%w %q, known: %s", ErrUnknownDataset, name, strings.Join(names, ", "))
		}
		return Entry{}, fmt.Errorf("%w %q", ErrUnknownDataset, name)
	}
	return e, nil
}

// ResolveSource accepts either a dataset file path or a catalog name.
// Anything that exists on disk, carries a data file extension, or looks
// like a path is used as-is; everything else goes through the catalog.
func (r *Registry) ResolveSource(arg string) (Entry, error) {
	if looksLikePath(arg) {
		return Entry{Path: arg}, nil
	}
	return r.Resolve(arg)
}

func looksLikePath(arg string) bool {
	if strings.ContainsRune(arg, os.PathSeparator) || strings.HasPrefix(arg, ".") {
		return true
	}
	switch strings.ToLower(filepath.Ext(arg)) {
	case ".csv", ".json":
		return true
	}
	_, err := os.Stat(arg)
	return err == nil
}

// Names returns the catalog names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns all catalog entries in name order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, name := range r.Names() {
		out = append(out, r.entries[name])
	}
	return out
}

// Len returns the number of catalog entries.
func (r *Registry) Len() int { return len(r.entries) }
