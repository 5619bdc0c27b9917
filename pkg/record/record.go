// Package record provides the input side of a pipeline run: immutable records
// read from spreadsheets, each tagged with its position in the source.
package record

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Record is one input row. Position is the zero-based index of the row among the
// source's data rows and defines the output order. Records are never mutated
// after the source creates them.
type Record struct {
	Position int
	Fields   map[string]string
}

// Get returns the first non-blank value among the given column names, trimmed.
// Column names are matched exactly first and then case-insensitively, in
// sorted header order so headers differing only by case resolve the same way
// on every call.
func (r Record) Get(names ...string) string {
	for _, name := range names {
		if v, ok := r.Fields[name]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	headers := slices.Sorted(maps.Keys(r.Fields))
	for _, name := range names {
		for _, k := range headers {
			if strings.EqualFold(strings.TrimSpace(k), name) {
				if v := strings.TrimSpace(r.Fields[k]); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// Source produces the full, ordered set of records for one run. The count must be
// known once Read returns.
type Source interface {
	Read(ctx context.Context) ([]Record, error)
}

// Open returns a source for the given file based on its extension.
func Open(path, sheet string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return &ExcelSource{Path: path, Sheet: sheet}, nil
	case ".csv":
		return &CSVSource{Path: path}, nil
	default:
		return nil, fmt.Errorf("%w: %s", sdkerrors.ErrUnsupportedFormat, path)
	}
}

// FromRows converts a header row and data rows into records. Blank rows are
// dropped before positions are assigned, blank headers become column_<n>, and
// short rows are padded with empty values.
func FromRows(header []string, rows [][]string) []Record {
	names := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		names[i] = h
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		fields := make(map[string]string, len(names))
		for i, name := range names {
			if i < len(row) {
				fields[name] = row[i]
			} else {
				fields[name] = ""
			}
		}
		records = append(records, Record{Position: len(records), Fields: fields})
	}
	return records
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// MultiSource concatenates sources in order, renumbering positions so they stay
// dense across the combined sequence.
type MultiSource []Source

// Read implements Source.
func (m MultiSource) Read(ctx context.Context) ([]Record, error) {
	var all []Record
	for i, src := range m {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := src.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		for _, rec := range records {
			rec.Position = len(all)
			all = append(all, rec)
		}
	}
	return all, nil
}

// SliceSource serves records that are already in memory.
type SliceSource []Record

// Read implements Source.
func (s SliceSource) Read(context.Context) ([]Record, error) {
	return s, nil
}
