// Package sink writes the ordered outcomes of a run to a result file.
package sink

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

// Fixed leading columns of every result file.
var FixedColumns = []string{"position", "outcome", "status_code", "attempts", "error_code", "error"}

// responsePrefix is prepended to response keys that collide with a fixed column.
const responsePrefix = "response_"

// OverflowColumn holds, as a JSON object, the response keys of a table that is
// wider than its format allows.
const OverflowColumn = "response_overflow"

// Table is the tabular form of a run result. Cells are int or string.
type Table struct {
	Header []string
	Rows   [][]any
}

// BuildTable renders one row per outcome, in position order. Response columns
// follow the fixed columns in the order they are first seen.
func BuildTable(result pipeline.RunResult) Table {
	fixed := make(map[string]bool, len(FixedColumns))
	for _, col := range FixedColumns {
		fixed[col] = true
	}

	header := append([]string(nil), FixedColumns...)
	index := make(map[string]int)
	flats := make([]Flat, len(result))

	for i, o := range result {
		if o.Response == nil {
			continue
		}
		flat := Flatten(o.Response.Body)
		for j, key := range flat.Keys {
			if fixed[key] {
				renamed := responsePrefix + key
				// never shadow a key the body already carries
				for _, taken := flat.Values[renamed]; taken; _, taken = flat.Values[renamed] {
					renamed = responsePrefix + renamed
				}
				flat.Values[renamed] = flat.Values[key]
				flat.Keys[j] = renamed
				key = renamed
			}
			if _, ok := index[key]; !ok {
				index[key] = len(header)
				header = append(header, key)
			}
		}
		flats[i] = flat
	}

	rows := make([][]any, len(result))
	for i, o := range result {
		row := make([]any, len(header))
		row[0] = o.Position
		row[1] = o.Kind.String()
		row[2] = o.StatusCode()
		row[3] = o.Attempts
		row[4] = o.ErrorCode()
		row[5] = o.Reason
		for k := len(FixedColumns); k < len(row); k++ {
			row[k] = ""
		}
		for _, key := range flats[i].Keys {
			row[index[key]] = flats[i].Values[key]
		}
		rows[i] = row
	}

	return Table{Header: header, Rows: rows}
}

// FitColumns returns a table with at most maxColumns columns. When t is wider,
// the trailing response columns are folded into OverflowColumn: one JSON object
// per row holding the row's non-empty overflow cells in column order.
func FitColumns(t Table, maxColumns int) (Table, error) {
	if len(t.Header) <= maxColumns {
		return t, nil
	}
	if maxColumns <= len(FixedColumns) {
		return Table{}, fmt.Errorf("at least %d columns are needed, format allows %d", len(FixedColumns)+1, maxColumns)
	}

	keep := maxColumns - 1
	name := OverflowColumn
	for slices.Contains(t.Header[:keep], name) {
		name = responsePrefix + name
	}

	header := append(slices.Clone(t.Header[:keep]), name)
	rows := make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		fitted := append(slices.Clone(row[:keep]), overflowJSON(t.Header[keep:], row[keep:]))
		rows[i] = fitted
	}
	return Table{Header: header, Rows: rows}, nil
}

func overflowJSON(keys []string, cells []any) string {
	var b strings.Builder
	for i, key := range keys {
		s, _ := cells[i].(string)
		if s == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteByte('{')
		} else {
			b.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		v, _ := json.Marshal(s)
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	if b.Len() == 0 {
		return ""
	}
	b.WriteByte('}')
	return b.String()
}

// Writer is a sink backed by a file.
type Writer interface {
	pipeline.Sink
	Path() string
}

// Open returns a writer for path based on its extension.
func Open(path string) (Writer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return &XLSXWriter{path: path}, nil
	case ".csv":
		return &CSVWriter{path: path}, nil
	default:
		return nil, fmt.Errorf("%w: %s", sdkerrors.ErrUnsupportedFormat, path)
	}
}

var _ Writer = (*XLSXWriter)(nil)
var _ Writer = (*CSVWriter)(nil)
