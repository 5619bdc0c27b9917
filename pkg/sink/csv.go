package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

// CSVWriter writes results as comma-separated values. It has no column limit.
type CSVWriter struct {
	path string
}

// NewCSVWriter creates a writer for path.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

// Path returns the output file.
func (w *CSVWriter) Path() string {
	return w.path
}

// Write implements pipeline.Sink.
func (w *CSVWriter) Write(_ context.Context, result pipeline.RunResult) error {
	table := BuildTable(result)

	tmp, err := tempPath(w.path)
	if err != nil {
		return err
	}
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}

	if err := writeCSV(file, table); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close result file: %w", err)
	}
	return commit(tmp, w.path)
}

func writeCSV(file *os.File, table Table) error {
	cw := csv.NewWriter(file)
	if err := cw.Write(table.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(table.Header))
	for i, row := range table.Rows {
		for j, v := range row {
			record[j] = fmt.Sprint(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
