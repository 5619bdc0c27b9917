package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/wehubfusion/Daedalus/pkg/pipeline"
)

// ResultSheet names the worksheet holding results.
const ResultSheet = "Results"

// XLSXWriter writes results to an Excel workbook using the streaming writer.
type XLSXWriter struct {
	path string
}

// NewXLSXWriter creates a writer for path.
func NewXLSXWriter(path string) *XLSXWriter {
	return &XLSXWriter{path: path}
}

// Path returns the output file.
func (w *XLSXWriter) Path() string {
	return w.path
}

// Write implements pipeline.Sink. The workbook is written to a temporary file
// and renamed into place.
func (w *XLSXWriter) Write(_ context.Context, result pipeline.RunResult) error {
	table, err := FitColumns(BuildTable(result), excelize.MaxColumns)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), ResultSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(ResultSheet)
	if err != nil {
		return fmt.Errorf("create stream writer: %w", err)
	}

	header := make([]any, len(table.Header))
	for i, h := range table.Header {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, clampCells(row)); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}

	tmp, err := tempPath(w.path)
	if err != nil {
		return err
	}
	if err := f.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save workbook: %w", err)
	}
	return commit(tmp, w.path)
}

// clampCells truncates strings longer than a cell can hold.
func clampCells(row []any) []any {
	for i, v := range row {
		if s, ok := v.(string); ok {
			row[i] = truncateRunes(s, excelize.TotalCellChars)
		}
	}
	return row
}

// truncateRunes cuts s to at most n characters without splitting one.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func tempPath(path string) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return filepath.Join(dir, ".partial-"+filepath.Base(path)), nil
}

func commit(tmp, path string) error {
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("move result into place: %w", err)
	}
	return nil
}
