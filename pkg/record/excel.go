package record

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

// ExcelSource reads records from one sheet of an xlsx workbook. An empty Sheet
// selects the first sheet.
type ExcelSource struct {
	Path  string
	Sheet string
}

// Read implements Source.
func (s *ExcelSource) Read(ctx context.Context) ([]Record, error) {
	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", s.Path, err)
	}
	defer f.Close()

	sheet := s.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	var header []string
	var data [][]string
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if header == nil {
			if isBlank(cols) {
				continue
			}
			header = cols
			continue
		}
		data = append(data, cols)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate sheet %q: %w", sheet, err)
	}

	return FromRows(header, data), nil
}

// CSVSource reads records from a comma-separated file with a header row.
type CSVSource struct {
	Path string
}

// Read implements Source.
func (s *CSVSource) Read(ctx context.Context) ([]Record, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.Path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var header []string
	var data [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", s.Path, err)
		}
		if header == nil {
			if isBlank(row) {
				continue
			}
			header = row
			continue
		}
		data = append(data, row)
	}

	return FromRows(header, data), nil
}
