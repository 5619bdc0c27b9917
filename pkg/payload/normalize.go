package payload

import (
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// dateLayouts are tried in order when normalising dates to YYYYMMDD.
var dateLayouts = []string{
	"20060102",
	time.DateOnly,
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"01-02-06",
	"1/2/06",
	"2006/01/02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
}

// NormalizeValue trims value and renders integral numbers without a trailing
// fractional part, so "12345.0" becomes "12345".
func NormalizeValue(value string) string {
	value = strings.TrimSpace(value)
	if !strings.Contains(value, ".") {
		return value
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f != float64(int64(f)) {
		return value
	}
	return strconv.FormatInt(int64(f), 10)
}

// NormalizeDate renders a date as YYYYMMDD. Spreadsheet serial numbers are
// accepted. Values that cannot be parsed are returned trimmed and unchanged.
func NormalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("20060102")
		}
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil && serial > 0 && serial < 2958466 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t.Format("20060102")
		}
	}
	return value
}

// splitCodes splits a cell holding one or more service type codes.
func splitCodes(value string) []string {
	var codes []string
	for _, code := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' || r == ' ' }) {
		codes = append(codes, NormalizeValue(code))
	}
	return codes
}
