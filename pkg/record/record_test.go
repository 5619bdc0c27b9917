package record

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

func TestFromRowsAssignsDensePositions(t *testing.T) {
	header := []string{"Member ID", "", "First Name"}
	rows := [][]string{
		{"A1", "x", "Ann"},
		{"", "  ", ""},
		{"B2"},
		{"C3", "z", "Cid"},
	}

	records := FromRows(header, rows)

	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, i, rec.Position)
	}
	assert.Equal(t, "x", records[0].Fields["column_2"])
	assert.Equal(t, "", records[1].Fields["First Name"])
	assert.Equal(t, "Cid", records[2].Get("First Name"))
}

func TestRecordGetAliases(t *testing.T) {
	rec := Record{Fields: map[string]string{
		"Payor Name": "  ",
		"payer name": "Aetna ",
		"SUB DOB":    "01/02/1980",
	}}

	assert.Equal(t, "Aetna", rec.Get("Payor Name", "payer name"))
	assert.Equal(t, "01/02/1980", rec.Get("Sub DOB"))
	assert.Equal(t, "", rec.Get("Member ID"))
}

func TestOpenRejectsUnknownExtension(t *testing.T) {
	_, err := Open("records.json", "")
	assert.ErrorIs(t, err, sdkerrors.ErrUnsupportedFormat)
}

func TestCSVSourceRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	body := "\ufeffMember ID,First Name\nM1,Ann\n,\nM2,Bob\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	src, err := Open(path, "")
	require.NoError(t, err)

	records, err := src.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "M1", records[0].Get("Member ID"))
	assert.Equal(t, "Bob", records[1].Get("First Name"))
	assert.Equal(t, 1, records[1].Position)
}

func TestExcelSourceRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Member ID", "Last Name"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"M1", "Smith"}))
	require.NoError(t, f.SetSheetRow(sheet, "A4", &[]any{"M2", "Jones"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	src, err := Open(path, "")
	require.NoError(t, err)

	records, err := src.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Smith", records[0].Get("Last Name"))
	assert.Equal(t, "M2", records[1].Get("Member ID"))
	assert.Equal(t, 1, records[1].Position)
}

func TestMultiSourceRenumbers(t *testing.T) {
	a := SliceSource{{Position: 0, Fields: map[string]string{"k": "a0"}}, {Position: 1, Fields: map[string]string{"k": "a1"}}}
	b := SliceSource{{Position: 0, Fields: map[string]string{"k": "b0"}}}

	records, err := MultiSource{a, b}.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 2, records[2].Position)
	assert.Equal(t, "b0", records[2].Get("k"))
	// the original slice is untouched
	assert.Equal(t, 0, b[0].Position)
}

func TestRecordGetCaseVariantsAreDeterministic(t *testing.T) {
	rec := Record{Fields: map[string]string{
		"member id": "lower",
		"MEMBER ID": "upper",
		"Member Id": "mixed",
	}}

	// "MEMBER ID" sorts first
	for range 50 {
		assert.Equal(t, "upper", rec.Get("Member ID"))
	}
}
