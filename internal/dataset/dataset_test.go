package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Report")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadCSV_StripsBOM(t *testing.T) {
	in := "\xef\xbb\xbfName,COC\nDoe, 123\n"
	tbl, err := ReadCSV(strings.NewReader(in), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "COC"}, tbl.Header)
	i, ok := tbl.Find("name")
	require.True(t, ok)
	assert.Equal(t, 0, i)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, "123", tbl.Value(tbl.Rows[0], 1))
}

func TestReadCSV_HeaderMarkers(t *testing.T) {
	in := "Drug Test Summary Report\n,\nRun Date,01/02/2025\nDonor Name,COC,Test Type\n\"Doe, Jane\",C1,eCup\n,,\n"
	tbl, err := ReadCSV(strings.NewReader(in), Options{HeaderMarkers: []string{"Donor Name", "COC"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"Donor Name", "COC", "Test Type"}, tbl.Header)
	require.Equal(t, 1, tbl.Len(), "blank trailing rows are dropped")
	assert.Equal(t, "Doe, Jane", tbl.Rows[0][0])
}

func TestReadCSV_MarkersNotFoundFallsBackToFirstRow(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("A,B\n1,2\n"), Options{HeaderMarkers: []string{"COC"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, tbl.Header)
}

func TestFind_AliasOrderAndWhitespace(t *testing.T) {
	tbl := NewTable([]string{" Company ", "Company Name"}, nil)

	i, ok := tbl.Find("Company Name", "Company")
	require.True(t, ok)
	assert.Equal(t, 1, i)

	i, ok = tbl.Find("COMPANY")
	require.True(t, ok)
	assert.Equal(t, 0, i)

	_, ok = tbl.Find("Employer")
	assert.False(t, ok)
}

func TestValue_RaggedRow(t *testing.T) {
	tbl := NewTable([]string{"a", "b", "c"}, [][]string{{" x "}})
	assert.Equal(t, "x", tbl.Value(tbl.Rows[0], 0))
	assert.Equal(t, "", tbl.Value(tbl.Rows[0], 2))
	assert.Equal(t, "", tbl.Value(tbl.Rows[0], -1))
}

func TestLoad_XLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"eScreen Report"},
		{"Donor Name", "COC"},
		{"Doe, John", "C9"},
	})

	tbl, err := Load(path, Options{HeaderMarkers: []string{"COC", "Donor Name"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Donor Name", "COC"}, tbl.Header)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, "C9", tbl.Rows[0][1])
}

func TestLoad_CSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crl.csv")
	require.NoError(t, os.WriteFile(path, []byte("Status,Name\nComplete,\"Roe, Rick\"\n"), 0o644))

	tbl, err := Load(path, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, "Roe, Rick", tbl.Rows[0][1])
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	_, err := Load("report.pdf", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestReadXLSX_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, [][]string{{"a"}})
	_, err := ReadXLSX(path, Options{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
