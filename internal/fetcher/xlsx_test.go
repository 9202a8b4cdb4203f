package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Dataset1": {
			{"# Pages and screens"},
			{""},
			{"Page path", "Total users"},
			{"/locations/shelter-a", "12"},
			{"/food", " 4 "},
		},
	})

	tbl, err := ReadXLSX(path, XLSXOptions{Comment: "#"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Page path", "Total users"}, tbl.Header)
	assert.Equal(t, [][]string{{"/locations/shelter-a", "12"}, {"/food", "4"}}, tbl.Rows)
}

func TestReadXLSX_SheetName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Summary":  {{"note"}},
		"Dataset1": {{"Page path"}, {"/a"}},
	})

	tbl, err := ReadXLSX(path, XLSXOptions{SheetName: "Dataset1"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"/a"}}, tbl.Rows)

	_, err = ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)
}

func TestReadXLSX_Errors(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{""}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	_, err = ReadXLSX(path, XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")

	_, err = ReadXLSX(filepath.Join(t.TempDir(), "missing.xlsx"), XLSXOptions{})
	require.Error(t, err)
}
