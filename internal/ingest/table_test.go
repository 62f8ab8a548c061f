package ingest

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

// createTestShapefile writes a point shapefile with TIGER-style county
// attributes and returns the .shp path.
func createTestShapefile(t *testing.T, dir string, rows [][]string) string {
	t.Helper()
	path := filepath.Join(dir, "tl_counties.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	w.SetFields([]shp.Field{ //nolint:errcheck
		shp.StringField("STATEFP", 2),
		shp.StringField("COUNTYFP", 3),
		shp.StringField("GEOID", 5),
		shp.StringField("NAME", 40),
	})
	for i, row := range rows {
		w.Write(&shp.Point{X: float64(i), Y: float64(i)})
		for j, v := range row {
			w.WriteAttribute(i, j, v) //nolint:errcheck
		}
	}
	w.Close()

	// go-shp names the attribute file "<base>dbf" without the dot.
	base := strings.TrimSuffix(path, ".shp")
	if _, err := os.Stat(base + "dbf"); err == nil {
		require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	}
	require.FileExists(t, base+".dbf")
	return path
}

func zipDir(t *testing.T, dir, dest string) {
	t.Helper()
	out, err := os.Create(dest)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		src, err := os.Open(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		fw, err := zw.Create("tl_2020_us_county/" + e.Name())
		require.NoError(t, err)
		_, err = io.Copy(fw, src)
		require.NoError(t, err)
		require.NoError(t, src.Close())
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
}

var shapeRows = [][]string{
	{"01", "001", "01001", "Autauga"},
	{"48", "201", "48201", "Harris"},
}

func TestReadTable_CSV(t *testing.T) {
	path := writeFile(t, "refs.csv", "GEOID,NAME\n01001,Autauga\n\"48201\",\"Harris, TX\"\n")
	tbl, err := ReadTable(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"GEOID", "NAME"}, tbl.Header)
	assert.Equal(t, [][]string{{"01001", "Autauga"}, {"48201", "Harris, TX"}}, tbl.Rows)
}

func TestReadTable_CSVLazyQuotes(t *testing.T) {
	path := writeFile(t, "loans.csv", "a,b\nJoe\"s Diner,2\n")
	tbl, err := ReadTable(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, `Joe"s Diner`, tbl.Rows[0][0])
}

func TestReadTable_EmptyCSV(t *testing.T) {
	path := writeFile(t, "empty.csv", "")
	_, err := ReadTable(context.Background(), path)
	assert.Error(t, err)
}

func TestReadTable_XLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"GEOID", "Population"},
		{"1001", "58805"},
		{"", ""},
		{"48201", "4731145"},
	})
	tbl, err := ReadTable(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"GEOID", "Population"}, tbl.Header)
	assert.Equal(t, [][]string{{"1001", "58805"}, {"48201", "4731145"}}, tbl.Rows)
}

func TestReadTable_Shapefile(t *testing.T) {
	path := createTestShapefile(t, t.TempDir(), shapeRows)
	tbl, err := ReadTable(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"STATEFP", "COUNTYFP", "GEOID", "NAME"}, tbl.Header)
	assert.Equal(t, shapeRows, tbl.Rows)
}

func TestReadTable_ZippedShapefile(t *testing.T) {
	dir := t.TempDir()
	createTestShapefile(t, dir, shapeRows)
	archive := filepath.Join(t.TempDir(), "tl_2020_us_county.zip")
	zipDir(t, dir, archive)

	tbl, err := ReadTable(context.Background(), archive)
	require.NoError(t, err)
	assert.Equal(t, shapeRows, tbl.Rows)
}

func TestReadTable_Unsupported(t *testing.T) {
	_, err := ReadTable(context.Background(), "counties.parquet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestStreamCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows, errs := StreamCSV(ctx, strings.NewReader("a\n1\n2\n"))
	for range rows {
	}
	err := <-errs
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
}
