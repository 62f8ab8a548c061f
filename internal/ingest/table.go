// Package ingest maps upstream files (PPP loan CSVs, county reference sets,
// demographic tables) onto the canonical entity model. Column names are
// resolved through alias schemas here so the scoring engine only ever sees
// model types.
package ingest

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Table is a small fully-read tabular source.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable reads a CSV, XLSX, shapefile (.shp, or a .zip holding one)
// by file extension. The first row (or the shapefile field list) is the header.
func ReadTable(ctx context.Context, path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return readCSVTable(ctx, f)
	case ".xlsx":
		return readXLSXTable(path)
	case ".shp":
		return readShapefileTable(path)
	case ".zip":
		return readZippedShapefile(path)
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}
}

func newCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return reader
}

func readCSVTable(ctx context.Context, r io.Reader) (*Table, error) {
	t := &Table{}
	rows, errs := StreamCSV(ctx, r)
	first := true
	for row := range rows {
		if first {
			t.Header = row
			first = false
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	if t.Header == nil {
		return nil, eris.New("ingest: empty csv")
	}
	return t, nil
}

// StreamCSV sends every record of r, header included, on the row channel.
// Both channels are closed when reading completes; at most one error is sent.
func StreamCSV(ctx context.Context, r io.Reader) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := newCSVReader(r)
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "ingest: csv cancelled")
				return
			}
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "ingest: read csv row")
				return
			}
			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "ingest: csv cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// readXLSXTable reads the first sheet.
func readXLSXTable(path string) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("ingest: xlsx %s has no sheets", path)
	}
	sheet := f.Sheets[0]

	t := &Table{}
	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if i == 0 {
			t.Header = cells
			continue
		}
		if blank(cells) {
			continue
		}
		t.Rows = append(t.Rows, cells)
	}
	if t.Header == nil {
		return nil, eris.Errorf("ingest: xlsx %s is empty", path)
	}
	return t, nil
}

// readShapefileTable reads the attribute table of a shapefile. Geometry is
// not needed for scoring and is skipped.
func readShapefileTable(path string) (*Table, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	t := &Table{Header: make([]string, len(fields))}
	for i, f := range fields {
		t.Header[i] = strings.TrimRight(f.String(), "\x00")
	}
	for reader.Next() {
		row := make([]string, len(fields))
		for i := range fields {
			row[i] = strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// readZippedShapefile extracts a TIGER-style archive to a temp dir and reads
// the first .shp inside.
func readZippedShapefile(path string) (*Table, error) {
	dir, err := os.MkdirTemp("", "county-risk-shp-*")
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create extract dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	if err := extractZIP(path, dir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read extract dir")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".shp") {
			return readShapefileTable(filepath.Join(dir, e.Name()))
		}
	}
	return nil, eris.Errorf("ingest: no .shp file in %s", path)
}

func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrapf(err, "ingest: open zip %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractEntry(f, filepath.Join(destDir, filepath.Base(f.Name))); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "ingest: open zip entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "ingest: create %s", dest)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "ingest: extract %s", f.Name)
	}
	return eris.Wrapf(out.Close(), "ingest: close %s", dest)
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
