package ingest

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet is one table of a tabular source; the first row is the header.
type Sheet struct {
	Name string
	Rows [][]string
}

// ReadWorkbook loads every worksheet of an xlsx workbook. Cells are read raw
// so date cells arrive as serial numbers instead of locale-formatted text.
func ReadWorkbook(r io.Reader) ([]Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	names := f.GetSheetList()
	sheets := make([]Sheet, 0, len(names))
	for _, name := range names {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			continue
		}
		sheets = append(sheets, Sheet{Name: name, Rows: rows})
	}
	return sheets, nil
}

// ReadSource picks a reader from the file extension. Unknown extensions are
// sniffed: zip magic means xlsx, a leading bracket means JSON, anything
// else is parsed as CSV.
func ReadSource(filename string, r io.Reader) ([]Sheet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return ReadWorkbook(bytes.NewReader(data))
	case ".csv", ".txt", ".tsv":
		sheet, err := ReadCSV(base, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return []Sheet{sheet}, nil
	case ".json":
		sheet, err := ReadJSONRecords(base, data)
		if err != nil {
			return nil, err
		}
		return []Sheet{sheet}, nil
	}
	trimmed := bytesTrim(data)
	switch {
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return ReadWorkbook(bytes.NewReader(data))
	case len(trimmed) > 0 && trimmed[0] == '[':
		sheet, err := ReadJSONRecords(base, trimmed)
		if err != nil {
			return nil, err
		}
		return []Sheet{sheet}, nil
	}
	sheet, err := ReadCSV(base, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return []Sheet{sheet}, nil
}
