package services

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

// UnsupportedFileTypeError marks a file whose extension has no parser. It is
// pipeline fatal: the import fails before any row is read.
type UnsupportedFileTypeError struct {
	Extension string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported file type %q (expected .csv, .xlsx or .xls)", e.Extension)
}

// RowSource yields row mappings (header key -> cell value) from a tabular
// file, in file order. Next returns io.EOF after the last row. A source is
// consumed once and cannot be rewound; open a fresh one to re-read.
type RowSource interface {
	Next() (map[string]string, error)
}

// OpenRowSource dispatches on the file extension and returns a lazy row
// source over the raw bytes. The first row is always treated as the header.
func OpenRowSource(filename string, data []byte) (RowSource, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return newCSVRowSource(data)
	case ".xlsx", ".xls":
		return newSheetRowSource(data)
	default:
		return nil, &UnsupportedFileTypeError{Extension: filepath.Ext(filename)}
	}
}

// CountDataRows reports the number of data rows (excluding the header) a
// file will yield. Used to fix total_rows once before processing starts.
func CountDataRows(filename string, data []byte) (int, error) {
	src, err := OpenRowSource(filename, data)
	if err != nil {
		return 0, err
	}
	count := 0
	for {
		if _, err := src.Next(); err != nil {
			if err == io.EOF {
				return count, nil
			}
			return 0, err
		}
		count++
	}
}

type csvRowSource struct {
	reader *csv.Reader
	header []string
}

func newCSVRowSource(data []byte) (*csvRowSource, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return &csvRowSource{reader: reader}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return &csvRowSource{reader: reader, header: header}, nil
}

func (s *csvRowSource) Next() (map[string]string, error) {
	if s.header == nil {
		return nil, io.EOF
	}
	record, err := s.reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read csv row: %w", err)
	}
	row := make(map[string]string, len(s.header))
	for i, key := range s.header {
		if key == "" {
			continue
		}
		if i < len(record) {
			row[key] = record[i]
		} else {
			row[key] = ""
		}
	}
	return row, nil
}

type sheetRowSource struct {
	header []string
	rows   [][]string
	idx    int
}

func newSheetRowSource(data []byte) (*sheetRowSource, error) {
	rows, err := readSheetRows(data)
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet: %w", err)
	}
	if len(rows) == 0 {
		return &sheetRowSource{}, nil
	}
	header := rows[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return &sheetRowSource{header: header, rows: rows[1:]}, nil
}

func (s *sheetRowSource) Next() (map[string]string, error) {
	if s.idx >= len(s.rows) {
		return nil, io.EOF
	}
	record := s.rows[s.idx]
	s.idx++
	row := make(map[string]string, len(s.header))
	for i, key := range s.header {
		if key == "" {
			continue
		}
		if i < len(record) {
			row[key] = record[i]
		} else {
			row[key] = ""
		}
	}
	return row, nil
}

// readSheetRows extracts all rows from the first worksheet of an XLSX
// workbook without third-party dependencies.
func readSheetRows(data []byte) ([][]string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	var sheetXML, sharedXML io.ReadCloser
	for _, f := range r.File {
		switch f.Name {
		case "xl/worksheets/sheet1.xml":
			sheetXML, _ = f.Open()
		case "xl/sharedStrings.xml":
			sharedXML, _ = f.Open()
		}
	}

	if sheetXML == nil {
		return nil, fmt.Errorf("worksheet not found")
	}
	defer sheetXML.Close()
	defer func() {
		if sharedXML != nil {
			sharedXML.Close()
		}
	}()

	sharedStrings, _ := parseSharedStrings(sharedXML)
	return parseSheet(sheetXML, sharedStrings)
}

func parseSharedStrings(r io.Reader) ([]string, error) {
	if r == nil {
		return nil, nil
	}
	type t struct {
		XMLName xml.Name `xml:"sst"`
		Items   []struct {
			T string `xml:"t"`
		} `xml:"si"`
	}
	var data t
	if err := xml.NewDecoder(r).Decode(&data); err != nil {
		return nil, err
	}
	strs := make([]string, 0, len(data.Items))
	for _, item := range data.Items {
		strs = append(strs, item.T)
	}
	return strs, nil
}

func parseSheet(r io.Reader, shared []string) ([][]string, error) {
	decoder := xml.NewDecoder(r)
	rows := [][]string{}
	var currentRow []string
	var lastCol int

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "row" {
				currentRow = []string{}
				lastCol = 0
			}
			if se.Name.Local == "c" {
				var cell struct {
					R  string `xml:"r,attr"`
					T  string `xml:"t,attr"`
					V  string `xml:"v"`
					IS struct {
						T string `xml:"t"`
					} `xml:"is"`
				}
				if err := decoder.DecodeElement(&cell, &se); err != nil {
					return nil, err
				}

				colIdx := columnIndex(cell.R)
				for len(currentRow) < colIdx-1 {
					currentRow = append(currentRow, "")
				}

				value := cell.V
				if cell.T == "s" { // shared string
					if idx, err := strconv.Atoi(strings.TrimSpace(cell.V)); err == nil && idx < len(shared) {
						value = shared[idx]
					}
				} else if cell.T == "inlineStr" {
					value = cell.IS.T
				}

				if len(currentRow) < colIdx {
					currentRow = append(currentRow, value)
				} else {
					currentRow[colIdx-1] = value
				}
				lastCol = colIdx
			}
		case xml.EndElement:
			if se.Name.Local == "row" {
				for len(currentRow) < lastCol {
					currentRow = append(currentRow, "")
				}
				rows = append(rows, currentRow)
			}
		}
	}

	return rows, nil
}

func columnIndex(cellRef string) int {
	colPart := strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' {
			return r
		}
		return -1
	}, cellRef)

	col := 0
	for i := 0; i < len(colPart); i++ {
		col = col*26 + int(strings.ToUpper(string(colPart[i]))[0]-'A') + 1
	}
	return col
}
