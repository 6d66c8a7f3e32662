package services

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"strconv"
	"testing"
)

func collectRows(t *testing.T, src RowSource) []map[string]string {
	t.Helper()
	var rows []map[string]string
	for {
		row, err := src.Next()
		if err == io.EOF {
			return rows
		}
		if err != nil {
			t.Fatalf("unexpected error reading rows: %v", err)
		}
		rows = append(rows, row)
	}
}

func TestOpenRowSourceCSV(t *testing.T) {
	data := []byte("full_name,email,role\nAlice,alice@example.com,admin\nBob,bob@example.com,\n")

	src, err := OpenRowSource("users.csv", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows := collectRows(t, src)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["full_name"] != "Alice" || rows[0]["email"] != "alice@example.com" {
		t.Fatalf("unexpected first row: %v", rows[0])
	}
	if rows[1]["role"] != "" {
		t.Fatalf("expected empty role for second row, got %q", rows[1]["role"])
	}
}

func TestOpenRowSourceCSVStripsBOMAndPadsShortRows(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("name,email\nCarol\n")...)

	src, err := OpenRowSource("users.csv", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows := collectRows(t, src)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["name"] != "Carol" {
		t.Fatalf("BOM not stripped from header, row: %v", rows[0])
	}
	if v, ok := rows[0]["email"]; !ok || v != "" {
		t.Fatalf("expected short row padded with empty email, got %v", rows[0])
	}
}

func TestOpenRowSourceCSVEmptyFile(t *testing.T) {
	src, err := OpenRowSource("empty.csv", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows := collectRows(t, src); len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

func TestOpenRowSourceUnsupportedExtension(t *testing.T) {
	_, err := OpenRowSource("users.txt", []byte("whatever"))
	var unsupported *UnsupportedFileTypeError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedFileTypeError, got %v", err)
	}
	if unsupported.Extension != ".txt" {
		t.Fatalf("unexpected extension: %q", unsupported.Extension)
	}
}

func TestOpenRowSourceXLSX(t *testing.T) {
	data := buildXLSX(t, [][]string{
		{"full_name", "email"},
		{"Dana", "dana@example.com"},
		{"Eve", "eve@example.com"},
	})

	src, err := OpenRowSource("users.xlsx", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows := collectRows(t, src)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["full_name"] != "Dana" || rows[1]["email"] != "eve@example.com" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestOpenRowSourceXLSXGarbage(t *testing.T) {
	if _, err := OpenRowSource("users.xlsx", []byte("not a zip archive")); err == nil {
		t.Fatal("expected error for corrupt workbook")
	}
}

func TestCountDataRows(t *testing.T) {
	data := []byte("email\na@example.com\nb@example.com\nc@example.com\n")

	count, err := CountDataRows("users.csv", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 data rows, got %d", count)
	}

	if _, err := CountDataRows("users.pdf", data); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

// buildXLSX assembles a minimal single-sheet workbook with inline strings.
func buildXLSX(t *testing.T, rows [][]string) []byte {
	t.Helper()

	var sheet bytes.Buffer
	sheet.WriteString(`<?xml version="1.0" encoding="UTF-8"?><worksheet><sheetData>`)
	for ri, row := range rows {
		sheet.WriteString("<row>")
		for ci, value := range row {
			ref := cellRef(ci, ri+1)
			sheet.WriteString(`<c r="` + ref + `" t="inlineStr"><is><t>` + value + `</t></is></c>`)
		}
		sheet.WriteString("</row>")
	}
	sheet.WriteString(`</sheetData></worksheet>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("xl/worksheets/sheet1.xml")
	if err != nil {
		t.Fatalf("failed to create sheet entry: %v", err)
	}
	if _, err := w.Write(sheet.Bytes()); err != nil {
		t.Fatalf("failed to write sheet: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close workbook: %v", err)
	}
	return buf.Bytes()
}

func cellRef(col, row int) string {
	name := ""
	col++
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return name + strconv.Itoa(row)
}
