package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// FileKind selects the tabular reader.
type FileKind string

const (
	KindExcel FileKind = "excel"
	KindCSV   FileKind = "csv"
)

// KindFromPath guesses the reader from the file extension.
func KindFromPath(path string) FileKind {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return KindCSV
	}
	return KindExcel
}

// Table is a sheet read into memory. Header is row 1; Rows start at row 2.
type Table struct {
	Path     string
	FileHash []byte
	Header   []string
	Rows     [][]string
}

// ReadTable loads the first (xlsx: active) sheet of path. Spreadsheet cells
// are read raw so date cells arrive as serial numbers.
func ReadTable(path string, kind FileKind) (*Table, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	sum := sha256.Sum256(raw)

	var rows [][]string
	switch kind {
	case KindCSV:
		rows, err = readCSV(raw)
	default:
		rows, err = readExcel(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	t := &Table{Path: path, FileHash: sum[:]}
	if len(rows) > 0 {
		t.Header = rows[0]
		t.Rows = rows[1:]
	}
	return t, nil
}

func readExcel(raw []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	return f.GetRows(sheet, excelize.Options{RawCellValue: true})
}

// readCSV reads a ';' separated export. Files that are not valid UTF-8 are
// decoded as Windows-1252.
func readCSV(raw []byte) ([][]string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	var r io.Reader = bytes.NewReader(raw)
	if !utf8.Valid(raw) {
		r = charmap.Windows1252.NewDecoder().Reader(r)
	}
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr.ReadAll()
}

// HeaderIndex maps each header cell to its column. With fold set, keys are
// lower-cased; otherwise only trimmed. The first occurrence wins.
func (t *Table) HeaderIndex(fold bool) map[string]int {
	idx := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		key := strings.TrimSpace(h)
		if fold {
			key = strings.ToLower(key)
		}
		if key == "" {
			continue
		}
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// Cell returns the trimmed cell of a row, "" when the row is short.
func Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
