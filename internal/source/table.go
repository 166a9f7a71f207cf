// Package source reads bulletin CSV files: whole-table parsing for the index
// builder and single-row projection for rendering full article text.
package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a parsed CSV file with header-based column lookup.
type Table struct {
	Path    string
	columns map[string]int
	rows    [][]string
}

// ReadTable parses the whole file. A read failure wraps ErrSourceUnreadable
// and a CSV syntax error wraps ErrSourceMalformed.
func ReadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrSourceUnreadable, path, err)
	}
	return ParseTable(path, data)
}

// ParseTable parses CSV bytes already in memory. Rows may have fewer or more
// fields than the header; short rows read as empty strings.
func ParseTable(path string, data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &Table{Path: path, columns: map[string]int{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading header: %v", apperrors.ErrSourceMalformed, path, err)
	}

	t := &Table{Path: path, columns: make(map[string]int, len(header))}
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := t.columns[name]; !dup {
			t.columns[name] = i
		}
	}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrSourceMalformed, path, err)
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

// Len returns the number of data rows (header excluded).
func (t *Table) Len() int {
	return len(t.rows)
}

// HasColumn reports whether the header declares name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// Field returns the value of column name in data row i (0-based). Unknown
// columns, out-of-range rows and short rows all yield "".
func (t *Table) Field(i int, name string) string {
	if i < 0 || i >= len(t.rows) {
		return ""
	}
	col, ok := t.columns[name]
	if !ok {
		return ""
	}
	rec := t.rows[i]
	if col >= len(rec) {
		return ""
	}
	return rec[col]
}
