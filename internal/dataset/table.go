// Package dataset loads raw tabular source exports (CSV or XLSX) into memory.
package dataset

import (
	"strings"
)

// Table is a raw dataset: a header row plus data rows. Rows may be ragged.
type Table struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// NewTable builds a table from a header and its data rows.
func NewTable(header []string, rows [][]string) *Table {
	t := &Table{Header: header, Rows: rows}
	t.index = make(map[string]int, len(header))
	for i, h := range header {
		key := headerKey(h)
		if _, ok := t.index[key]; !ok {
			t.index[key] = i
		}
	}
	return t
}

// Find returns the index of the first header matching any alias, in alias
// order. Matching ignores case and surrounding whitespace.
func (t *Table) Find(aliases ...string) (int, bool) {
	for _, a := range aliases {
		if i, ok := t.index[headerKey(a)]; ok {
			return i, true
		}
	}
	return -1, false
}

// Value returns the trimmed cell at col, or "" when the row is short or col < 0.
func (t *Table) Value(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

func headerKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// fromRecords splits raw records into a header and rows. With markers set,
// the header is the first record containing every marker; otherwise it is
// the first record.
func fromRecords(records [][]string, markers []string) *Table {
	if len(records) == 0 {
		return NewTable(nil, nil)
	}
	hdr := 0
	if len(markers) > 0 {
		if i := findHeaderRow(records, markers); i >= 0 {
			hdr = i
		}
	}
	rows := make([][]string, 0, len(records)-hdr-1)
	for _, r := range records[hdr+1:] {
		if blankRow(r) {
			continue
		}
		rows = append(rows, r)
	}
	return NewTable(records[hdr], rows)
}

func findHeaderRow(records [][]string, markers []string) int {
	for i, r := range records {
		seen := make(map[string]bool, len(r))
		for _, c := range r {
			seen[headerKey(c)] = true
		}
		all := true
		for _, m := range markers {
			if !seen[headerKey(m)] {
				all = false
				break
			}
		}
		if all {
			return i
		}
	}
	return -1
}

func blankRow(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
