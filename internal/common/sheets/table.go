package sheets

import "strings"

// Table names exposed by the script endpoint.
const (
	TableEnquiry = "ENQUIRY"
	TableIndent  = "INDENT"
)

// DefaultHeaderRow is the 1-indexed row holding column names; rows above it are
// sheet metadata.
const DefaultHeaderRow = 6

const timestampColumn = "Timestamp"

// Table is one fetched sheet. Rows holds every row the service returned, cells
// normalized to strings.
type Table struct {
	Name      string
	Rows      [][]string
	HeaderRow int
}

// Row is a data row together with its 1-indexed position in the sheet.
type Row struct {
	Index int
	Cells []string
}

// Get returns the cell at col (0-indexed) or "" when the row is short.
func (r Row) Get(col int) string {
	if col < 0 || col >= len(r.Cells) {
		return ""
	}
	return r.Cells[col]
}

func (t *Table) headerIndex() int {
	if t.HeaderRow < 1 {
		return DefaultHeaderRow - 1
	}
	return t.HeaderRow - 1
}

// Headers returns the trimmed header row, or nil when the table is shorter than
// the header position.
func (t *Table) Headers() []string {
	idx := t.headerIndex()
	if idx >= len(t.Rows) {
		return nil
	}
	headers := make([]string, len(t.Rows[idx]))
	for i, h := range t.Rows[idx] {
		headers[i] = strings.TrimSpace(h)
	}
	return headers
}

// Column resolves a header by exact match after trimming. Returns -1 when absent.
func (t *Table) Column(name string) int {
	return ColumnIndex(t.Headers(), name)
}

// ColumnIndex finds name in an already-trimmed header slice.
func ColumnIndex(headers []string, name string) int {
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	return -1
}

// AllRows returns every row below the header, unfiltered.
func (t *Table) AllRows() []Row {
	start := t.headerIndex() + 1
	if start >= len(t.Rows) {
		return nil
	}
	rows := make([]Row, 0, len(t.Rows)-start)
	for i := start; i < len(t.Rows); i++ {
		rows = append(rows, Row{Index: i + 1, Cells: t.Rows[i]})
	}
	return rows
}

// DataRows returns the rows below the header whose Timestamp cell is non-empty.
// Without a Timestamp header the first column is used.
func (t *Table) DataRows() []Row {
	tsCol := t.Column(timestampColumn)
	if tsCol < 0 {
		tsCol = 0
	}

	var rows []Row
	for _, r := range t.AllRows() {
		if strings.TrimSpace(r.Get(tsCol)) == "" {
			continue
		}
		rows = append(rows, r)
	}
	return rows
}

// Records maps each data row to header name -> cell.
func (t *Table) Records() []map[string]string {
	headers := t.Headers()
	rows := t.DataRows()
	out := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		rec := make(map[string]string, len(headers))
		for i, h := range headers {
			if _, seen := rec[h]; seen || h == "" {
				continue
			}
			rec[h] = r.Get(i)
		}
		out = append(out, rec)
	}
	return out
}
