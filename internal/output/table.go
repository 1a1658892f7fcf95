package output

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorBlue).PaddingRight(1)
	tableCellStyle   = lipgloss.NewStyle().PaddingRight(1)
	tableBorderStyle = lipgloss.NewStyle().Foreground(ColorDimGray)
)

// emptyCell stands in for missing values so columns stay readable.
const emptyCell = "-"

// Table is a column-aligned listing with a rule under the header and no
// outer frame. Cells of the status column, if any, are colored with
// StatusStyle.
type Table struct {
	headers   []string
	rows      [][]string
	statusCol int
}

// NewTable creates a table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers, statusCol: -1}
}

// Row appends a row. Empty cells render as "-".
func (t *Table) Row(cells ...string) *Table {
	row := make([]string, len(cells))
	for i, c := range cells {
		if c == "" {
			c = emptyCell
		}
		row[i] = c
	}
	t.rows = append(t.rows, row)
	return t
}

// StatusColumn marks column col as holding build statuses.
func (t *Table) StatusColumn(col int) *Table {
	t.statusCol = col
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// String renders the table.
func (t *Table) String() string {
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(true).
		Headers(t.headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case col == t.statusCol && row >= 0 && row < len(t.rows) && col < len(t.rows[row]):
				return StatusStyle(t.rows[row][col]).PaddingRight(1)
			default:
				return tableCellStyle
			}
		})

	for _, row := range t.rows {
		tbl.Row(row...)
	}
	return tbl.String()
}
