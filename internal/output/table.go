package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// Table outputs tabular data in text format. Column widths are measured in
// terminal cells, so wide runes in session names stay aligned.
type Table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
	widths  []int
	maxCell int
}

// NewTable creates a new table with headers
func NewTable(w io.Writer, headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	return &Table{
		writer:  w,
		headers: headers,
		rows:    [][]string{},
		widths:  widths,
	}
}

// MaxCellWidth truncates cells wider than n cells. Zero disables truncation.
func (t *Table) MaxCellWidth(n int) *Table {
	t.maxCell = n
	return t
}

// AddRow adds a row to the table
func (t *Table) AddRow(cols ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i >= len(cols) {
			break
		}
		c := cols[i]
		if t.maxCell > 0 {
			c = runewidth.Truncate(c, t.maxCell, "…")
		}
		row[i] = c
		if w := runewidth.StringWidth(c); w > t.widths[i] {
			t.widths[i] = w
		}
	}
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render outputs the table
func (t *Table) Render() error {
	if err := t.renderRow(t.headers); err != nil {
		return err
	}

	seps := make([]string, len(t.widths))
	for i, w := range t.widths {
		seps[i] = strings.Repeat("-", w)
	}
	if err := t.renderRow(seps); err != nil {
		return err
	}

	for _, row := range t.rows {
		if err := t.renderRow(row); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) renderRow(cols []string) error {
	var b strings.Builder
	b.WriteString("  ")
	for i, c := range cols {
		if i > 0 {
			b.WriteString("  ")
		}
		if i == len(cols)-1 {
			b.WriteString(c)
			continue
		}
		b.WriteString(runewidth.FillRight(c, t.widths[i]))
	}
	_, err := fmt.Fprintln(t.writer, strings.TrimRight(b.String(), " "))
	return err
}

// Pluralize returns singular or plural form based on count
func Pluralize(count int, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}

// CountStr returns "N item(s)" string
func CountStr(count int, singular, plural string) string {
	return fmt.Sprintf("%d %s", count, Pluralize(count, singular, plural))
}
