// Package tablewriter prints rows as aligned columns for terminal output.
package tablewriter

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

const gap = "  "

// Writer buffers rows and writes them as columns separated by two spaces.
// Widths are measured in terminal cells, ignoring ANSI color codes, so
// colored and wide characters line up.
type Writer struct {
	out      io.Writer
	headers  []string
	rows     [][]string
	widths   []int
	maxWidth int
	header   func(string) string
}

func stripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

func displayWidth(s string) int {
	return runewidth.StringWidth(stripANSI(s))
}

// NewWriter creates a table writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

// SetHeader sets the column titles. The header fixes the column count: extra
// cells in rows are dropped and missing cells are blank.
func (t *Writer) SetHeader(headers ...string) {
	t.headers = headers
	t.updateWidths(headers)
}

// SetHeaderStyle sets a function applied to each header line, typically a
// color.
func (t *Writer) SetHeaderStyle(style func(string) string) {
	t.header = style
}

// SetMaxCellWidth truncates cells wider than n cells. Zero disables
// truncation.
func (t *Writer) SetMaxCellWidth(n int) {
	t.maxWidth = n
}

// Append adds a row.
func (t *Writer) Append(cells ...string) {
	if t.maxWidth > 0 {
		for i, cell := range cells {
			if displayWidth(cell) > t.maxWidth && cell == stripANSI(cell) {
				cells[i] = runewidth.Truncate(cell, t.maxWidth, "...")
			}
		}
	}
	t.rows = append(t.rows, cells)
	t.updateWidths(cells)
}

func (t *Writer) updateWidths(row []string) {
	limit := len(row)
	if len(t.headers) > 0 && limit > len(t.headers) {
		limit = len(t.headers)
	}
	for i := 0; i < limit; i++ {
		if i >= len(t.widths) {
			t.widths = append(t.widths, 0)
		}
		t.widths[i] = max(t.widths[i], displayWidth(row[i]))
	}
}

// Render writes the header and all rows. An empty table writes nothing.
func (t *Writer) Render() {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return
	}
	if len(t.headers) > 0 {
		line := t.line(t.headers)
		if t.header != nil {
			line = t.header(line)
		}
		fmt.Fprintln(t.out, line)
	}
	for _, row := range t.rows {
		fmt.Fprintln(t.out, t.line(row))
	}
}

// line pads every cell but the last, so lines carry no trailing spaces.
func (t *Writer) line(row []string) string {
	var b strings.Builder
	last := len(t.widths) - 1
	for last > 0 && (last >= len(row) || row[last] == "") {
		last--
	}
	for i := 0; i <= last; i++ {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		if i > 0 {
			b.WriteString(gap)
		}
		b.WriteString(cell)
		if i < last {
			b.WriteString(strings.Repeat(" ", t.widths[i]-displayWidth(cell)))
		}
	}
	return b.String()
}
