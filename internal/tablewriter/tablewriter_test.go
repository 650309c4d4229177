package tablewriter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyTable(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf).Render()
	require.Empty(t, buf.String())
}

func TestHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetHeader("ID", "STATUS", "SUMMARY")
	w.Append("exec_1", "completed", "Sent the report")
	w.Append("exec_22", "failed", "")
	w.Render()

	expected := "ID       STATUS     SUMMARY\n" +
		"exec_1   completed  Sent the report\n" +
		"exec_22  failed\n"
	require.Equal(t, expected, buf.String())
}

func TestWideCharacters(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetHeader("NAME", "ID")
	w.Append("日本語", "a")
	w.Append("x", "b")
	w.Render()

	require.Equal(t, "NAME    ID\n日本語  a\nx       b\n", buf.String())
}

func TestANSIIgnoredInWidths(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetHeader("STATUS", "ID")
	w.Append("\x1b[32mok\x1b[0m", "1")
	w.Render()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "ok      1", stripANSI(lines[1]))
}

func TestHeaderLimitsColumns(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetHeader("A", "B")
	w.Append("1", "2", "3")
	w.Append("4")
	w.Render()

	require.Equal(t, "A  B\n1  2\n4\n", buf.String())
}

func TestHeaderStyleAndTruncation(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.SetHeaderStyle(strings.ToLower)
	w.SetMaxCellWidth(8)
	w.SetHeader("KEY", "VALUE")
	w.Append("k", "abcdefghijkl")
	w.Render()

	require.Equal(t, "key  value\nk    abcde...\n", buf.String())
}

func TestRowsWithoutHeader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Append("alpha", "1")
	w.Append("b", "22")
	w.Render()

	require.Equal(t, "alpha  1\nb      22\n", buf.String())
}
