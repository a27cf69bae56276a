package printer_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/pkg/printer"
)

func TestTableRender(t *testing.T) {
	var buf bytes.Buffer
	table := printer.NewTablePrinter(&buf)
	table.SetHeaders("id", "hostname", "status")
	table.AddRow(1, "web-01", "up_to_date")
	table.AddRow(2, "db-01", "security")
	require.NoError(t, table.Render())

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "HOSTNAME")
	assert.Contains(t, out, "web-01")
	assert.Contains(t, out, "security")
}

func TestTableNoHeaders(t *testing.T) {
	var buf bytes.Buffer
	table := printer.NewTablePrinter(&buf, printer.WithNoHeaders())
	table.SetHeaders("id")
	table.AddRow(1)
	require.NoError(t, table.Render())
	assert.NotContains(t, buf.String(), "ID")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", printer.TruncateString("short", 10))
	assert.Equal(t, "long st...", printer.TruncateString("long string here", 10))
	assert.Equal(t, "ab", printer.TruncateString("abcdef", 2))
}
