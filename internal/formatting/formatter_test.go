package formatting

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Principal string `json:"principal" yaml:"principal"`
	State     string `json:"state" yaml:"state"`
}

var (
	columns = []Column{{Header: "PRINCIPAL"}, {Header: "STATE", Colorize: func(v string) string { return "*" + v + "*" }}}
	rows    = [][]string{{"user:1", "authenticated"}}
	records = []entry{{Principal: "user:1", State: "authenticated"}}
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": FormatTable, "table": FormatTable, "json": FormatJSON, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestTableRecords(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf, Options{Format: FormatTable, Color: true}).Records(columns, rows, records))

	out := buf.String()
	assert.Contains(t, out, "PRINCIPAL")
	assert.Contains(t, out, "user:1")
	assert.Contains(t, out, "*authenticated*")
}

func TestTableRecords_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf, Options{}).Records(columns, nil, nil))
	assert.Equal(t, "No entries found.\n", buf.String())
}

func TestJSONRecords(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf, Options{Format: FormatJSON}).Records(columns, rows, records))
	assert.JSONEq(t, `[{"principal":"user:1","state":"authenticated"}]`, buf.String())
}

func TestYAMLData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf, Options{Format: FormatYAML}).Data(map[string]any{"sub": "42"}))
	assert.Equal(t, "sub: \"42\"\n", buf.String())
}

func TestTableData(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New(&buf, Options{}).Data(map[string]any{"sub": "42", "name": "Test"}))

	out := buf.String()
	assert.Less(t, strings.Index(out, "name"), strings.Index(out, "sub"))
	assert.Contains(t, out, "42")
}

func TestPrettyJSON(t *testing.T) {
	assert.Equal(t, "{\n  \"sub\": \"42\"\n}", PrettyJSON(map[string]string{"sub": "42"}))
	assert.Equal(t, "null", PrettyJSON(nil))

	// Channels cannot be marshalled.
	ch := make(chan int)
	assert.Equal(t, fmt.Sprintf("%v", ch), PrettyJSON(ch))
}
