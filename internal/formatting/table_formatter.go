package formatting

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type tableFormatter struct {
	w       io.Writer
	options Options
}

func (f *tableFormatter) Records(columns []Column, rows [][]string, _ any) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(f.w, "No entries found.")
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(f.w)
	t.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	for i, c := range columns {
		header[i] = text.Bold.Sprint(c.Header)
	}
	t.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(row))
		for i, cell := range row {
			if f.options.Color && i < len(columns) && columns[i].Colorize != nil {
				r[i] = columns[i].Colorize(cell)
			} else {
				r[i] = cell
			}
		}
		t.AppendRow(r)
	}

	t.Render()
	return nil
}

// Data prints a map as a two-column key/value table and anything else as JSON.
func (f *tableFormatter) Data(v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		_, err := fmt.Fprintln(f.w, PrettyJSON(v))
		return err
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := table.NewWriter()
	t.SetOutputMirror(f.w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{text.Bold.Sprint("CLAIM"), text.Bold.Sprint("VALUE")})
	for _, k := range keys {
		value := m[k]
		if s, ok := value.(string); ok {
			t.AppendRow(table.Row{k, s})
		} else {
			t.AppendRow(table.Row{k, PrettyJSON(value)})
		}
	}
	t.Render()
	return nil
}
