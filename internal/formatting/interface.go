// Package formatting renders command output as a table, JSON or YAML.
package formatting

import (
	"fmt"
	"io"
)

// OutputFormat represents the desired output format
type OutputFormat string

const (
	FormatTable OutputFormat = "table" // Rich table output
	FormatJSON  OutputFormat = "json"  // JSON output
	FormatYAML  OutputFormat = "yaml"  // YAML output
)

// ParseFormat accepts "", "table", "json" and "yaml".
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use table, json or yaml)", s)
	}
}

// Options configures the formatter behavior
type Options struct {
	Format OutputFormat
	Color  bool // Enable colored output
}

// Column describes one table column. Colorize, when set, picks the colour
// of a cell from its value.
type Column struct {
	Header   string
	Colorize func(value string) string
}

// Formatter writes structured records to an output stream.
type Formatter interface {
	// Records prints rows, one per record. Table output uses columns; JSON
	// and YAML print records as given.
	Records(columns []Column, rows [][]string, records any) error

	// Data prints a single value.
	Data(v any) error
}

// New creates the formatter for options.Format.
func New(w io.Writer, options Options) Formatter {
	switch options.Format {
	case FormatJSON:
		return &jsonFormatter{w: w}
	case FormatYAML:
		return &yamlFormatter{w: w}
	default:
		return &tableFormatter{w: w, options: options}
	}
}
