package formatting

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type jsonFormatter struct {
	w io.Writer
}

func (f *jsonFormatter) Records(_ []Column, _ [][]string, records any) error {
	return f.Data(records)
}

func (f *jsonFormatter) Data(v any) error {
	_, err := fmt.Fprintln(f.w, PrettyJSON(v))
	return err
}

type yamlFormatter struct {
	w io.Writer
}

func (f *yamlFormatter) Records(_ []Column, _ [][]string, records any) error {
	return f.Data(records)
}

func (f *yamlFormatter) Data(v any) error {
	enc := yaml.NewEncoder(f.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return enc.Close()
}

// PrettyJSON renders v as two-space indented JSON, or with %v if v cannot
// be marshalled.
func PrettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
