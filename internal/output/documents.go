package output

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/morse-hpc/hpkg/internal/spec"
)

// MarshalDocuments renders spec documents as a YAML stream.
func MarshalDocuments(docs []spec.Document) ([]byte, error) {
	var out []byte
	for i, d := range docs {
		data, err := yaml.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s: %w", d.Name, err)
		}
		if i > 0 {
			out = append(out, "---\n"...)
		}
		out = append(out, data...)
	}
	return out, nil
}

// WriteSpec prints a concretized spec in the requested format.
func WriteSpec(w io.Writer, root *spec.Spec, format OutputFormat) error {
	switch format {
	case FormatYAML:
		data, err := MarshalDocuments(root.Documents())
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(root.Documents())
	default:
		_, err := io.WriteString(w, RenderSpecTree(root))
		return err
	}
}

// WriteData prints any value as YAML or JSON.
func WriteData(w io.Writer, v any, format OutputFormat) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
