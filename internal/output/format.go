package output

import "strings"

// OutputFormat names a rendering of command output.
type OutputFormat string

const (
	FormatTree  OutputFormat = "tree"
	FormatYAML  OutputFormat = "yaml"
	FormatJSON  OutputFormat = "json"
	FormatTable OutputFormat = "table"
)

var (
	// SpecFormats are the renderings of a resolved spec, default first.
	SpecFormats = []OutputFormat{FormatTree, FormatYAML, FormatJSON}

	// ListFormats are the renderings of installed spec listings, default
	// first.
	ListFormats = []OutputFormat{FormatTable, FormatJSON, FormatYAML}
)

// ParseFormat returns the format named s when it is one of allowed. The
// match ignores case and accepts "yml" for yaml.
func ParseFormat(s string, allowed []OutputFormat) (OutputFormat, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "yml" {
		s = string(FormatYAML)
	}
	for _, f := range allowed {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// FormatNames joins formats for help and error messages.
func FormatNames(formats []OutputFormat) string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
