package output

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/gonvenience/ytbx"
	"github.com/homeport/dyff/pkg/dyff"
	"gopkg.in/yaml.v3"

	"github.com/morse-hpc/hpkg/internal/spec"
)

// SpecDiff is the difference between two resolved graphs.
type SpecDiff struct {
	// Added are packages only the second graph contains.
	Added []string
	// Removed are packages only the first graph contains.
	Removed []string
	// Changed are packages of both graphs whose hashes differ.
	Changed []string
	// Report is the field-level dyff report.
	Report string
}

// Empty reports whether both graphs are identical.
func (d *SpecDiff) Empty() bool {
	return len(d.Added)+len(d.Removed)+len(d.Changed) == 0
}

// graphDocument holds a whole graph in one YAML document, so dyff matches
// packages by name instead of by position in a stream.
type graphDocument struct {
	Packages []spec.Document `yaml:"packages"`
}

// DiffSpecs compares two resolved graphs package by package.
func DiffSpecs(from, to *spec.Spec, useColor bool) (*SpecDiff, error) {
	fromDocs, toDocs := from.Documents(), to.Documents()

	d := &SpecDiff{}
	hashes := make(map[string]string, len(fromDocs))
	for _, doc := range fromDocs {
		hashes[doc.Name] = doc.Hash
	}
	for _, doc := range toDocs {
		h, ok := hashes[doc.Name]
		switch {
		case !ok:
			d.Added = append(d.Added, doc.Name)
		case h != doc.Hash:
			d.Changed = append(d.Changed, doc.Name)
		}
		delete(hashes, doc.Name)
	}
	for name := range hashes {
		d.Removed = append(d.Removed, name)
	}
	slices.Sort(d.Added)
	slices.Sort(d.Removed)
	slices.Sort(d.Changed)
	if d.Empty() {
		return d, nil
	}

	fromYAML, err := yaml.Marshal(graphDocument{Packages: fromDocs})
	if err != nil {
		return nil, err
	}
	toYAML, err := yaml.Marshal(graphDocument{Packages: toDocs})
	if err != nil {
		return nil, err
	}
	d.Report, err = diffDocuments(from.Short(), fromYAML, to.Short(), toYAML, useColor)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func diffDocuments(fromName string, from []byte, toName string, to []byte, useColor bool) (string, error) {
	fromInput, err := loadInput(fromName, from)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", fromName, err)
	}
	toInput, err := loadInput(toName, to)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", toName, err)
	}

	report, err := dyff.CompareInputFiles(fromInput, toInput)
	if err != nil {
		return "", fmt.Errorf("comparing %s with %s: %w", fromName, toName, err)
	}
	if len(report.Diffs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	human := &dyff.HumanReport{
		Report:            report,
		DoNotInspectCerts: true,
		NoTableStyle:      !useColor,
		OmitHeader:        true,
	}
	if err := human.WriteReport(&buf); err != nil {
		return "", fmt.Errorf("writing diff report: %w", err)
	}

	var out []string
	for _, line := range strings.Split(buf.String(), "\n") {
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n")), nil
}

func loadInput(name string, data []byte) (ytbx.InputFile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return ytbx.InputFile{Location: name}, nil
	}
	docs, err := ytbx.LoadYAMLDocuments(data)
	if err != nil {
		return ytbx.InputFile{}, err
	}
	return ytbx.InputFile{Location: name, Documents: docs}, nil
}
