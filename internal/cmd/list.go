package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/morse-hpc/hpkg/internal/output"
	"github.com/morse-hpc/hpkg/internal/spec"
	"github.com/morse-hpc/hpkg/internal/store"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// installedSpec is one row of `hpkg list`.
type installedSpec struct {
	Name      string            `json:"name" yaml:"name"`
	Version   string            `json:"version" yaml:"version"`
	Hash      string            `json:"hash" yaml:"hash"`
	Compiler  string            `json:"compiler,omitempty" yaml:"compiler,omitempty"`
	Variants  map[string]string `json:"variants,omitempty" yaml:"variants,omitempty"`
	Strategy  string            `json:"strategy" yaml:"strategy"`
	Prefix    string            `json:"prefix" yaml:"prefix"`
	RunID     string            `json:"runId,omitempty" yaml:"runId,omitempty"`
	Installed *time.Time        `json:"installed,omitempty" yaml:"installed,omitempty"`
}

// NewListCmd creates the list command.
func NewListCmd(g *GlobalConfig) *cobra.Command {
	var format string

	c := &cobra.Command{
		Use:   "list",
		Short: "List installed specs",
		Long: `List the specs installed under the install root. The install tree is the
source of truth; the install database adds when and by which run each spec
was installed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, ok := output.ParseFormat(format, output.ListFormats)
			if !ok {
				return exitError(unknownFormat(format, output.ListFormats))
			}
			s, err := newSession(g)
			if err != nil {
				return exitError(err)
			}
			items, err := s.installed(cmd.Context())
			if err != nil {
				return exitError(err)
			}
			return exitError(writeInstalled(cmd.OutOrStdout(), items, f))
		},
	}

	c.Flags().StringVarP(&format, "output", "o", string(output.FormatTable), "output format: "+output.FormatNames(output.ListFormats))
	return c
}

// installed joins the install tree with the database records.
func (s *session) installed(ctx context.Context) ([]installedSpec, error) {
	entries, err := s.store.List()
	if err != nil {
		return nil, err
	}

	records := map[string]store.Record{}
	if db, err := s.openDB(); err != nil {
		output.Warn("install database unavailable", "err", err)
	} else {
		defer db.Close()
		recs, err := db.List(ctx)
		if err != nil {
			output.Warn("reading install database", "err", err)
		}
		for _, r := range recs {
			records[r.Hash] = r
		}
	}

	out := make([]installedSpec, 0, len(entries))
	for _, e := range entries {
		d := e.Document
		item := installedSpec{
			Name:     d.Name,
			Version:  d.Version,
			Hash:     d.Hash,
			Compiler: d.Compiler,
			Variants: d.Variants,
			Strategy: d.Strategy,
			Prefix:   e.Prefix,
		}
		if r, ok := records[d.Hash]; ok {
			item.RunID = r.RunID
			if !r.Installed.IsZero() {
				t := r.Installed
				item.Installed = &t
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func writeInstalled(w io.Writer, items []installedSpec, format output.OutputFormat) error {
	if format != output.FormatTable {
		if items == nil {
			items = []installedSpec{}
		}
		return output.WriteData(w, items, format)
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "no specs installed")
		return nil
	}

	tbl := output.NewTable("HASH", "SPEC", "COMPILER", "VARIANTS", "INSTALLED")
	for _, it := range items {
		installed := "-"
		if it.Installed != nil {
			installed = it.Installed.Local().Format("2006-01-02 15:04")
		}
		hash := it.Hash
		if len(hash) > spec.ShortHashLength {
			hash = hash[:spec.ShortHashLength]
		}
		tbl.Row(hash, it.Name+"@"+it.Version, it.Compiler, formatVariants(it.Variants), installed)
	}
	fmt.Fprintln(w, tbl.String())
	return nil
}

// formatVariants renders a variant map in spec syntax.
func formatVariants(vs map[string]string) string {
	var as []variant.Assignment
	for n, v := range vs {
		as = append(as, variant.Assignment{Name: n, Value: v})
	}
	return variant.NewSet(as...).String()
}
