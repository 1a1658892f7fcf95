package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morse-hpc/hpkg/internal/concretize"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/output"
)

// NewSpecCmd creates the spec command.
func NewSpecCmd(g *GlobalConfig) *cobra.Command {
	var format string

	c := &cobra.Command{
		Use:   "spec <spec>...",
		Short: "Resolve a spec and print the result",
		Long: `Resolve a spec into its fully configured dependency graph without
building anything.

Output formats:
  tree   dependency tree with versions, compilers, variants and hashes
  yaml   one document per spec, dependencies first
  json   array of the same documents

Examples:
  hpkg spec maphys
  hpkg spec maphys +pastix ^mpich -o yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpec(cmd, args, g, format)
		},
	}

	c.Flags().StringVarP(&format, "output", "o", string(output.FormatTree), "output format: "+output.FormatNames(output.SpecFormats))
	c.Flags().StringVar(&g.flags.Compiler, "compiler", "", "default compiler, e.g. gcc@12.2.0 (env: HPKG_COMPILER)")

	return c
}

func runSpec(cmd *cobra.Command, args []string, g *GlobalConfig, format string) error {
	f, ok := output.ParseFormat(format, output.SpecFormats)
	if !ok {
		return exitError(unknownFormat(format, output.SpecFormats))
	}
	s, err := newSession(g)
	if err != nil {
		return exitError(err)
	}

	request := strings.Join(args, " ")
	var bg *concretize.BuildGraph
	err = output.RunWithSpinner(cmd.Context(), "Resolving "+request, func(ctx context.Context) error {
		var err error
		bg, err = s.concretize(ctx, args)
		return err
	})
	if err != nil {
		return resolveFailed(request, err)
	}
	return output.WriteSpec(cmd.OutOrStdout(), bg.Root, f)
}

func unknownFormat(format string, allowed []output.OutputFormat) error {
	return oerrors.NewValidationError(fmt.Sprintf("unknown output format %q", format), "", "output",
		"use one of "+output.FormatNames(allowed))
}
