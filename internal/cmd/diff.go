package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/morse-hpc/hpkg/internal/concretize"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/output"
)

// NewDiffCmd creates the diff command.
func NewDiffCmd(g *GlobalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <specA>... -- <specB>...",
		Short: "Compare the resolution of two specs",
		Long: `Resolve two specs and show how their resolved graphs differ: versions,
variants, compilers, chosen providers and hashes.

Examples:
  hpkg diff maphys -- maphys +pastix
  hpkg diff maphys ^openmpi -- maphys ^mpich`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd, args, g)
		},
	}
}

// splitDiffArgs splits the arguments at "--".
func splitDiffArgs(args []string, dash int) ([]string, []string, error) {
	if dash <= 0 || dash >= len(args) {
		return nil, nil, oerrors.NewValidationError("expected two specs separated by --", strings.Join(args, " "), "",
			"e.g. hpkg diff maphys -- maphys +pastix")
	}
	return args[:dash], args[dash:], nil
}

func runDiff(cmd *cobra.Command, args []string, g *GlobalConfig) error {
	left, right, err := splitDiffArgs(args, cmd.ArgsLenAtDash())
	if err != nil {
		return exitError(err)
	}
	s, err := newSession(g)
	if err != nil {
		return exitError(err)
	}

	var graphs [2]*concretize.BuildGraph
	eg, ctx := errgroup.WithContext(cmd.Context())
	for i, words := range [][]string{left, right} {
		eg.Go(func() error {
			bg, err := s.concretize(ctx, words)
			if err != nil {
				return resolveFailed(strings.Join(words, " "), err)
			}
			graphs[i] = bg
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	from, to := graphs[0].Root, graphs[1].Root
	d, err := output.DiffSpecs(from, to, output.IsTTY())
	if err != nil {
		return exitError(err)
	}

	w := cmd.OutOrStdout()
	if d.Empty() {
		fmt.Fprintln(w, output.FormatCheckmark("no differences: both resolve to "+from.Short()))
		return nil
	}
	fmt.Fprintf(w, "%s %s\n%s %s\n\n",
		output.StyleDim.Render("---"), output.StyleNoun.Render(from.Short()),
		output.StyleDim.Render("+++"), output.StyleNoun.Render(to.Short()))

	tbl := output.NewTable("PACKAGE", "CHANGE")
	for _, group := range []struct {
		change string
		names  []string
	}{{"added", d.Added}, {"removed", d.Removed}, {"changed", d.Changed}} {
		for _, name := range group.names {
			tbl.Row(name, group.change)
		}
	}
	fmt.Fprintln(w, tbl.String())
	if d.Report != "" {
		fmt.Fprintf(w, "\n%s\n", d.Report)
	}
	return nil
}
