package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/graph"
	"github.com/morse-hpc/hpkg/internal/output"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/recipes"
)

// NewProvidersCmd creates the providers command.
func NewProvidersCmd(g *GlobalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "providers [virtual]",
		Short: "List the packages that provide each virtual",
		Long: `List the packages that can provide each virtual capability, in the order
they are tried. Preferences from the config file come first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireConfig(); err != nil {
				return exitError(err)
			}
			reg, err := recipes.NewRegistry(g.Settings.RecipePaths...)
			if err != nil {
				return exitError(err)
			}
			return exitError(writeProviders(cmd.OutOrStdout(), reg, g.Settings.Providers, args))
		},
	}
}

func writeProviders(w io.Writer, reg *recipe.Registry, prefs map[string][]string, args []string) error {
	virtuals := reg.Virtuals()
	if len(args) == 1 {
		if !reg.IsVirtual(args[0]) {
			return oerrors.NewNotFoundError(fmt.Sprintf("%q is not a virtual capability", args[0]), "",
				"known virtuals: "+strings.Join(virtuals, ", "))
		}
		virtuals = args
	}

	tbl := output.NewTable("VIRTUAL", "PROVIDERS")
	for _, v := range virtuals {
		tbl.Row(v, strings.Join(graph.ProviderOrder(reg.Providers(v), prefs[v]), ", "))
	}
	fmt.Fprintln(w, tbl.String())
	return nil
}
