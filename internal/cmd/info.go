package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/morse-hpc/hpkg/internal/constraint"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/output"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/recipes"
)

// NewInfoCmd creates the info command.
func NewInfoCmd(g *GlobalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "info <package>",
		Short: "Show what a recipe declares",
		Long: `Show a recipe's versions, variants, dependencies, provided virtuals,
exported capabilities and configuration rules. For a virtual name, list the
packages that provide it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireConfig(); err != nil {
				return exitError(err)
			}
			reg, err := recipes.NewRegistry(g.Settings.RecipePaths...)
			if err != nil {
				return exitError(err)
			}
			return exitError(writeInfo(cmd.OutOrStdout(), reg, args[0]))
		},
	}
}

func writeInfo(w io.Writer, reg *recipe.Registry, name string) error {
	if reg.IsVirtual(name) {
		fmt.Fprintf(w, "%s is a virtual capability provided by: %s\n",
			output.StyleNoun.Render(name), strings.Join(reg.Providers(name), ", "))
		return nil
	}
	def, ok := reg.Definition(name)
	if !ok {
		return &oerrors.UnknownPackageError{Name: name}
	}

	fmt.Fprintln(w, output.StyleNoun.Render(def.Name))
	if def.Description != "" {
		fmt.Fprintln(w, "  "+def.Description)
	}
	if def.Homepage != "" {
		fmt.Fprintln(w, "  "+output.StyleDim.Render(def.Homepage))
	}
	if def.Serialize {
		fmt.Fprintln(w, "  builds alone, with one job")
	}

	versions := output.NewTable("VERSION", "SOURCE", "PREFERRED")
	for _, v := range def.Versions {
		preferred := ""
		if v.Preferred {
			preferred = "yes"
		}
		versions.Row(v.Version.String(), v.Fetch.String(), preferred)
	}
	section(w, "Versions", versions)

	if len(def.Variants) > 0 {
		variants := output.NewTable("VARIANT", "DEFAULT", "ALLOWED", "DESCRIPTION")
		for _, v := range def.Variants {
			variants.Row(v.Name, v.Default, strings.Join(v.Allowed(), ", "), v.Description)
		}
		section(w, "Variants", variants)
	}

	if len(def.Edges) > 0 {
		deps := output.NewTable("DEPENDENCY", "TYPE", "KIND")
		for _, e := range def.Edges {
			typ := string(e.Type)
			if typ == "" {
				typ = "default"
			}
			kind := "package"
			if reg.IsVirtual(e.Target) {
				kind = "virtual"
			}
			deps.Row(e.String(), typ, kind)
		}
		section(w, "Dependencies", deps)
	}

	if len(def.Provides) > 0 {
		provides := output.NewTable("VIRTUAL", "WHEN")
		for _, p := range def.Provides {
			provides.Row(p.Virtual, predicateString(p.When))
		}
		section(w, "Provides", provides)
	}

	if len(def.Exports) > 0 {
		exports := output.NewTable("CAPABILITY", "VALUE", "WHEN")
		for _, e := range def.Exports {
			exports.Row(e.Name, e.Value, predicateString(e.When))
		}
		section(w, "Capabilities", exports)
	}

	if len(def.Invalid) > 0 || len(def.Requires) > 0 {
		rules := output.NewTable("RULE", "WHEN", "MESSAGE")
		for _, r := range def.Invalid {
			rules.Row("invalid", predicateString(r.When), r.Message)
		}
		for _, r := range def.Requires {
			rules.Row("requires "+r.Require.String(), predicateString(r.When), r.Message)
		}
		section(w, "Rules", rules)
	}
	return nil
}

func section(w io.Writer, title string, tbl *output.Table) {
	fmt.Fprintf(w, "\n%s\n%s\n", output.StyleHeading.Render(title), tbl.String())
}

func predicateString(p constraint.Predicate) string {
	if p == nil {
		return "always"
	}
	return p.String()
}
