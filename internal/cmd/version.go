package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/morse-hpc/hpkg/internal/version"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	var short bool

	c := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Show hpkg version information.

Displays:
  - hpkg version, commit, and build date
  - CUE version used to validate config files
  - versions of the build tools recipes rely on`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetInfo()
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), info.Version)
				return nil
			}
			tools := version.DetectTools(cmd.Context(), version.DefaultTools...)
			fmt.Fprintln(cmd.OutOrStdout(), version.FullVersionString(info, tools))
			return nil
		},
	}

	c.Flags().BoolVar(&short, "short", false, "print only the version number")
	return c
}
