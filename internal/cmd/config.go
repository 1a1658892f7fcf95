package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/morse-hpc/hpkg/internal/config"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/output"
)

const configHeader = `# hpkg configuration.
#
# Every key can be overridden by an HPKG_* environment variable or a flag;
# run 'hpkg <command> -v' to see where each value came from.
`

// NewConfigCmd creates the config command group.
func NewConfigCmd(g *GlobalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  `Create and validate the hpkg configuration file.`,
	}
	c.AddCommand(NewConfigInitCmd(g))
	c.AddCommand(NewConfigVetCmd(g))
	return c
}

// NewConfigInitCmd creates the config init command.
func NewConfigInitCmd(g *GlobalConfig) *cobra.Command {
	var force bool

	c := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write a default configuration file at the resolved config path
(--config, HPKG_CONFIG or ~/.hpkg/config.yaml).

Examples:
  hpkg config init
  hpkg config init --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exitError(runConfigInit(cmd, g.Settings.ConfigPath, force))
		},
	}

	c.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing configuration")
	return c
}

func runConfigInit(cmd *cobra.Command, path string, force bool) error {
	path, err := config.ExpandPath(path)
	if err != nil {
		return err
	}
	exists, err := config.FileExists(path)
	if err != nil {
		return err
	}
	if exists && !force {
		return &oerrors.DetailError{
			Type:     "validation failed",
			Message:  "configuration already exists",
			Location: path,
			Hint:     "Use --force to overwrite existing configuration.",
			Cause:    oerrors.ErrValidation,
		}
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("encoding default configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oerrors.Wrap(oerrors.ErrPermission, "could not create "+filepath.Dir(path))
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0o600); err != nil {
		return oerrors.Wrap(oerrors.ErrPermission, "could not write "+path)
	}

	fmt.Fprintln(cmd.OutOrStdout(), output.FormatCheckmark("configuration written to "+path))
	fmt.Fprintln(cmd.OutOrStdout(), "Validate with: hpkg config vet")
	return nil
}

// NewConfigVetCmd creates the config vet command.
func NewConfigVetCmd(g *GlobalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "vet",
		Short: "Validate the configuration file",
		Long: `Validate the configuration file against the hpkg schema.

Checks performed:
  1. The config file exists at the resolved path
  2. It is valid YAML
  3. Every key is known and every value satisfies its constraint`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exitError(runConfigVet(cmd, g.Settings.ConfigPath))
		},
	}
}

func runConfigVet(cmd *cobra.Command, path string) error {
	output.Debug("validating config", "path", path)

	exists, err := config.FileExists(path)
	if err != nil {
		return err
	}
	if !exists {
		return &oerrors.DetailError{
			Type:     "not found",
			Message:  "configuration file not found",
			Location: path,
			Hint:     "Run 'hpkg config init' to create default configuration",
			Cause:    oerrors.ErrNotFound,
		}
	}

	v, err := config.NewValidator()
	if err != nil {
		return err
	}
	if err := v.ValidateFile(path); err != nil {
		var verrs config.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, e := range verrs {
			output.Error("invalid configuration", "field", e.Field, "error", e.Message)
		}
		return &oerrors.ExitError{
			Err:     oerrors.Wrap(oerrors.ErrValidation, fmt.Sprintf("%s: %d problem(s)", path, len(verrs))),
			Code:    ExitValidationError,
			Printed: true,
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), output.FormatCheckmark("configuration is valid: "+path))
	return nil
}
