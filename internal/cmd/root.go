package cmd

import (
	"github.com/spf13/cobra"

	"github.com/morse-hpc/hpkg/internal/config"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/output"
	"github.com/morse-hpc/hpkg/internal/version"
)

// GlobalConfig holds CLI-wide configuration resolved during
// PersistentPreRunE. It is passed into every sub-command constructor.
type GlobalConfig struct {
	// Settings is the resolved configuration. It is set even when the config
	// file could not be loaded; LoadErr says why.
	Settings *config.Settings

	// LoadErr is the error of loading the config file, if any.
	LoadErr error

	Verbose bool

	configFlag string
	timestamps bool
	flags      config.Flags
}

// NewRootCmd creates the root command for the hpkg CLI.
func NewRootCmd() *cobra.Command {
	g := &GlobalConfig{}

	rootCmd := &cobra.Command{
		Use:   "hpkg",
		Short: "Build-variant package manager for HPC software",
		Long: `hpkg resolves a package request with variants, versions, compilers and
virtual capabilities into one fully configured dependency graph, then builds
and installs every spec in dependency order.

Examples:
  hpkg spec maphys +mumps ~pastix ^openblas+mt
  hpkg install maphys@0.9.3 %gcc -j 8
  hpkg diff maphys -- maphys +pastix`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initializeGlobals(cmd, g)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.configFlag, "config", "c", "", "path to config file (env: HPKG_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&g.flags.InstallRoot, "install-root", "", "install tree (env: HPKG_INSTALL_ROOT)")
	rootCmd.PersistentFlags().BoolVarP(&g.Verbose, "verbose", "v", false, "increase output verbosity")
	rootCmd.PersistentFlags().BoolVar(&g.timestamps, "timestamps", true, "show timestamps in log output")

	rootCmd.AddCommand(NewInstallCmd(g))
	rootCmd.AddCommand(NewSpecCmd(g))
	rootCmd.AddCommand(NewDiffCmd(g))
	rootCmd.AddCommand(NewInfoCmd(g))
	rootCmd.AddCommand(NewProvidersCmd(g))
	rootCmd.AddCommand(NewListCmd(g))
	rootCmd.AddCommand(NewUninstallCmd(g))
	rootCmd.AddCommand(NewConfigCmd(g))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// initializeGlobals loads and resolves configuration, then sets up
// logging. A config file that fails to load does not stop commands that do
// not need it (config init, config vet, version).
func initializeGlobals(cmd *cobra.Command, g *GlobalConfig) error {
	loader := config.NewLoader()
	env := loader.Env()

	pathValue, err := config.ResolveConfigPath(g.configFlag, env)
	if err != nil {
		return oerrors.Wrap(oerrors.ErrNotFound, "could not determine home directory")
	}
	configPath, _ := pathValue.Value.(string)

	cfg, err := loader.Load(configPath)
	if err != nil {
		g.LoadErr = &oerrors.DetailError{
			Type:     "validation failed",
			Message:  err.Error(),
			Location: configPath,
			Hint:     "Run 'hpkg config vet' for details",
			Cause:    oerrors.ErrValidation,
		}
		cfg = &config.Config{}
	}

	if cmd.Flags().Changed("timestamps") {
		g.flags.Timestamps = output.BoolPtr(g.timestamps)
	}

	settings, err := config.Resolve(configPath, cfg, env, g.flags)
	if err != nil {
		return err
	}
	g.Settings = settings

	output.SetupLogging(output.LogConfig{
		Verbose:    g.Verbose,
		Timestamps: settings.Timestamps,
	})

	info := version.GetInfo()
	output.Debug("hpkg started", "version", info.Version, "config", configPath, "source", pathValue.Source)
	if g.LoadErr != nil {
		output.Debug("config load error", "error", g.LoadErr)
	}
	config.LogResolvedValues(append([]config.ResolvedValue{pathValue}, settings.Values...))

	return nil
}

// requireConfig fails when the config file could not be loaded.
func (g *GlobalConfig) requireConfig() error {
	if g.LoadErr != nil {
		return g.LoadErr
	}
	if g.Settings == nil {
		return oerrors.Wrap(oerrors.ErrValidation, "configuration not initialized")
	}
	return nil
}
