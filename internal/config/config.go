// Package config loads, resolves and validates the hpkg configuration.
//
// Values come from ~/.hpkg/config.yaml, HPKG_* environment variables and
// command line flags. Resolution precedence is flag, then environment, then
// the config file, then the built-in default.
package config

import (
	"time"

	"github.com/morse-hpc/hpkg/internal/spec"
)

// LogConfig contains logging-related settings.
type LogConfig struct {
	// Timestamps controls whether timestamps are shown in log output.
	// Default: true. Override with --timestamps.
	Timestamps *bool `json:"timestamps,omitempty" yaml:"timestamps,omitempty"`
}

// Config is the content of the config file.
type Config struct {
	// InstallRoot holds one directory per installed spec.
	// Env: HPKG_INSTALL_ROOT, Default: ~/.hpkg/opt
	InstallRoot string `json:"installRoot,omitempty" yaml:"installRoot,omitempty"`

	// StageRoot holds the unpacked sources, one directory per spec.
	// Env: HPKG_STAGE_ROOT, Default: ~/.hpkg/stage
	StageRoot string `json:"stageRoot,omitempty" yaml:"stageRoot,omitempty"`

	// RecipePaths are extra HCL recipe files or directories.
	// Env: HPKG_RECIPE_PATH (colon separated)
	RecipePaths []string `json:"recipePaths,omitempty" yaml:"recipePaths,omitempty"`

	// Workers is the number of specs built at once.
	// Env: HPKG_WORKERS, Default: 1
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// BuildJobs is the parallelism handed to each build.
	// Env: HPKG_BUILD_JOBS, Default: number of CPUs
	BuildJobs int `json:"buildJobs,omitempty" yaml:"buildJobs,omitempty"`

	// BuildTimeout bounds the hooks of one spec, e.g. "2h". Empty means none.
	// Env: HPKG_BUILD_TIMEOUT
	BuildTimeout string `json:"buildTimeout,omitempty" yaml:"buildTimeout,omitempty"`

	// Compiler is the default compiler, e.g. "gcc" or "gcc@12.2.0".
	// Env: HPKG_COMPILER, Default: gcc
	Compiler string `json:"compiler,omitempty" yaml:"compiler,omitempty"`

	// Compilers lists the compilers available on this machine.
	Compilers []string `json:"compilers,omitempty" yaml:"compilers,omitempty"`

	// Providers lists preferred providers per virtual.
	Providers map[string][]string `json:"providers,omitempty" yaml:"providers,omitempty"`

	Log LogConfig `json:"log,omitempty" yaml:"log,omitempty"`
}

// DefaultConfig returns the configuration written by `hpkg config init`.
func DefaultConfig() *Config {
	return &Config{
		InstallRoot: "~/.hpkg/opt",
		StageRoot:   "~/.hpkg/stage",
		Workers:     DefaultWorkers,
		Compiler:    DefaultCompiler,
	}
}

// Built-in defaults.
const (
	DefaultWorkers  = 1
	DefaultCompiler = "gcc"
)

// Settings is the fully resolved configuration used by commands.
type Settings struct {
	// ConfigPath is the config file that was read.
	ConfigPath string

	InstallRoot string
	StageRoot   string

	// DBPath is the install database inside InstallRoot.
	DBPath string

	RecipePaths []string
	Workers     int
	Jobs        int
	Timeout     time.Duration

	Compiler  spec.Compiler
	Compilers []spec.Compiler
	Providers map[string][]string

	Timestamps *bool

	// Values records where each setting came from.
	Values []ResolvedValue
}
