package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/output"
	"github.com/morse-hpc/hpkg/internal/spec"
)

// ConfigSource indicates where a configuration value came from.
type ConfigSource string

const (
	// SourceFlag indicates value came from command-line flag.
	SourceFlag ConfigSource = "flag"
	// SourceEnv indicates value came from environment variable.
	SourceEnv ConfigSource = "env"
	// SourceConfig indicates value came from config file.
	SourceConfig ConfigSource = "config"
	// SourceDefault indicates value is the built-in default.
	SourceDefault ConfigSource = "default"
)

// ResolvedValue records how one setting was resolved.
type ResolvedValue struct {
	Key    string
	Value  any
	Source ConfigSource
	// Shadowed contains values that were overridden by higher precedence.
	Shadowed map[ConfigSource]any
}

// Flags are the command line values that override configuration. Zero
// values mean the flag was not given.
type Flags struct {
	ConfigPath  string
	InstallRoot string
	Workers     int
	Jobs        int
	Timeout     time.Duration
	Compiler    string
	Timestamps  *bool
}

// ResolveConfigPath resolves the config file path using precedence:
// (1) --config flag, (2) HPKG_CONFIG env, (3) ~/.hpkg/config.yaml
func ResolveConfigPath(flag string, env map[string]string) (ResolvedValue, error) {
	paths, err := DefaultPaths()
	if err != nil {
		return ResolvedValue{}, err
	}
	rv, _ := pick("config",
		candidate[string]{SourceFlag, flag, flag != ""},
		candidate[string]{SourceEnv, env["config"], env["config"] != ""},
		candidate[string]{SourceDefault, paths.ConfigFile, true},
	)
	return rv, nil
}

// candidate is one possible value of a setting.
type candidate[T any] struct {
	source ConfigSource
	value  T
	set    bool
}

// pick returns the first set candidate; the other set candidates are
// recorded as shadowed.
func pick[T any](key string, cands ...candidate[T]) (ResolvedValue, T) {
	rv := ResolvedValue{Key: key, Shadowed: map[ConfigSource]any{}}
	var out T
	found := false
	for _, c := range cands {
		if !c.set {
			continue
		}
		if found {
			rv.Shadowed[c.source] = c.value
			continue
		}
		found = true
		out = c.value
		rv.Value = c.value
		rv.Source = c.source
	}
	return rv, out
}

// Resolve merges flags, environment and config file into Settings.
func Resolve(configPath string, cfg *Config, env map[string]string, flags Flags) (*Settings, error) {
	paths, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	s := &Settings{ConfigPath: configPath, Providers: cfg.Providers}
	record := func(rv ResolvedValue) { s.Values = append(s.Values, rv) }

	rv, installRoot := pick("installRoot",
		candidate[string]{SourceFlag, flags.InstallRoot, flags.InstallRoot != ""},
		candidate[string]{SourceEnv, env["installRoot"], env["installRoot"] != ""},
		candidate[string]{SourceConfig, cfg.InstallRoot, cfg.InstallRoot != ""},
		candidate[string]{SourceDefault, paths.InstallRoot, true},
	)
	record(rv)
	if s.InstallRoot, err = ExpandPath(installRoot); err != nil {
		return nil, err
	}
	s.DBPath = DBPath(s.InstallRoot)

	rv, stageRoot := pick("stageRoot",
		candidate[string]{SourceEnv, env["stageRoot"], env["stageRoot"] != ""},
		candidate[string]{SourceConfig, cfg.StageRoot, cfg.StageRoot != ""},
		candidate[string]{SourceDefault, paths.StageRoot, true},
	)
	record(rv)
	if s.StageRoot, err = ExpandPath(stageRoot); err != nil {
		return nil, err
	}

	var envPaths []string
	if v := env["recipePaths"]; v != "" {
		envPaths = filepath.SplitList(v)
	}
	rv, recipePaths := pick("recipePaths",
		candidate[[]string]{SourceEnv, envPaths, len(envPaths) > 0},
		candidate[[]string]{SourceConfig, cfg.RecipePaths, len(cfg.RecipePaths) > 0},
	)
	record(rv)
	for _, p := range recipePaths {
		expanded, err := ExpandPath(p)
		if err != nil {
			return nil, err
		}
		s.RecipePaths = append(s.RecipePaths, expanded)
	}

	envWorkers, err := envInt(env, "workers")
	if err != nil {
		return nil, err
	}
	rv, s.Workers = pick("workers",
		candidate[int]{SourceFlag, flags.Workers, flags.Workers > 0},
		candidate[int]{SourceEnv, envWorkers, envWorkers > 0},
		candidate[int]{SourceConfig, cfg.Workers, cfg.Workers > 0},
		candidate[int]{SourceDefault, DefaultWorkers, true},
	)
	record(rv)

	envJobs, err := envInt(env, "buildJobs")
	if err != nil {
		return nil, err
	}
	rv, s.Jobs = pick("buildJobs",
		candidate[int]{SourceFlag, flags.Jobs, flags.Jobs > 0},
		candidate[int]{SourceEnv, envJobs, envJobs > 0},
		candidate[int]{SourceConfig, cfg.BuildJobs, cfg.BuildJobs > 0},
		candidate[int]{SourceDefault, runtime.NumCPU(), true},
	)
	record(rv)

	envTimeout, err := parseDuration("HPKG_BUILD_TIMEOUT", env["buildTimeout"])
	if err != nil {
		return nil, err
	}
	cfgTimeout, err := parseDuration("buildTimeout", cfg.BuildTimeout)
	if err != nil {
		return nil, err
	}
	rv, s.Timeout = pick("buildTimeout",
		candidate[time.Duration]{SourceFlag, flags.Timeout, flags.Timeout > 0},
		candidate[time.Duration]{SourceEnv, envTimeout, envTimeout > 0},
		candidate[time.Duration]{SourceConfig, cfgTimeout, cfgTimeout > 0},
	)
	record(rv)

	rv, compiler := pick("compiler",
		candidate[string]{SourceFlag, flags.Compiler, flags.Compiler != ""},
		candidate[string]{SourceEnv, env["compiler"], env["compiler"] != ""},
		candidate[string]{SourceConfig, cfg.Compiler, cfg.Compiler != ""},
		candidate[string]{SourceDefault, DefaultCompiler, true},
	)
	record(rv)
	if s.Compiler, err = spec.ParseCompiler(compiler); err != nil {
		return nil, oerrors.NewValidationError(err.Error(), configPath, "compiler", "use name or name@version, e.g. gcc@12.2.0")
	}

	for _, raw := range cfg.Compilers {
		c, err := spec.ParseCompiler(raw)
		if err != nil {
			return nil, oerrors.NewValidationError(err.Error(), configPath, "compilers", "")
		}
		s.Compilers = append(s.Compilers, c)
	}
	if !s.Compiler.Version.IsZero() && !slices.ContainsFunc(s.Compilers, func(c spec.Compiler) bool {
		return c.String() == s.Compiler.String()
	}) {
		s.Compilers = append(s.Compilers, s.Compiler)
	}

	rv, s.Timestamps = pick("log.timestamps",
		candidate[*bool]{SourceFlag, flags.Timestamps, flags.Timestamps != nil},
		candidate[*bool]{SourceConfig, cfg.Log.Timestamps, cfg.Log.Timestamps != nil},
	)
	if s.Timestamps != nil {
		rv.Value = *s.Timestamps
	}
	record(rv)

	return s, nil
}

func envInt(env map[string]string, key string) (int, error) {
	raw := strings.TrimSpace(env[key])
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, oerrors.NewValidationError(fmt.Sprintf("invalid value %q", raw), EnvVar(key), "", "use a positive integer")
	}
	return n, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, oerrors.NewValidationError(fmt.Sprintf("invalid duration %q", raw), field, "", "use a duration such as 90m or 2h")
	}
	return d, nil
}

// LogResolvedValues logs configuration resolution at DEBUG level.
func LogResolvedValues(values []ResolvedValue) {
	for _, v := range values {
		if v.Source == "" {
			continue
		}
		output.Debug("config value resolved",
			"key", v.Key,
			"value", v.Value,
			"source", v.Source,
		)
		for source, shadowed := range v.Shadowed {
			output.Debug("  shadowed by higher precedence",
				"key", v.Key,
				"shadowed_source", source,
				"shadowed_value", shadowed,
			)
		}
	}
}
