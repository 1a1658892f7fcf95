package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Environment variable prefix of hpkg settings.
const envPrefix = "HPKG"

// envKeys maps setting keys to their environment variables.
var envKeys = map[string]string{
	"config":       "HPKG_CONFIG",
	"installRoot":  "HPKG_INSTALL_ROOT",
	"stageRoot":    "HPKG_STAGE_ROOT",
	"recipePaths":  "HPKG_RECIPE_PATH",
	"workers":      "HPKG_WORKERS",
	"buildJobs":    "HPKG_BUILD_JOBS",
	"buildTimeout": "HPKG_BUILD_TIMEOUT",
	"compiler":     "HPKG_COMPILER",
}

// EnvVar returns the environment variable of a setting key.
func EnvVar(key string) string {
	return envKeys[key]
}

// Loader reads the config file and the HPKG_* environment.
type Loader struct {
	file *viper.Viper
	env  *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	env := viper.New()
	env.SetEnvPrefix(envPrefix)
	env.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, name := range envKeys {
		_ = env.BindEnv(key, name)
	}
	return &Loader{file: viper.New(), env: env}
}

// Load reads the config file at path. A missing file yields an empty
// Config.
func (l *Loader) Load(path string) (*Config, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	l.file.SetConfigFile(expanded)
	l.file.SetConfigType("yaml")
	if err := l.file.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.file.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Env returns the HPKG_* variables that are set, keyed by setting key.
func (l *Loader) Env() map[string]string {
	out := map[string]string{}
	for key := range envKeys {
		if !l.env.IsSet(key) {
			continue
		}
		if v := l.env.GetString(key); v != "" {
			out[key] = v
		}
	}
	return out
}

// FileExists reports whether a config file exists at path.
func FileExists(path string) (bool, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return false, err
	}
	switch _, err := os.Stat(expanded); {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
