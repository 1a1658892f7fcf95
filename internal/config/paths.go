package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths is the layout of an hpkg home directory.
type Paths struct {
	// HomeDir is the hpkg home directory, ~/.hpkg by default.
	HomeDir string

	ConfigFile  string
	InstallRoot string
	StageRoot   string
}

// DefaultPaths returns the layout of ~/.hpkg.
func DefaultPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("locating home directory: %w", err)
	}
	return PathsIn(filepath.Join(home, ".hpkg")), nil
}

// PathsIn returns the layout of the hpkg home directory dir.
func PathsIn(dir string) *Paths {
	return &Paths{
		HomeDir:     dir,
		ConfigFile:  filepath.Join(dir, "config.yaml"),
		InstallRoot: filepath.Join(dir, "opt"),
		StageRoot:   filepath.Join(dir, "stage"),
	}
}

// DBPath returns the install database of an install root.
func DBPath(installRoot string) string {
	return filepath.Join(installRoot, ".index.db")
}

// ExpandPath replaces a leading ~ with the user's home directory. Other
// paths, ~user included, are returned unchanged.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/")), nil
}
