package spec

import (
	"fmt"
	"strings"

	"github.com/morse-hpc/hpkg/internal/semver"
)

// Compiler identifies the toolchain a spec is built with.
type Compiler struct {
	Name    string
	Version semver.Version
}

// ParseCompiler reads "gcc" or "gcc@12.2.0".
func ParseCompiler(s string) (Compiler, error) {
	name, ver, hasVersion := strings.Cut(strings.TrimPrefix(strings.TrimSpace(s), "%"), "@")
	if name == "" {
		return Compiler{}, fmt.Errorf("compiler %q: missing name", s)
	}
	c := Compiler{Name: name}
	if hasVersion {
		v, err := semver.ParseVersion(ver)
		if err != nil {
			return Compiler{}, fmt.Errorf("compiler %q: %w", s, err)
		}
		c.Version = v
	}
	return c, nil
}

// String renders name@version, or name alone when the version is unknown.
func (c Compiler) String() string {
	if c.Version.IsZero() {
		return c.Name
	}
	return c.Name + "@" + c.Version.String()
}

// IsZero reports whether no compiler is set.
func (c Compiler) IsZero() bool {
	return c.Name == ""
}
