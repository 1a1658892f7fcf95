// Package version reports the hpkg build and the tools it drives.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set at link time with -ldflags "-X".
var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`

	// CUEVersion is the CUE module validating config files. It is
	// "unknown" without build info, as in tests.
	CUEVersion string `json:"cueVersion"`
}

// GetInfo returns the Info of the running binary.
func GetInfo() Info {
	return Info{
		Version:    Version,
		GitCommit:  GitCommit,
		BuildDate:  BuildDate,
		GoVersion:  runtime.Version(),
		CUEVersion: depVersion("cuelang.org/go"),
	}
}

func depVersion(module string) string {
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range bi.Deps {
			if dep.Path == module {
				return dep.Version
			}
		}
	}
	return "unknown"
}

func (i Info) String() string {
	return fmt.Sprintf("hpkg %s (commit %s, built %s)\n  go:  %s\n  cue: %s",
		i.Version, i.GitCommit, i.BuildDate, i.GoVersion, i.CUEVersion)
}

// FullVersionString appends the detected build tools to info.
func FullVersionString(info Info, tools []ToolInfo) string {
	lines := []string{info.String(), "", "build tools:"}
	for _, t := range tools {
		lines = append(lines, t.String())
	}
	return strings.Join(lines, "\n")
}
