package version

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"
)

// toolVersionRegex matches the first version number in tool output, as in
// "cmake version 3.27.4" or "GNU Make 4.3".
var toolVersionRegex = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?`)

// DefaultTools are the build tools recipes run.
var DefaultTools = []string{"make", "cmake", "gcc", "git"}

// ToolInfo describes one build tool found on PATH.
type ToolInfo struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
	Found   bool   `json:"found"`
	Message string `json:"message,omitempty"`
}

// DetectTools looks up each tool on PATH and asks it for its version.
func DetectTools(ctx context.Context, names ...string) []ToolInfo {
	out := make([]ToolInfo, 0, len(names))
	for _, name := range names {
		out = append(out, detectTool(ctx, name))
	}
	return out
}

func detectTool(ctx context.Context, name string) ToolInfo {
	path, err := exec.LookPath(name)
	if err != nil {
		return ToolInfo{Name: name, Message: "not found in PATH"}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return ToolInfo{Name: name, Path: path, Found: true, Message: fmt.Sprintf("version check failed: %v", err)}
	}
	return ToolInfo{Name: name, Path: path, Found: true, Version: ParseToolVersion(stdout.String())}
}

// ParseToolVersion extracts the first version number of a --version output.
func ParseToolVersion(out string) string {
	return toolVersionRegex.FindString(out)
}

// String returns a human-readable tool line.
func (t ToolInfo) String() string {
	switch {
	case !t.Found:
		return fmt.Sprintf("  %-6s %s", t.Name, t.Message)
	case t.Version == "":
		return fmt.Sprintf("  %-6s %s (%s)", t.Name, t.Path, t.Message)
	default:
		return fmt.Sprintf("  %-6s %s (%s)", t.Name, t.Version, t.Path)
	}
}
