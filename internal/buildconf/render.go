package buildconf

import (
	"strings"
)

// RenderMakefile renders c as a makefile include, one "KEY := value" line
// per entry.
func RenderMakefile(c Config) string {
	var b strings.Builder
	for _, e := range c.entries {
		b.WriteString(e.Key)
		if e.Value == "" {
			b.WriteString(" :=\n")
			continue
		}
		b.WriteString(" := ")
		b.WriteString(e.Value)
		b.WriteString("\n")
	}
	return b.String()
}

// RenderCMakeArgs renders c as CMake cache definitions (-DKEY=value).
func RenderCMakeArgs(c Config) []string {
	args := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		args = append(args, "-D"+e.Key+"="+e.Value)
	}
	return args
}

// RenderEnv renders c as KEY=value pairs for a process environment.
func RenderEnv(c Config) []string {
	env := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		env = append(env, e.Key+"="+e.Value)
	}
	return env
}
