package recipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/morse-hpc/hpkg/internal/buildconf"
	"github.com/morse-hpc/hpkg/internal/constraint"
	"github.com/morse-hpc/hpkg/internal/spec"
)

// Hook names, as they appear in reports.
const (
	HookPatch   = "patch"
	HookSetup   = "setup"
	HookInstall = "install"
)

// Recipe is a package definition plus its build procedure.
type Recipe interface {
	// Definition returns the declarative metadata. It must return the same
	// value on every call.
	Definition() *Definition

	// Strategy maps a resolved configuration to the one build procedure
	// that applies to it. It is called once per spec during concretization,
	// after the dependencies are bound, and must not have side effects.
	Strategy(s constraint.Subject) (Strategy, error)
}

// Strategy is one concrete build procedure.
type Strategy interface {
	Name() string
	Install(ctx context.Context, h *HookContext) error
}

// Patcher is implemented by strategies that patch the staged sources.
type Patcher interface {
	Patch(ctx context.Context, h *HookContext) error
}

// Configurer is implemented by strategies that write build configuration
// before the install hook runs.
type Configurer interface {
	Setup(ctx context.Context, h *HookContext) error
}

// Serializer is implemented by strategies whose build tool cannot run
// alongside other builds.
type Serializer interface {
	Serialize() bool
}

// Serialized reports whether st must run exclusively.
func Serialized(st Strategy) bool {
	s, ok := st.(Serializer)
	return ok && s.Serialize()
}

// HookContext is everything a hook may use.
type HookContext struct {
	// Spec is the resolved spec being built.
	Spec *spec.Spec

	// Prefix is the fresh, private install prefix.
	Prefix string

	// Stage is the directory holding the unpacked sources.
	Stage string

	// Jobs is the build parallelism the hook may use.
	Jobs int

	Logger *log.Logger
	Runner Runner

	// Env is added to the environment of every command.
	Env []string

	// Getenv looks up the build environment. Nil means the process
	// environment.
	Getenv func(key string) (string, bool)
}

// LookupEnv reads the build environment.
func (h *HookContext) LookupEnv(key string) (string, bool) {
	if h.Getenv != nil {
		return h.Getenv(key)
	}
	return os.LookupEnv(key)
}

// RequireStage fails when the sources have not been staged.
func (h *HookContext) RequireStage() error {
	fi, err := os.Stat(h.Stage)
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("sources for %s are not staged at %s", h.Spec.Name(), h.Stage)
	}
	return nil
}

// WithEnv returns a copy of h whose commands also receive env.
func (h *HookContext) WithEnv(env ...string) *HookContext {
	c := *h
	c.Env = append(append([]string{}, h.Env...), env...)
	return &c
}

// Path resolves rel against the stage directory.
func (h *HookContext) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(h.Stage, rel)
}

// Run runs a command in the stage directory.
func (h *HookContext) Run(ctx context.Context, name string, args ...string) error {
	return h.RunIn(ctx, "", nil, name, args...)
}

// RunIn runs a command in dir (relative to the stage) with extra
// environment entries.
func (h *HookContext) RunIn(ctx context.Context, dir string, env []string, name string, args ...string) error {
	cmd := Command{Dir: h.Path(dir), Env: append(append([]string{}, h.Env...), env...), Name: name, Args: args}
	if h.Logger != nil {
		h.Logger.Debug("run", "cmd", cmd.String(), "dir", cmd.Dir)
	}
	return h.Runner.Run(ctx, cmd)
}

// Make runs make with the hook's job count.
func (h *HookContext) Make(ctx context.Context, dir string, targets ...string) error {
	args := append([]string{"-j" + strconv.Itoa(max(h.Jobs, 1))}, targets...)
	return h.RunIn(ctx, dir, nil, "make", args...)
}

// MakeSerial runs make without parallelism.
func (h *HookContext) MakeSerial(ctx context.Context, dir string, targets ...string) error {
	args := append([]string{"-j1"}, targets...)
	return h.RunIn(ctx, dir, nil, "make", args...)
}

// CMake configures the staged sources into buildDir with the standard
// arguments, cfg rendered as cache definitions, and extra arguments.
func (h *HookContext) CMake(ctx context.Context, buildDir string, cfg buildconf.Config, extra ...string) error {
	if err := os.MkdirAll(h.Path(buildDir), 0o755); err != nil {
		return fmt.Errorf("creating build directory: %w", err)
	}
	args := []string{h.Stage}
	args = append(args, buildconf.RenderCMakeArgs(StdCMakeConfig(h.Prefix).Merge(cfg))...)
	args = append(args, extra...)
	return h.RunIn(ctx, buildDir, nil, "cmake", args...)
}

// WriteFile writes data to rel under the stage directory.
func (h *HookContext) WriteFile(rel string, data []byte) error {
	path := h.Path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// StdCMakeConfig is the configuration every CMake build receives.
func StdCMakeConfig(prefix string) buildconf.Config {
	return buildconf.New(
		"CMAKE_INSTALL_PREFIX:PATH", prefix,
		"CMAKE_BUILD_TYPE:STRING", "RelWithDebInfo",
		"CMAKE_INSTALL_RPATH_USE_LINK_PATH:BOOL", "ON",
		"CMAKE_INSTALL_RPATH:STRING", filepath.Join(prefix, "lib"),
	)
}
