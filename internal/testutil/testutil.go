// Package testutil provides test helpers: an in-memory recipe set built
// from options, and small filesystem helpers.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/morse-hpc/hpkg/internal/constraint"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/semver"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// FakeStrategy is the strategy name of fake recipes.
const FakeStrategy = "fake"

// Recipe is an in-memory recipe. Its strategy runs the configured hook
// functions; nil hooks succeed without doing anything.
type Recipe struct {
	Def       *recipe.Definition
	Serial    bool
	PatchFn   func(ctx context.Context, h *recipe.HookContext) error
	InstallFn func(ctx context.Context, h *recipe.HookContext) error

	// StrategyErr is returned by Strategy.
	StrategyErr error
}

// Option configures a fake recipe.
type Option func(r *Recipe)

// Package creates a fake recipe. It declares version 1.0 unless a
// Versions option says otherwise.
func Package(name string, opts ...Option) *Recipe {
	r := &Recipe{Def: &recipe.Definition{Name: name}}
	for _, o := range opts {
		o(r)
	}
	if len(r.Def.Versions) == 0 {
		r.Def.Versions = []recipe.VersionDecl{recipe.NewVersion("1.0", recipe.Fetch{})}
	}
	return r
}

func (r *Recipe) Definition() *recipe.Definition { return r.Def }

func (r *Recipe) Strategy(constraint.Subject) (recipe.Strategy, error) {
	if r.StrategyErr != nil {
		return nil, r.StrategyErr
	}
	return fakeStrategy{r: r}, nil
}

type fakeStrategy struct{ r *Recipe }

func (s fakeStrategy) Name() string    { return FakeStrategy }
func (s fakeStrategy) Serialize() bool { return s.r.Serial }

func (s fakeStrategy) Patch(ctx context.Context, h *recipe.HookContext) error {
	if s.r.PatchFn == nil {
		return nil
	}
	return s.r.PatchFn(ctx, h)
}

func (s fakeStrategy) Install(ctx context.Context, h *recipe.HookContext) error {
	if s.r.InstallFn == nil {
		return nil
	}
	return s.r.InstallFn(ctx, h)
}

// Versions declares versions in order.
func Versions(vs ...string) Option {
	return func(r *Recipe) {
		for _, v := range vs {
			r.Def.Versions = append(r.Def.Versions, recipe.NewVersion(v, recipe.Fetch{}))
		}
	}
}

// Preferred declares a preferred version.
func Preferred(v string) Option {
	return func(r *Recipe) {
		r.Def.Versions = append(r.Def.Versions, recipe.NewVersion(v, recipe.Fetch{}).Prefer())
	}
}

// ExternalVersion declares a version provided by an existing installation.
func ExternalVersion(v, env string) Option {
	return func(r *Recipe) {
		r.Def.Versions = append(r.Def.Versions, recipe.NewVersion(v, recipe.External(env)))
	}
}

// Bool declares a boolean variant.
func Bool(name string, def bool) Option {
	return func(r *Recipe) {
		r.Def.Variants = append(r.Def.Variants, variant.Bool(name, def, ""))
	}
}

// Enum declares a multi-valued variant.
func Enum(name, def string, values ...string) Option {
	return func(r *Recipe) {
		r.Def.Variants = append(r.Def.Variants, variant.Enum(name, def, values, ""))
	}
}

// DependsOn declares a dependency edge, guarded when when is not empty.
func DependsOn(target, when string) Option {
	return func(r *Recipe) {
		r.Def.Edges = append(r.Def.Edges, recipe.DependsOn(target, when))
	}
}

// Provides declares a virtual capability.
func Provides(virtual, when string) Option {
	return func(r *Recipe) {
		p := recipe.Provide{Virtual: virtual}
		if when != "" {
			p.When = constraint.MustParse(when)
		}
		r.Def.Provides = append(r.Def.Provides, p)
	}
}

// Invalid rejects configurations matching when.
func Invalid(when, message string) Option {
	return func(r *Recipe) {
		r.Def.Invalid = append(r.Def.Invalid, recipe.Rule{When: constraint.MustParse(when), Message: message})
	}
}

// Requires demands require whenever when holds.
func Requires(when, require, message string) Option {
	return func(r *Recipe) {
		req := recipe.Requirement{Require: constraint.MustParse(require), Message: message}
		if when != "" {
			req.When = constraint.MustParse(when)
		}
		r.Def.Requires = append(r.Def.Requires, req)
	}
}

// Export declares a capability.
func Export(name, value string) Option {
	return func(r *Recipe) {
		r.Def.Exports = append(r.Def.Exports, recipe.Export{Name: name, Value: value})
	}
}

// Serialize marks the package as unable to build alongside others.
func Serialize() Option {
	return func(r *Recipe) { r.Def.Serialize = true }
}

// SerialStrategy makes the package's strategy serialized.
func SerialStrategy() Option {
	return func(r *Recipe) { r.Serial = true }
}

// OnInstall sets the install hook.
func OnInstall(fn func(ctx context.Context, h *recipe.HookContext) error) Option {
	return func(r *Recipe) { r.InstallFn = fn }
}

// Registry registers rcs in a sealed registry and fails the test on error.
func Registry(t testing.TB, rcs ...recipe.Recipe) *recipe.Registry {
	t.Helper()
	reg := recipe.NewRegistry()
	for _, rc := range rcs {
		if err := reg.Register(rc); err != nil {
			t.Fatalf("registering %s: %v", rc.Definition().Name, err)
		}
	}
	if err := reg.Seal(); err != nil {
		t.Fatalf("sealing registry: %v", err)
	}
	return reg
}

// Version parses a version and fails the test on error.
func Version(t testing.TB, raw string) semver.Version {
	t.Helper()
	v, err := semver.ParseVersion(raw)
	if err != nil {
		t.Fatalf("parsing version %q: %v", raw, err)
	}
	return v
}

// Recorder collects events from concurrently running hooks.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// Record appends an event.
func (r *Recorder) Record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns the events in the order they were recorded.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Index returns the position of event, or -1.
func (r *Recorder) Index(event string) int {
	for i, e := range r.Events() {
		if e == event {
			return i
		}
	}
	return -1
}

// WriteFile creates a file with the given content in the specified directory.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create parent dirs for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
	return path
}
