package recipe

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	oerrors "github.com/morse-hpc/hpkg/internal/errors"
)

// Registry holds the recipes known to the process. It is filled once at
// startup, validated and sealed; afterwards it is read-only and safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	recipes   map[string]Recipe
	order     []string
	providers map[string][]string
	sealed    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		recipes:   make(map[string]Recipe),
		providers: make(map[string][]string),
	}
}

// Register adds a recipe. Providers of a virtual keep registration order.
func (r *Registry) Register(rc Recipe) error {
	def := rc.Definition()
	if err := def.Check(); err != nil {
		return oerrors.NewValidationError(err.Error(), def.Name, "", "")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("registry is sealed, cannot register %q", def.Name)
	}
	if _, ok := r.recipes[def.Name]; ok {
		return oerrors.NewValidationError(
			fmt.Sprintf("package %q registered twice", def.Name), def.Name, "",
			"rename one of the recipes or remove it from the recipe path")
	}

	r.recipes[def.Name] = rc
	r.order = append(r.order, def.Name)
	for _, v := range def.VirtualNames() {
		r.providers[v] = append(r.providers[v], def.Name)
	}
	return nil
}

// MustRegister is Register for built-in recipes; it panics on error.
func (r *Registry) MustRegister(rcs ...Recipe) {
	for _, rc := range rcs {
		if err := r.Register(rc); err != nil {
			panic(err)
		}
	}
}

// Get returns the recipe for a package.
func (r *Registry) Get(name string) (Recipe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.recipes[name]
	return rc, ok
}

// Definition returns the definition of a package.
func (r *Registry) Definition(name string) (*Definition, bool) {
	rc, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	return rc.Definition(), true
}

// Providers returns the packages that may provide virtual, in registration
// order.
func (r *Registry) Providers(virtual string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.providers[virtual])
}

// IsVirtual reports whether name is a virtual capability rather than a
// package.
func (r *Registry) IsVirtual(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, isPkg := r.recipes[name]
	return !isPkg && len(r.providers[name]) > 0
}

// Known reports whether name is a package or a virtual.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, isPkg := r.recipes[name]
	return isPkg || len(r.providers[name]) > 0
}

// Names returns the package names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Clone(r.order)
	sort.Strings(names)
	return names
}

// Virtuals returns the virtual names, sorted.
func (r *Registry) Virtuals() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for v := range r.providers {
		if _, isPkg := r.recipes[v]; !isPkg {
			names = append(names, v)
		}
	}
	sort.Strings(names)
	return names
}

// Validate cross-checks the registered recipes: edge targets must exist and
// required variants must be declared by the target (or by at least one
// provider of a virtual target) with values in their domain.
func (r *Registry) Validate() error {
	r.mu.RLock()
	names := slices.Clone(r.order)
	r.mu.RUnlock()

	for _, name := range names {
		def, _ := r.Definition(name)
		for _, e := range def.Edges {
			if !r.Known(e.Target) {
				return &oerrors.UnknownPackageError{Name: e.Target, RequiredBy: def.Name}
			}
			if err := r.checkRequired(def.Name, e); err != nil {
				return oerrors.NewValidationError(err.Error(), def.Name, "depends_on",
					"fix the dependency declaration in the recipe")
			}
		}
	}
	return nil
}

func (r *Registry) checkRequired(consumer string, e Edge) error {
	if len(e.Require.Variants) == 0 {
		return nil
	}
	candidates := []string{e.Target}
	if r.IsVirtual(e.Target) {
		candidates = r.Providers(e.Target)
	}

	var lastErr error
	for _, c := range candidates {
		def, _ := r.Definition(c)
		if err := checkAssignments(def, e); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("dependency %s of %s: %w", e.Target, consumer, lastErr)
}

func checkAssignments(def *Definition, e Edge) error {
	for _, a := range e.Require.Variants {
		vd, ok := def.Variant(a.Name)
		if !ok {
			return &oerrors.UnknownVariantError{PackageName: def.Name, Variant: a.Name, Known: def.VariantNames()}
		}
		if err := vd.Validate(a.Value); err != nil {
			return err
		}
	}
	return nil
}

// Seal validates the registry and makes it read-only.
func (r *Registry) Seal() error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
	return nil
}

// Sealed reports whether Seal succeeded.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}
