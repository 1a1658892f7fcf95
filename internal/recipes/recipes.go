// Package recipes holds the built-in package recipes.
//
// The solver libraries whose builds need real logic (netlib-blas, scalfmm,
// parsec, maphys) are written in Go. Everything else lives in the embedded
// HCL catalog.
package recipes

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/spec"
)

//go:embed catalog/*.hcl
var catalogFS embed.FS

// Go returns the recipes implemented in Go.
func Go() []recipe.Recipe {
	return []recipe.Recipe{
		NetlibBlas(),
		Scalfmm(),
		Parsec(),
		Maphys(),
	}
}

// Catalog parses the embedded HCL recipes, in file name order.
func Catalog() ([]recipe.Recipe, error) {
	entries, err := fs.ReadDir(catalogFS, "catalog")
	if err != nil {
		return nil, fmt.Errorf("reading recipe catalog: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".hcl") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	var out []recipe.Recipe
	for _, name := range names {
		src, err := catalogFS.ReadFile(path.Join("catalog", name))
		if err != nil {
			return nil, fmt.Errorf("reading recipe catalog: %w", err)
		}
		rcs, err := recipe.ParseHCL(name, src)
		if err != nil {
			return nil, err
		}
		out = append(out, rcs...)
	}
	return out, nil
}

// Register adds the catalog and the Go recipes to reg. Catalog recipes are
// registered first, so openblas is the default blas and lapack provider.
func Register(reg *recipe.Registry) error {
	cat, err := Catalog()
	if err != nil {
		return err
	}
	for _, rc := range append(cat, Go()...) {
		if err := reg.Register(rc); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry builds a sealed, validated registry holding the built-in
// recipes and the HCL recipes found under extra.
func NewRegistry(extra ...string) (*recipe.Registry, error) {
	reg := recipe.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		rcs, err := recipe.LoadHCL(extra...)
		if err != nil {
			return nil, err
		}
		for _, rc := range rcs {
			if err := reg.Register(rc); err != nil {
				return nil, err
			}
		}
	}
	if err := reg.Seal(); err != nil {
		return nil, err
	}
	return reg, nil
}

type base struct {
	def *recipe.Definition
}

func (b base) Definition() *recipe.Definition { return b.def }

// capOr returns the capability name of the spec providing dep, or fallback
// when there is no such spec or it does not export name.
func capOr(s *spec.Spec, dep, name, fallback string) string {
	d, ok := s.Provider(dep)
	if !ok {
		return fallback
	}
	if v, ok := d.Capability(name); ok {
		return v
	}
	return fallback
}

// prefixOf returns the install prefix of the spec providing dep.
func prefixOf(s *spec.Spec, dep string) string {
	if d, ok := s.Provider(dep); ok {
		return d.Prefix()
	}
	return ""
}

func compilerIs(s *spec.Spec, names ...string) bool {
	return slices.Contains(names, s.Compiler().Name)
}

// has reports whether the package pkg is among the dependencies of s.
func has(s *spec.Spec, pkg string) bool {
	d, ok := s.Dependency(pkg)
	return ok && d.Name() == pkg
}

// joinNonEmpty joins the non-empty parts with single spaces.
func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
