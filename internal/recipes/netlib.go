package recipes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/viant/afs"

	"github.com/morse-hpc/hpkg/internal/buildconf"
	"github.com/morse-hpc/hpkg/internal/constraint"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/spec"
)

// NetlibBlas is the Netlib reference BLAS. Its makefiles do not build
// reliably in parallel, so it is serialized.
func NetlibBlas() recipe.Recipe {
	return netlibBlas{base{&recipe.Definition{
		Name:        "netlib-blas",
		Homepage:    "http://www.netlib.org/lapack/",
		Description: "Netlib reference BLAS",
		Versions: []recipe.VersionDecl{
			recipe.NewVersion("3.5.0", recipe.Archive("http://www.netlib.org/lapack/lapack-3.5.0.tgz", "b1d3e3e425b2e44a06760ff173104bdf")),
		},
		Provides: []recipe.Provide{{Virtual: "blas"}},
		Exports: []recipe.Export{
			{Name: "cc_link", Value: "-L{prefix}/lib -lblas"},
			{Name: "fc_link", Value: "-L{prefix}/lib -lblas"},
		},
		Serialize: true,
	}}}
}

type netlibBlas struct{ base }

func (netlibBlas) Strategy(constraint.Subject) (recipe.Strategy, error) {
	return netlibMake{}, nil
}

type netlibMake struct{}

func (netlibMake) Name() string { return "make" }

// Patch writes a make.inc that includes the shipped example and overrides
// the compilers and flags.
func (netlibMake) Patch(ctx context.Context, h *recipe.HookContext) error {
	if err := h.RequireStage(); err != nil {
		return err
	}
	inc := "include make.inc.example\n" + buildconf.RenderMakefile(netlibMakeInc(h.Spec))
	return h.WriteFile("make.inc", []byte(inc))
}

func (netlibMake) Install(ctx context.Context, h *recipe.HookContext) error {
	if err := h.Make(ctx, "", "blaslib"); err != nil {
		return err
	}
	if err := h.Make(ctx, "", "blas_testing"); err != nil {
		return err
	}

	lib := filepath.Join(h.Prefix, "lib")
	if err := os.MkdirAll(lib, 0o755); err != nil {
		return err
	}
	if err := afs.New().Copy(ctx, h.Path("librefblas.a"), filepath.Join(lib, "librefblas.a")); err != nil {
		return fmt.Errorf("installing librefblas.a: %w", err)
	}
	// consumers link against the generic names
	for _, alias := range []string{"blas.a", "libblas.a"} {
		if err := os.Symlink("librefblas.a", filepath.Join(lib, alias)); err != nil {
			return err
		}
	}
	return nil
}

func netlibMakeInc(s *spec.Spec) buildconf.Config {
	cfg := buildconf.New(
		"FORTRAN", "f90",
		"LOADER", "f90",
		"CC", "cc",
	)
	switch {
	case compilerIs(s, "gcc"):
		cfg = cfg.Set("OPTS", "-O2 -frecursive -fPIC").Set("CFLAGS", "-O3 -fPIC")
	case compilerIs(s, "icc", "intel"):
		cfg = cfg.Set("OPTS", "-O2 -shared -fpic").Set("CFLAGS", "-O3 -shared -fpic")
	}
	return cfg
}
