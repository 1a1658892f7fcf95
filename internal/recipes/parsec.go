package recipes

import (
	"context"

	"github.com/morse-hpc/hpkg/internal/buildconf"
	"github.com/morse-hpc/hpkg/internal/constraint"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/spec"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// Parsec is the Parallel Runtime Scheduling and Execution Controller.
func Parsec() recipe.Recipe {
	return parsec{base{&recipe.Definition{
		Name:        "parsec",
		Homepage:    "http://icl.cs.utk.edu/parsec/index.html",
		Description: "Parallel Runtime Scheduling and Execution Controller",
		Versions: []recipe.VersionDecl{
			recipe.NewVersion("last-rel", recipe.Archive("http://icl.cs.utk.edu/projectsfiles/parsec/pubs/parsec-2b39da2e4087.tgz", "14de60b5ae9cad93f9ba5a0c3c3918b0")).Prefer(),
			recipe.NewVersion("master", recipe.Git("https://bitbucket.org/icldistcomp/parsec.git", "master")),
			recipe.NewVersion("mfaverge", recipe.Git("https://bitbucket.org/mfaverge/parsec.git", "mymaster")),
			recipe.NewVersion("exist", recipe.External("PARSEC_DIR")),
			recipe.NewVersion("src", recipe.Fetch{}),
		},
		Variants: []variant.Definition{
			variant.Bool("mpi", true, "Enable MPI support"),
			variant.Bool("papi", false, "Enable PAPI support for using PINS"),
			variant.Bool("shared", false, "Enable shared library"),
			variant.Bool("idx64", false, "Enable 64bits"),
			variant.Bool("dplasma", false, "Enable DPlasma"),
		},
		Edges: []recipe.Edge{
			{Target: "cmake", Type: recipe.DepBuild},
			recipe.DependsOn("hwloc", ""),
			recipe.DependsOn("mpi", "+mpi"),
			recipe.DependsOn("papi", "+papi"),
		},
	}}}
}

type parsec struct{ base }

func (r parsec) Strategy(s constraint.Subject) (recipe.Strategy, error) {
	if st, ok := recipe.ExistingFor(r.def, s); ok {
		return st, nil
	}
	return parsecCMake{}, nil
}

type parsecCMake struct{}

func (parsecCMake) Name() string { return "cmake" }

func (parsecCMake) Install(ctx context.Context, h *recipe.HookContext) error {
	if err := h.RequireStage(); err != nil {
		return err
	}
	if err := h.CMake(ctx, "spack-build", parsecConfig(h.Spec)); err != nil {
		return err
	}
	if err := h.Make(ctx, "spack-build"); err != nil {
		return err
	}
	return h.Make(ctx, "spack-build", "install")
}

func parsecConfig(s *spec.Spec) buildconf.Config {
	return buildconf.New(
		"BUILD_SHARED_LIBS", buildconf.OnOff(s.Enabled("shared")),
		"BUILD_64bits", buildconf.OnOff(s.Enabled("idx64")),
		"BUILD_DPLASMA", buildconf.OnOff(s.Enabled("dplasma")),
		"DAGUE_WITH_DEVEL_HEADERS", "ON",
	)
}
