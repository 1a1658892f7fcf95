package recipes

import (
	"context"

	"github.com/morse-hpc/hpkg/internal/buildconf"
	"github.com/morse-hpc/hpkg/internal/constraint"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/spec"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// Scalfmm simulates N-body interactions with the Fast Multipole Method.
// With +mkl it takes BLAS and LAPACK from the MKL found in the environment
// instead of depending on providers.
func Scalfmm() recipe.Recipe {
	return scalfmm{base{&recipe.Definition{
		Name:        "scalfmm",
		Homepage:    "http://scalfmm-public.gforge.inria.fr/doc/",
		Description: "N-body interactions using the Fast Multipole Method",
		Versions: []recipe.VersionDecl{
			recipe.NewVersion("1.3-56", recipe.Archive("https://gforge.inria.fr/frs/download.php/file/34672/SCALFMM-1.3-56.tar.gz", "666ba8fef226630a2c22df8f0f93ff9c")),
			recipe.NewVersion("master", recipe.Git("https://scm.gforge.inria.fr/anonscm/git/scalfmm-public/scalfmm-public.git", "")),
		},
		Variants: []variant.Definition{
			variant.Bool("fftw", false, "Enable FFTW"),
			variant.Bool("mkl", false, "Use BLAS/LAPACK from the Intel MKL library"),
			variant.Bool("mpi", false, "Enable MPI"),
			variant.Bool("starpu", false, "Enable StarPU"),
		},
		Edges: []recipe.Edge{
			recipe.DependsOn("blas", "~mkl"),
			recipe.DependsOn("lapack", "~mkl"),
			recipe.DependsOn("fftw", "+fftw"),
			recipe.DependsOn("starpu", "+starpu"),
			recipe.DependsOn("mpi", "+mpi"),
		},
	}}}
}

type scalfmm struct{ base }

func (scalfmm) Strategy(constraint.Subject) (recipe.Strategy, error) {
	return scalfmmCMake{}, nil
}

type scalfmmCMake struct{}

func (scalfmmCMake) Name() string { return "cmake" }

func (scalfmmCMake) Install(ctx context.Context, h *recipe.HookContext) error {
	if err := h.RequireStage(); err != nil {
		return err
	}
	h = h.WithEnv(buildconf.RenderEnv(scalfmmEnv(h.Spec))...)
	if err := h.CMake(ctx, "spack-build", scalfmmConfig(h.Spec)); err != nil {
		return err
	}
	if err := h.Make(ctx, "spack-build"); err != nil {
		return err
	}
	return h.Make(ctx, "spack-build", "install")
}

func scalfmmConfig(s *spec.Spec) buildconf.Config {
	cfg := buildconf.New(
		"BUILD_SHARED_LIBS", "ON",
		"SCALFMM_USE_BLAS", "ON",
		"SCALFMM_USE_FFT", buildconf.OnOff(s.Enabled("fftw")),
		"SCALFMM_USE_STARPU", buildconf.OnOff(s.Enabled("starpu")),
		"SCALFMM_USE_MPI", buildconf.OnOff(s.Enabled("mpi")),
	)
	if !s.Enabled("mkl") {
		cfg = cfg.Set("BLAS_DIR", prefixOf(s, "blas")).Set("LAPACK_DIR", prefixOf(s, "lapack"))
	}
	return cfg
}

func scalfmmEnv(s *spec.Spec) buildconf.Config {
	var env buildconf.Config
	if !s.Enabled("mkl") && compilerIs(s, "gcc") {
		env = env.Set("LDFLAGS", "-lgfortran")
	}
	return env
}
