package recipes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/viant/afs"

	"github.com/morse-hpc/hpkg/internal/buildconf"
	"github.com/morse-hpc/hpkg/internal/constraint"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/semver"
	"github.com/morse-hpc/hpkg/internal/spec"
	"github.com/morse-hpc/hpkg/internal/variant"
)

const maphysSVN = "https://scm.gforge.inria.fr/anonscm/svn/maphys/"

var (
	maphysOldReleases = semver.MustParseRange(":0.9.3")

	mtLapackMakefile = constraint.MustParse("^mkl | ^essl")
	mtLapackCMake    = constraint.MustParse("^mkl")
)

// Maphys is the massively parallel hybrid solver.
func Maphys() recipe.Recipe {
	return maphys{base{&recipe.Definition{
		Name:        "maphys",
		Homepage:    "https://project.inria.fr/maphys/",
		Description: "Massively Parallel Hybrid Solver",
		Versions: []recipe.VersionDecl{
			recipe.NewVersion("trunk", recipe.SVN(maphysSVN+"trunk")),
			recipe.NewVersion("0.9.4.1", recipe.Archive("http://morse.gforge.inria.fr/maphys/maphys-0.9.4.1.tar.gz", "b735c3fc590239c8f725b46b5e7dd351")),
			recipe.NewVersion("0.9.4.0", recipe.Archive("http://morse.gforge.inria.fr/maphys/maphys-0.9.4.0.tar.gz", "a7d88a78675c97cf98a0c00216b17e43")),
			recipe.NewVersion("0.9.4", recipe.Archive("http://morse.gforge.inria.fr/maphys/maphys-0.9.4.1.tar.gz", "b735c3fc590239c8f725b46b5e7dd351")),
			recipe.NewVersion("0.9.3", recipe.Archive("http://morse.gforge.inria.fr/maphys/maphys-0.9.3.tar.gz", "aa03c07c6a9c6337875fbd56bf499b1a")).Prefer(),
			recipe.NewVersion("exist", recipe.External("MAPHYS_DIR")),
			recipe.NewVersion("src", recipe.Fetch{}),
		},
		Variants: []variant.Definition{
			variant.Bool("debug", false, "Enable debug symbols"),
			variant.Bool("blasmt", false, "Use the MPI+Threads version, a multithreaded BLAS/LAPACK is required (MKL, ESSL, OpenBLAS)"),
			variant.Bool("mumps", true, "Enable MUMPS direct solver"),
			variant.Bool("pastix", true, "Enable PASTIX direct solver"),
			variant.Bool("examples", true, "Build and install the example executables"),
		},
		Edges: []recipe.Edge{
			recipe.DependsOn("mpi", ""),
			recipe.DependsOn("hwloc", ""),
			recipe.DependsOn("scotch+mpi+esmumps", "+mumps"),
			recipe.DependsOn("scotch+mpi~esmumps", "~mumps"),
			recipe.DependsOn("blas", ""),
			recipe.DependsOn("lapack", ""),
			recipe.DependsOn("pastix+mpi~metis", "+pastix"),
			recipe.DependsOn("pastix+mpi+blasmt~metis", "+pastix+blasmt"),
			recipe.DependsOn("mumps+mpi", "+mumps"),
			recipe.DependsOn("mumps+mpi+blasmt", "+mumps+blasmt"),
		},
		Invalid: []recipe.Rule{{
			When:    constraint.MustParse("~mumps~pastix"),
			Message: "maphys needs at least one direct solver, enable +mumps or +pastix",
		}},
		Requires: []recipe.Requirement{{
			When:    constraint.MustParse("+blasmt"),
			Require: constraint.MustParse("^mkl | ^essl | ^openblas+mt"),
			Message: "only ^openblas+mt, ^mkl and ^essl provide a multithreaded blas",
		}},
	}}}
}

type maphys struct{ base }

func (r maphys) Strategy(s constraint.Subject) (recipe.Strategy, error) {
	if st, ok := recipe.ExistingFor(r.def, s, r.existingDirs(s)...); ok {
		return st, nil
	}
	blasmt := variantOn(s, "blasmt")
	if maphysMakefileRelease(s.PackageVersion()) {
		if blasmt && !mtLapackMakefile.Eval(s) {
			return nil, &oerrors.InvalidConfigurationError{
				PackageName: s.PackageName(),
				Reason:      "only ^mkl and ^essl provide a multithreaded lapack",
			}
		}
		return maphysMakefile{}, nil
	}
	if blasmt && !mtLapackCMake.Eval(s) {
		return nil, &oerrors.InvalidConfigurationError{
			PackageName: s.PackageName(),
			Reason:      "only ^mkl provides a multithreaded lapack",
		}
	}
	return maphysCMake{}, nil
}

// maphysMakefileRelease reports whether v only ships the Makefile.inc build:
// 0.9.4.0 and older releases. 0.9.4 ships the 0.9.4.1 sources and compares
// equal to 0.9.4.0, so the two are told apart by their text.
func maphysMakefileRelease(v semver.Version) bool {
	return v.String() == "0.9.4.0" || maphysOldReleases.Contains(v)
}

func (maphys) existingDirs(s constraint.Subject) []string {
	if variantOn(s, "examples") {
		return []string{"examples"}
	}
	return nil
}

func variantOn(s constraint.Subject, name string) bool {
	v, _ := s.VariantValue(name)
	return v == variant.True
}

// maphysCMake drives the CMake build of recent releases and of trunk.
type maphysCMake struct{}

func (maphysCMake) Name() string { return "cmake" }

func (maphysCMake) Install(ctx context.Context, h *recipe.HookContext) error {
	if err := h.RequireStage(); err != nil {
		return err
	}
	err := h.CMake(ctx, "spack-build", maphysCMakeConfig(h.Spec),
		"-Wno-dev",
		"-DCMAKE_COLOR_MAKEFILE:BOOL=ON",
		"-DCMAKE_VERBOSE_MAKEFILE:BOOL=ON",
	)
	if err != nil {
		return err
	}
	if err := h.Make(ctx, "spack-build"); err != nil {
		return err
	}
	return h.Make(ctx, "spack-build", "install")
}

func maphysCMakeConfig(s *spec.Spec) buildconf.Config {
	examples := s.Enabled("examples")
	cfg := buildconf.New(
		"MAPHYS_BUILD_EXAMPLES", buildconf.OnOff(examples),
		"MAPHYS_BUILD_TESTS", buildconf.OnOff(examples),
	)
	if s.Enabled("debug") {
		cflags, fflags := "-g -O0", "-g -O0"
		switch {
		case compilerIs(s, "gcc"):
			cflags, fflags = "-g3 -O0 -Wall", "-g3 -O0 -Wall -fcheck=bounds -fbacktrace"
		case compilerIs(s, "intel"):
			cflags = "-g3 -O0 -w3 -diag-disable:remark -check bounds -traceback"
			fflags = cflags
		}
		cfg = cfg.
			Set("CMAKE_BUILD_TYPE:STRING", "Debug").
			Set("CMAKE_C_FLAGS", cflags).
			Set("CMAKE_Fortran_FLAGS", fflags)
	}

	blasLibs := capOr(s, "blas", "cc_link", "")
	lapackLibs := capOr(s, "lapack", "cc_link", "")
	if s.Enabled("blasmt") {
		cfg = cfg.Set("MAPHYS_BLASMT", "ON")
		blasLibs = capOr(s, "blas", "cc_link_mt", blasLibs)
		lapackLibs = capOr(s, "lapack", "cc_link_mt", lapackLibs)
	}
	return cfg.
		Set("BLAS_LIBRARIES", blasLibs).
		Set("BLAS_COMPILER_FLAGS", capOr(s, "blas", "cc_flags", "")).
		Set("LAPACK_LIBRARIES", lapackLibs)
}

// maphysMakefile drives the Makefile.inc build of the older releases. Its
// install target cannot run in parallel.
type maphysMakefile struct{}

func (maphysMakefile) Name() string    { return "makefile" }
func (maphysMakefile) Serialize() bool { return true }

func (maphysMakefile) Setup(ctx context.Context, h *recipe.HookContext) error {
	if err := h.RequireStage(); err != nil {
		return err
	}
	inc := "include Makefile.inc.example\n" + buildconf.RenderMakefile(maphysMakeInc(h.Spec))
	return h.WriteFile("Makefile.inc", []byte(inc))
}

func (maphysMakefile) Install(ctx context.Context, h *recipe.HookContext) error {
	if err := h.Make(ctx, ""); err != nil {
		return err
	}
	examples := h.Spec.Enabled("examples")
	if examples {
		if err := h.Make(ctx, "", "examples"); err != nil {
			return err
		}
	}
	if err := h.MakeSerial(ctx, "", "install"); err != nil {
		return err
	}
	if !examples {
		return nil
	}
	// examples are not installed by the makefiles
	dst := filepath.Join(h.Prefix, "examples")
	if err := os.MkdirAll(h.Prefix, 0o755); err != nil {
		return err
	}
	if err := afs.New().Copy(ctx, h.Path("examples"), dst); err != nil {
		return fmt.Errorf("installing examples: %w", err)
	}
	return nil
}

func maphysMakeInc(s *spec.Spec) buildconf.Config {
	cfg := buildconf.New("prefix", s.Prefix())

	mpiInclude := "-I" + filepath.Join(prefixOf(s, "mpi"), "include")
	fcExtra := "-ffree-form -ffree-line-length-0"
	if compilerIs(s, "intel") {
		fcExtra = ""
	}
	cfg = cfg.
		Set("MPIFC", joinNonEmpty(capOr(s, "mpi", "mpif90", "mpif90"), mpiInclude, fcExtra)).
		Set("MPICC", joinNonEmpty(capOr(s, "mpi", "mpicc", "mpicc"), mpiInclude)).
		Set("MPIF77", joinNonEmpty(capOr(s, "mpi", "mpif77", "mpif77"), mpiInclude))

	blasmt := s.Enabled("blasmt")
	mkl := has(s, "mkl")
	blasLibs := capOr(s, "blas", "fc_link", "")
	lapackLibs := capOr(s, "lapack", "fc_link", "")
	if blasmt {
		blasLibs = capOr(s, "blas", "fc_link_mt", blasLibs)
		lapackLibs = capOr(s, "lapack", "fc_link_mt", lapackLibs)
	}

	if s.Enabled("mumps") {
		cfg = cfg.
			Set("MUMPS_prefix", capOr(s, "mumps", "mumpsprefix", prefixOf(s, "mumps"))).
			Set("MUMPS_LIBS", maphysMumpsLibs(s, blasmt)).
			Set("MUMPS_FCFLAGS", "-I$(MUMPS_prefix)/include")
		if on, _ := s.VariantOn("mumps", "scotch"); on == variant.True {
			cfg = cfg.Append("MUMPS_FCFLAGS", "-DLIBMUMPS_USE_LIBSCOTCH")
		}
	} else {
		cfg = cfg.Set("MUMPS_LIBS", "").Set("MUMPS_FCFLAGS", "")
	}

	if s.Enabled("pastix") {
		cfg = cfg.
			Set("PASTIX_topdir", prefixOf(s, "pastix")).
			Set("PASTIX_FCFLAGS", "-DHAVE_LIBPASTIX -I$(PASTIX_topdir)/include").
			Set("PASTIX_LIBS", capOr(s, "pastix", "fc_link", "-L$(PASTIX_topdir)/lib -lpastix"))
	} else {
		cfg = cfg.Set("PASTIX_FCFLAGS", "").Set("PASTIX_LIBS", "")
	}

	cfg = cfg.
		Set("METIS_CFLAGS", "").
		Set("METIS_FCFLAGS", "").
		Set("METIS_LIBS", "").
		Set("SCOTCH_prefix", prefixOf(s, "scotch")).
		Set("SCOTCH_LIBS", capOr(s, "scotch", "cc_link", ""))

	if blasmt {
		cfg = cfg.
			Set("THREAD_FCFLAGS", "-DMULTITHREAD_VERSION -fopenmp").
			Set("THREAD_LDFLAGS", "-fopenmp")
	}
	if mkl {
		cfg = cfg.Set("LMKLPATH", filepath.Join(prefixOf(s, "blas"), "lib"))
	}
	cfg = cfg.
		Set("DALGEBRA_PARALLEL_LIBS", joinNonEmpty(lapackLibs, blasLibs)).
		Set("DALGEBRA_SEQUENTIAL_LIBS", joinNonEmpty(lapackLibs, blasLibs))

	flags := "-O3"
	if s.Enabled("debug") {
		switch {
		case compilerIs(s, "gcc"):
			flags = "-g3 -O0 -Wall -fcheck=bounds -fbacktrace"
		case compilerIs(s, "intel"):
			flags = "-g3 -O0 -w3 -diag-disable:remark -check bounds -traceback"
		default:
			flags = "-g -O0"
		}
	}
	if mkl {
		flags += " -m64 -I${MKLROOT}/include"
		cfg = cfg.Set("COMPIL_CFLAGS", "-DAdd_ -m64 -I${MKLROOT}/include")
	}

	return cfg.
		Set("FFLAGS", flags).
		Set("FCFLAGS", flags).
		Set("HWLOC_prefix", prefixOf(s, "hwloc")).
		Set("ALL_FCFLAGS", "$(FCFLAGS) -I$(abstopsrcdir)/include -I. $(ALGO_FCFLAGS) $(CHECK_FLAGS) $(THREAD_FCFLAGS)").
		Set("ALL_LDFLAGS", "$(MAPHYS_LIBS) $(THREAD_LDFLAGS) $(DALGEBRA_LIBS) $(PASTIX_LIBS) $(MUMPS_LIBS) $(METIS_LIBS) $(SCOTCH_LIBS) $(HWLOC_LIBS) $(LDFLAGS)")
}

// maphysMumpsLibs is the link line of MUMPS and of everything MUMPS was
// built against.
func maphysMumpsLibs(s *spec.Spec, blasmt bool) string {
	mumpsOn := func(name string) bool {
		v, _ := s.VariantOn("mumps", name)
		return v == variant.True
	}

	libs := []string{capOr(s, "mumps", "fc_link", "")}
	if mumpsOn("metis") {
		libs = append(libs, capOr(s, "metis", "cc_link", ""))
	}
	if mumpsOn("parmetis") {
		libs = append(libs, capOr(s, "parmetis", "cc_link", ""))
	}
	if mumpsOn("scotch") {
		libs = append(libs, capOr(s, "scotch", "cc_link", ""))
	}
	if mumpsOn("mpi") {
		libs = append(libs, capOr(s, "scalapack", "cc_link", ""), capOr(s, "blacs", "cc_link", ""))
	}
	lapack := capOr(s, "lapack", "fc_link", "")
	blas := capOr(s, "blas", "fc_link", "")
	if mumpsOn("blasmt") || blasmt {
		if mtLapackMakefile.Eval(s) {
			lapack = capOr(s, "lapack", "fc_link_mt", lapack)
		}
		blas = capOr(s, "blas", "fc_link_mt", blas)
	}
	libs = append(libs, lapack, blas)
	return joinNonEmpty(libs...)
}
