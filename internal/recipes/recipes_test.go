package recipes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morse-hpc/hpkg/internal/buildconf"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/semver"
	"github.com/morse-hpc/hpkg/internal/spec"
	"github.com/morse-hpc/hpkg/internal/variant"
)

type nodeOpt func(p *spec.Params)

func withVariants(kv ...string) nodeOpt {
	return func(p *spec.Params) {
		for i := 0; i+1 < len(kv); i += 2 {
			p.Variants = p.Variants.With(kv[i], kv[i+1])
		}
	}
}

func withProvides(v ...string) nodeOpt {
	return func(p *spec.Params) { p.Provides = v }
}

func withCaps(caps map[string]string) nodeOpt {
	return func(p *spec.Params) {
		p.Capabilities = func(string) map[string]string { return caps }
	}
}

func withDeps(deps ...*spec.Spec) nodeOpt {
	return func(p *spec.Params) { p.Deps = deps }
}

func withCompiler(name string) nodeOpt {
	return func(p *spec.Params) { p.Compiler = spec.Compiler{Name: name} }
}

// node builds a resolved spec installed under /opt/<name>.
func node(name, version string, opts ...nodeOpt) *spec.Spec {
	p := spec.Params{
		Name:     name,
		Version:  semver.MustParseVersion(version),
		Compiler: spec.Compiler{Name: "gcc"},
		Prefix:   func(*spec.Spec) string { return "/opt/" + name },
	}
	for _, o := range opts {
		o(&p)
	}
	return spec.New(p)
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.True(t, reg.Sealed())

	for _, name := range []string{
		"netlib-blas", "scalfmm", "parsec", "maphys",
		"openblas", "mkl", "essl", "netlib-lapack", "scalapack",
		"openmpi", "mpich", "cmake", "hwloc", "papi", "fftw", "starpu",
		"metis", "scotch", "pastix", "mumps",
	} {
		assert.True(t, reg.Known(name), name)
	}

	assert.Equal(t, []string{"openblas", "mkl", "essl", "netlib-blas"}, reg.Providers("blas"))
	assert.Equal(t, []string{"openblas", "mkl", "essl", "netlib-lapack"}, reg.Providers("lapack"))
	assert.Equal(t, []string{"openmpi", "mpich"}, reg.Providers("mpi"))
	assert.Equal(t, []string{"blas", "lapack", "mpi"}, reg.Virtuals())
}

// publishedChecksums are the archive digests the upstream package recipes
// publish. Archives without a known digest carry none.
var publishedChecksums = map[string]string{
	"http://www.netlib.org/lapack/lapack-3.5.0.tgz":                             "b1d3e3e425b2e44a06760ff173104bdf",
	"https://gforge.inria.fr/frs/download.php/file/34672/SCALFMM-1.3-56.tar.gz": "666ba8fef226630a2c22df8f0f93ff9c",
	"http://icl.cs.utk.edu/projectsfiles/parsec/pubs/parsec-2b39da2e4087.tgz":   "14de60b5ae9cad93f9ba5a0c3c3918b0",
	"http://morse.gforge.inria.fr/maphys/maphys-0.9.4.1.tar.gz":                 "b735c3fc590239c8f725b46b5e7dd351",
	"http://morse.gforge.inria.fr/maphys/maphys-0.9.4.0.tar.gz":                 "a7d88a78675c97cf98a0c00216b17e43",
	"http://morse.gforge.inria.fr/maphys/maphys-0.9.3.tar.gz":                   "aa03c07c6a9c6337875fbd56bf499b1a",
}

func TestCatalogChecksums(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	for _, name := range reg.Names() {
		def, ok := reg.Definition(name)
		require.True(t, ok)
		for _, v := range def.Versions {
			if v.Fetch.Checksum == "" {
				continue
			}
			assert.Equal(t, publishedChecksums[v.Fetch.URL], v.Fetch.Checksum, "%s@%s", name, v.Version)
		}
	}
}

func TestNewRegistryExtraRecipes(t *testing.T) {
	dir := t.TempDir()
	src := "package \"mylib\" {\n  version \"1.0\" {}\n  depends_on \"blas\" {}\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mylib.hcl"), []byte(src), 0o644))

	reg, err := NewRegistry(dir)
	require.NoError(t, err)
	assert.True(t, reg.Known("mylib"))

	dup := filepath.Join(t.TempDir(), "dup.hcl")
	require.NoError(t, os.WriteFile(dup, []byte("package \"maphys\" {\n  version \"1.0\" {}\n}\n"), 0o644))
	_, err = NewRegistry(dup)
	assert.Error(t, err)
}

func TestGoRecipeDefinitions(t *testing.T) {
	for _, rc := range Go() {
		t.Run(rc.Definition().Name, func(t *testing.T) {
			assert.NoError(t, rc.Definition().Check())
		})
	}
}

func TestMaphysStrategy(t *testing.T) {
	rc := Maphys()
	defaults := rc.Definition().Defaults()

	tests := []struct {
		version string
		want    string
	}{
		{"0.9.3", "makefile"},
		{"0.9.4", "cmake"},
		{"0.9.4.0", "makefile"},
		{"0.9.4.1", "cmake"},
		{"trunk", "cmake"},
		{"src", "cmake"},
		{"exist", recipe.ExistingStrategy},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			s := node("maphys", tt.version, func(p *spec.Params) { p.Variants = defaults })
			st, err := rc.Strategy(s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, st.Name())
		})
	}

	t.Run("makefile builds are serialized", func(t *testing.T) {
		st, err := rc.Strategy(node("maphys", "0.9.4.0", func(p *spec.Params) { p.Variants = defaults }))
		require.NoError(t, err)
		assert.True(t, recipe.Serialized(st))
	})

	t.Run("existing installation exposes examples", func(t *testing.T) {
		st, err := rc.Strategy(node("maphys", "exist", func(p *spec.Params) { p.Variants = defaults }))
		require.NoError(t, err)
		ex, ok := st.(recipe.Existing)
		require.True(t, ok)
		assert.Equal(t, "MAPHYS_DIR", ex.Env)
		assert.Contains(t, ex.Dirs, "examples")
	})
}

func TestMaphysMultithreadedLapack(t *testing.T) {
	rc := Maphys()
	mt := rc.Definition().Defaults().With("blasmt", variant.True)

	openblas := node("openblas", "0.3.21", withVariants("mt", variant.True), withProvides("blas", "lapack"))
	essl := node("essl", "exist", withProvides("blas", "lapack"))
	mkl := node("mkl", "exist", withProvides("blas", "lapack"))

	tests := []struct {
		name    string
		version string
		dep     *spec.Spec
		wantErr bool
	}{
		{"openblas makefile", "0.9.3", openblas, true},
		{"openblas cmake", "0.9.4.1", openblas, true},
		{"essl makefile", "0.9.3", essl, false},
		{"essl cmake", "0.9.4.1", essl, true},
		{"mkl cmake", "0.9.4.1", mkl, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := node("maphys", tt.version, func(p *spec.Params) { p.Variants = mt }, withDeps(tt.dep))
			_, err := rc.Strategy(s)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, oerrors.ErrInvalidConfiguration)
		})
	}
}

// maphysGraph is maphys with mumps and pastix on openmpi and openblas.
func maphysGraph(t *testing.T, kv ...string) *spec.Spec {
	t.Helper()

	hwloc := node("hwloc", "2.9.1")
	openmpi := node("openmpi", "4.1.5", withProvides("mpi"), withDeps(hwloc), withCaps(map[string]string{
		"mpicc":  "/opt/openmpi/bin/mpicc",
		"mpif90": "/opt/openmpi/bin/mpif90",
	}))
	openblas := node("openblas", "0.3.21", withProvides("blas", "lapack"), withCaps(map[string]string{
		"cc_link": "-L/opt/openblas/lib -lopenblas",
		"fc_link": "-L/opt/openblas/lib -lopenblas",
	}))
	scotch := node("scotch", "6.0.4", withVariants("mpi", variant.True, "esmumps", variant.True), withDeps(openmpi),
		withCaps(map[string]string{"cc_link": "-L/opt/scotch/lib -lptesmumps"}))
	scalapack := node("scalapack", "2.0.2", withDeps(openmpi, openblas),
		withCaps(map[string]string{"cc_link": "-L/opt/scalapack/lib -lscalapack"}))
	mumps := node("mumps", "5.0.1",
		withVariants("mpi", variant.True, "blasmt", variant.False, "metis", variant.False, "scotch", variant.True),
		withDeps(openblas, openmpi, scalapack, scotch),
		withCaps(map[string]string{"mumpsprefix": "/opt/mumps", "fc_link": "-L/opt/mumps/lib -ldmumps"}))
	pastix := node("pastix", "5.2.3", withDeps(hwloc, scotch, openblas, openmpi),
		withCaps(map[string]string{"fc_link": "-L/opt/pastix/lib -lpastix"}))

	variants := Maphys().Definition().Defaults()
	for i := 0; i+1 < len(kv); i += 2 {
		variants = variants.With(kv[i], kv[i+1])
	}
	return node("maphys", "0.9.3", func(p *spec.Params) { p.Variants = variants },
		withDeps(openmpi, hwloc, scotch, openblas, pastix, mumps))
}

func TestMaphysMakeInc(t *testing.T) {
	cfg := maphysMakeInc(maphysGraph(t))

	get := func(key string) string {
		t.Helper()
		v, ok := cfg.Get(key)
		require.True(t, ok, key)
		return v
	}

	assert.Equal(t, "/opt/maphys", get("prefix"))
	assert.Equal(t, "/opt/openmpi/bin/mpicc -I/opt/openmpi/include", get("MPICC"))
	assert.Equal(t, "/opt/openmpi/bin/mpif90 -I/opt/openmpi/include -ffree-form -ffree-line-length-0", get("MPIFC"))
	// openmpi here exports no mpif77 wrapper
	assert.Equal(t, "mpif77 -I/opt/openmpi/include", get("MPIF77"))

	assert.Equal(t, "/opt/mumps", get("MUMPS_prefix"))
	assert.Equal(t,
		"-L/opt/mumps/lib -ldmumps -L/opt/scotch/lib -lptesmumps -L/opt/scalapack/lib -lscalapack -L/opt/openblas/lib -lopenblas -L/opt/openblas/lib -lopenblas",
		get("MUMPS_LIBS"))
	assert.Equal(t, "-I$(MUMPS_prefix)/include -DLIBMUMPS_USE_LIBSCOTCH", get("MUMPS_FCFLAGS"))
	assert.Equal(t, "/opt/pastix", get("PASTIX_topdir"))
	assert.Equal(t, "-L/opt/pastix/lib -lpastix", get("PASTIX_LIBS"))
	assert.Equal(t, "/opt/scotch", get("SCOTCH_prefix"))
	assert.Equal(t, "-L/opt/openblas/lib -lopenblas -L/opt/openblas/lib -lopenblas", get("DALGEBRA_SEQUENTIAL_LIBS"))
	assert.Equal(t, "-O3", get("FFLAGS"))
	assert.Equal(t, "/opt/hwloc", get("HWLOC_prefix"))

	_, ok := cfg.Get("THREAD_FCFLAGS")
	assert.False(t, ok)
	_, ok = cfg.Get("LMKLPATH")
	assert.False(t, ok)
}

func TestMaphysMakeIncVariants(t *testing.T) {
	cfg := maphysMakeInc(maphysGraph(t, "mumps", variant.False, "debug", variant.True))

	libs, _ := cfg.Get("MUMPS_LIBS")
	assert.Empty(t, libs)
	flags, _ := cfg.Get("FFLAGS")
	assert.Equal(t, "-g3 -O0 -Wall -fcheck=bounds -fbacktrace", flags)

	rendered := buildconf.RenderMakefile(cfg)
	assert.Contains(t, rendered, "MUMPS_LIBS :=\n")
	assert.True(t, strings.HasPrefix(rendered, "prefix := /opt/maphys\n"))
}

func TestMaphysCMakeConfig(t *testing.T) {
	cfg := maphysCMakeConfig(maphysGraph(t, "examples", variant.False, "debug", variant.True))

	want := []buildconf.Entry{
		{Key: "MAPHYS_BUILD_EXAMPLES", Value: "OFF"},
		{Key: "MAPHYS_BUILD_TESTS", Value: "OFF"},
		{Key: "CMAKE_BUILD_TYPE:STRING", Value: "Debug"},
		{Key: "CMAKE_C_FLAGS", Value: "-g3 -O0 -Wall"},
		{Key: "CMAKE_Fortran_FLAGS", Value: "-g3 -O0 -Wall -fcheck=bounds -fbacktrace"},
		{Key: "BLAS_LIBRARIES", Value: "-L/opt/openblas/lib -lopenblas"},
		{Key: "BLAS_COMPILER_FLAGS", Value: ""},
		{Key: "LAPACK_LIBRARIES", Value: "-L/opt/openblas/lib -lopenblas"},
	}
	assert.Equal(t, want, cfg.Entries())
}

func TestMaphysCMakeInstall(t *testing.T) {
	s := maphysGraph(t)
	stage := t.TempDir()
	runner := &recordingRunner{}
	h := &recipe.HookContext{Spec: s, Prefix: "/opt/maphys", Stage: stage, Jobs: 4, Runner: runner}

	require.NoError(t, maphysCMake{}.Install(context.Background(), h))
	require.Len(t, runner.cmds, 3)
	assert.Equal(t, "cmake", runner.cmds[0].Name)
	assert.Contains(t, runner.cmds[0].Args, "-DMAPHYS_BUILD_EXAMPLES=ON")
	assert.Contains(t, runner.cmds[0].Args, "-DCMAKE_INSTALL_PREFIX:PATH=/opt/maphys")
	assert.Contains(t, runner.cmds[0].Args, "-Wno-dev")
	assert.Equal(t, filepath.Join(stage, "spack-build"), runner.cmds[0].Dir)
	assert.Equal(t, "make -j4", runner.cmds[1].String())
	assert.Equal(t, "make -j4 install", runner.cmds[2].String())
}

func TestMaphysMakefileSetup(t *testing.T) {
	s := maphysGraph(t)
	stage := t.TempDir()
	h := &recipe.HookContext{Spec: s, Prefix: "/opt/maphys", Stage: stage, Jobs: 1, Runner: &recordingRunner{}}

	require.NoError(t, maphysMakefile{}.Setup(context.Background(), h))
	data, err := os.ReadFile(filepath.Join(stage, "Makefile.inc"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "include Makefile.inc.example\nprefix := /opt/maphys\n"))
	assert.Contains(t, string(data), "HWLOC_prefix := /opt/hwloc\n")
}

func TestScalfmm(t *testing.T) {
	openblas := node("openblas", "0.3.21", withProvides("blas", "lapack"))

	tests := []struct {
		name    string
		s       *spec.Spec
		want    []buildconf.Entry
		wantEnv []string
	}{
		{
			name: "defaults",
			s:    node("scalfmm", "1.3-56", func(p *spec.Params) { p.Variants = Scalfmm().Definition().Defaults() }, withDeps(openblas)),
			want: []buildconf.Entry{
				{Key: "BUILD_SHARED_LIBS", Value: "ON"},
				{Key: "SCALFMM_USE_BLAS", Value: "ON"},
				{Key: "SCALFMM_USE_FFT", Value: "OFF"},
				{Key: "SCALFMM_USE_STARPU", Value: "OFF"},
				{Key: "SCALFMM_USE_MPI", Value: "OFF"},
				{Key: "BLAS_DIR", Value: "/opt/openblas"},
				{Key: "LAPACK_DIR", Value: "/opt/openblas"},
			},
			wantEnv: []string{"LDFLAGS=-lgfortran"},
		},
		{
			name: "mkl with intel",
			s: node("scalfmm", "master", withCompiler("intel"),
				withVariants("fftw", variant.True, "mkl", variant.True, "mpi", variant.True, "starpu", variant.False)),
			want: []buildconf.Entry{
				{Key: "BUILD_SHARED_LIBS", Value: "ON"},
				{Key: "SCALFMM_USE_BLAS", Value: "ON"},
				{Key: "SCALFMM_USE_FFT", Value: "ON"},
				{Key: "SCALFMM_USE_STARPU", Value: "OFF"},
				{Key: "SCALFMM_USE_MPI", Value: "ON"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scalfmmConfig(tt.s).Entries())
			env := buildconf.RenderEnv(scalfmmEnv(tt.s))
			if tt.wantEnv == nil {
				assert.Empty(t, env)
				return
			}
			assert.Equal(t, tt.wantEnv, env)
		})
	}
}

func TestScalfmmInstallEnv(t *testing.T) {
	openblas := node("openblas", "0.3.21", withProvides("blas", "lapack"))
	s := node("scalfmm", "1.3-56", func(p *spec.Params) { p.Variants = Scalfmm().Definition().Defaults() }, withDeps(openblas))
	runner := &recordingRunner{}
	h := &recipe.HookContext{Spec: s, Prefix: "/opt/scalfmm", Stage: t.TempDir(), Jobs: 2, Runner: runner}

	require.NoError(t, scalfmmCMake{}.Install(context.Background(), h))
	require.Len(t, runner.cmds, 3)
	for _, c := range runner.cmds {
		assert.Equal(t, []string{"LDFLAGS=-lgfortran"}, c.Env)
	}
	assert.Empty(t, h.Env, "the caller's context is not modified")
}

func TestParsec(t *testing.T) {
	rc := Parsec()
	s := node("parsec", "last-rel", withVariants("mpi", variant.True, "papi", variant.False, "shared", variant.True, "idx64", variant.False, "dplasma", variant.True))

	st, err := rc.Strategy(s)
	require.NoError(t, err)
	assert.Equal(t, "cmake", st.Name())

	assert.Equal(t, []buildconf.Entry{
		{Key: "BUILD_SHARED_LIBS", Value: "ON"},
		{Key: "BUILD_64bits", Value: "OFF"},
		{Key: "BUILD_DPLASMA", Value: "ON"},
		{Key: "DAGUE_WITH_DEVEL_HEADERS", Value: "ON"},
	}, parsecConfig(s).Entries())

	st, err = rc.Strategy(node("parsec", "exist"))
	require.NoError(t, err)
	assert.Equal(t, recipe.Existing{Env: "PARSEC_DIR", Dirs: []string{"bin", "include", "lib"}}, st)
}

func TestNetlibBlas(t *testing.T) {
	rc := NetlibBlas()
	assert.True(t, rc.Definition().Serialize)

	gcc := netlibMakeInc(node("netlib-blas", "3.5.0"))
	opts, _ := gcc.Get("OPTS")
	assert.Equal(t, "-O2 -frecursive -fPIC", opts)

	icc := netlibMakeInc(node("netlib-blas", "3.5.0", withCompiler("icc")))
	cflags, _ := icc.Get("CFLAGS")
	assert.Equal(t, "-O3 -shared -fpic", cflags)

	clang := netlibMakeInc(node("netlib-blas", "3.5.0", withCompiler("clang")))
	assert.Equal(t, 3, clang.Len())

	stage := t.TempDir()
	h := &recipe.HookContext{Spec: node("netlib-blas", "3.5.0"), Stage: stage, Runner: &recordingRunner{}}
	st, err := rc.Strategy(h.Spec)
	require.NoError(t, err)
	patcher, ok := st.(recipe.Patcher)
	require.True(t, ok)
	require.NoError(t, patcher.Patch(context.Background(), h))

	data, err := os.ReadFile(filepath.Join(stage, "make.inc"))
	require.NoError(t, err)
	assert.Equal(t, "include make.inc.example\nFORTRAN := f90\nLOADER := f90\nCC := cc\nOPTS := -O2 -frecursive -fPIC\nCFLAGS := -O3 -fPIC\n", string(data))
}

func TestCatalogStrategies(t *testing.T) {
	cat, err := Catalog()
	require.NoError(t, err)

	for _, rc := range cat {
		def := rc.Definition()
		t.Run(def.Name, func(t *testing.T) {
			for _, v := range def.Versions {
				s := node(def.Name, v.Version.String(), func(p *spec.Params) { p.Variants = def.Defaults() })
				st, err := rc.Strategy(s)
				require.NoError(t, err, v.Version.String())
				if v.Fetch.Kind == recipe.FetchExternal {
					assert.Equal(t, recipe.ExistingStrategy, st.Name())
				} else {
					assert.Equal(t, recipe.ScriptStrategy, st.Name())
				}
			}
		})
	}
}
