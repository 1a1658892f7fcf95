package concretize

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/graph"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/spec"
	"github.com/morse-hpc/hpkg/internal/testutil"
)

func testOptions(t *testing.T) Options {
	return Options{
		DefaultCompiler: spec.Compiler{Name: "gcc", Version: testutil.Version(t, "12.2.0")},
		Compilers: []spec.Compiler{
			{Name: "gcc", Version: testutil.Version(t, "9.4.0")},
			{Name: "gcc", Version: testutil.Version(t, "12.2.0")},
			{Name: "intel", Version: testutil.Version(t, "2021.1")},
		},
		Prefix: func(s *spec.Spec) string { return "/opt/" + s.Name() + "-" + s.ShortHash() },
	}
}

func solverRegistry(t *testing.T) *recipe.Registry {
	return testutil.Registry(t,
		testutil.Package("solver",
			testutil.Bool("mumps", true),
			testutil.Bool("pastix", false),
			testutil.Enum("int", "32", "32", "64"),
			testutil.DependsOn("mpi", ""),
			testutil.DependsOn("blas", ""),
			testutil.DependsOn("mumps", "+mumps"),
			testutil.DependsOn("pastix", "+pastix"),
			testutil.Invalid("~mumps~pastix", "at least one of mumps or pastix is required"),
		),
		testutil.Package("mumps", testutil.DependsOn("blas", ""), testutil.DependsOn("mpi", "")),
		testutil.Package("pastix", testutil.DependsOn("hwloc", "")),
		testutil.Package("openmpi", testutil.Provides("mpi", ""), testutil.DependsOn("hwloc", "")),
		testutil.Package("mpich", testutil.Bool("fortran", false), testutil.Provides("mpi", "")),
		testutil.Package("hwloc"),
		testutil.Package("openblas",
			testutil.Bool("mt", false),
			testutil.Provides("blas", ""),
			testutil.Export("libdir", "{prefix}/lib"),
		),
		testutil.Package("refblas", testutil.Provides("blas", "")),
	)
}

func resolve(t *testing.T, reg *recipe.Registry, args ...string) (*BuildGraph, error) {
	t.Helper()
	req, err := graph.ParseRequest(args...)
	require.NoError(t, err)
	return runRequest(t, reg, req)
}

func runRequest(t *testing.T, reg *recipe.Registry, req graph.Request) (*BuildGraph, error) {
	t.Helper()
	u, err := graph.Expand(context.Background(), reg, req)
	if err != nil {
		return nil, err
	}
	return New(reg, testOptions(t)).Concretize(context.Background(), u)
}

func TestConcretizeDefaults(t *testing.T) {
	g, err := resolve(t, solverRegistry(t), "solver")
	require.NoError(t, err)

	assert.Equal(t, []string{"hwloc", "openmpi", "openblas", "mumps", "solver"}, g.Names())
	assert.Equal(t, "solver", g.Root.Name())
	assert.Equal(t, "1.0", g.Root.Version().String())
	assert.Equal(t, "gcc@12.2.0", g.Root.Compiler().String())
	assert.True(t, g.Root.Enabled("mumps"))
	assert.False(t, g.Root.Enabled("pastix"))
	assert.Equal(t, "32", g.Root.Variant("int"))

	_, ok := g.Lookup("pastix")
	assert.False(t, ok, "guarded dependency stays out by default")

	mpi, ok := g.Root.Provider("mpi")
	require.True(t, ok)
	assert.Equal(t, "openmpi", mpi.Name())
	assert.Equal(t, []string{"mpi"}, mpi.Provides())

	hwloc, ok := g.Lookup("hwloc")
	require.True(t, ok)
	assert.Equal(t, []string{"mumps", "openmpi", "solver"}, hwloc.Ancestors())

	for _, s := range g.Specs {
		st, ok := g.Strategy(s)
		require.True(t, ok, s.Name())
		assert.Equal(t, testutil.FakeStrategy, st.Name())
		assert.Equal(t, testutil.FakeStrategy, s.Strategy())
		assert.Equal(t, "/opt/"+s.Name()+"-"+s.ShortHash(), s.Prefix())
	}
}

func TestConcretizeVariantEnablesDependency(t *testing.T) {
	reg := solverRegistry(t)

	g, err := resolve(t, reg, "solver", "+pastix")
	require.NoError(t, err)
	assert.Equal(t, []string{"hwloc", "openmpi", "openblas", "mumps", "pastix", "solver"}, g.Names())

	pastix, ok := g.Root.Dependency("pastix")
	require.True(t, ok)
	assert.Equal(t, []string{"solver"}, pastix.Ancestors())

	g, err = resolve(t, reg, "solver", "~mumps", "+pastix")
	require.NoError(t, err)
	_, ok = g.Lookup("mumps")
	assert.False(t, ok)
}

func TestConcretizeSharedDependencyOnce(t *testing.T) {
	g, err := resolve(t, solverRegistry(t), "solver")
	require.NoError(t, err)

	counts := map[string]int{}
	g.Root.Traverse(func(s *spec.Spec) { counts[s.Name()]++ })
	for name, n := range counts {
		assert.Equal(t, 1, n, name)
	}
	assert.Equal(t, len(counts), g.Len())

	mumps, ok := g.Lookup("mumps")
	require.True(t, ok)
	fromRoot, _ := g.Root.Provider("blas")
	fromMumps, _ := mumps.Provider("blas")
	assert.Same(t, fromRoot, fromMumps)
}

func TestConcretizeDeterministic(t *testing.T) {
	reg := solverRegistry(t)
	args := []string{"solver", "+pastix", "^openblas+mt"}

	first, err := resolve(t, reg, args...)
	require.NoError(t, err)
	second, err := resolve(t, reg, args...)
	require.NoError(t, err)

	a, err := yaml.Marshal(first.Root.Documents())
	require.NoError(t, err)
	b, err := yaml.Marshal(second.Root.Documents())
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.Root.Hash(), second.Root.Hash())
	assert.Equal(t, first.Names(), second.Names())
}

func TestConcretizeProviders(t *testing.T) {
	reg := solverRegistry(t)

	tests := []struct {
		name      string
		args      []string
		providers map[string][]string
		mpi       string
		blas      string
	}{
		{name: "first registered", args: []string{"solver"}, mpi: "openmpi", blas: "openblas"},
		{name: "named by the user", args: []string{"solver", "^mpich", "^refblas"}, mpi: "mpich", blas: "refblas"},
		{name: "preference", args: []string{"solver"}, providers: map[string][]string{"mpi": {"mpich"}}, mpi: "mpich", blas: "openblas"},
		{name: "virtual variant", args: []string{"solver", "^mpi+fortran"}, mpi: "mpich", blas: "openblas"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := graph.ParseRequest(tt.args...)
			require.NoError(t, err)
			req.Providers = tt.providers

			g, err := runRequest(t, reg, req)
			require.NoError(t, err)

			mpi, ok := g.Root.Provider("mpi")
			require.True(t, ok)
			assert.Equal(t, tt.mpi, mpi.Name())
			blas, ok := g.Root.Provider("blas")
			require.True(t, ok)
			assert.Equal(t, tt.blas, blas.Name())
		})
	}
}

func TestConcretizeSharesProviderPulledInLater(t *testing.T) {
	tests := []struct {
		name    string
		xEdge   string
		args    []string
		blas    string
		without string
	}{
		{name: "sibling needs openblas", args: []string{"app"}, blas: "openblas", without: "refblas"},
		{name: "sibling edge guarded off", xEdge: "+fast", args: []string{"app"}, blas: "refblas"},
		{name: "sibling edge guarded on", xEdge: "+fast", args: []string{"app", "^x+fast"}, blas: "openblas", without: "refblas"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := testutil.Registry(t,
				testutil.Package("app", testutil.DependsOn("blas", ""), testutil.DependsOn("x", "")),
				testutil.Package("x", testutil.Bool("fast", false), testutil.DependsOn("openblas", tt.xEdge)),
				testutil.Package("refblas", testutil.Provides("blas", "")),
				testutil.Package("openblas", testutil.Provides("blas", "")),
			)

			g, err := resolve(t, reg, tt.args...)
			require.NoError(t, err)

			blas, ok := g.Root.Provider("blas")
			require.True(t, ok)
			assert.Equal(t, tt.blas, blas.Name())
			if tt.without != "" {
				assert.NotContains(t, g.Names(), tt.without)
			}
		})
	}
}

func TestConcretizeDependencyVariantFromRequest(t *testing.T) {
	g, err := resolve(t, solverRegistry(t), "solver", "^openblas+mt")
	require.NoError(t, err)

	openblas, ok := g.Lookup("openblas")
	require.True(t, ok)
	assert.True(t, openblas.Enabled("mt"))

	v, ok := g.Root.VariantOn("blas", "mt")
	require.True(t, ok)
	assert.Equal(t, "true", v)

	libdir, ok := openblas.Capability("libdir")
	require.True(t, ok)
	assert.Equal(t, openblas.Prefix()+"/lib", libdir)
}

func TestConcretizeVersions(t *testing.T) {
	reg := testutil.Registry(t,
		testutil.Package("plain", testutil.Versions("1.0", "2.1", "2.0")),
		testutil.Package("preferred", testutil.Versions("3.0"), testutil.Preferred("2.5"), testutil.Versions("1.0")),
		testutil.Package("ext", testutil.Versions("1.0"), testutil.ExternalVersion("exist", "EXT_DIR")),
	)

	tests := []struct {
		request  string
		version  string
		external string
	}{
		{request: "plain", version: "2.1"},
		{request: "plain@2.0", version: "2.0"},
		{request: "plain@:2.0", version: "2.0"},
		{request: "preferred", version: "2.5"},
		{request: "preferred@3:", version: "3.0"},
		{request: "ext", version: "1.0"},
		{request: "ext@exist", version: "exist", external: "EXT_DIR"},
	}

	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			g, err := resolve(t, reg, tt.request)
			require.NoError(t, err)
			assert.Equal(t, tt.version, g.Root.Version().String())
			assert.Equal(t, tt.external, g.Root.External())
		})
	}
}

func TestConcretizeCompilers(t *testing.T) {
	reg := testutil.Registry(t,
		testutil.Package("app", testutil.DependsOn("lib", ""), testutil.DependsOn("mpi", "")),
		testutil.Package("lib"),
		testutil.Package("openmpi", testutil.Provides("mpi", "")),
	)

	tests := []struct {
		request string
		want    string
	}{
		{request: "app", want: "gcc@12.2.0"},
		{request: "app%gcc", want: "gcc@12.2.0"},
		{request: "app%gcc@9", want: "gcc@9.4.0"},
		{request: "app%intel", want: "intel@2021.1"},
		{request: "app%clang@15", want: "clang@15"},
	}

	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			g, err := resolve(t, reg, tt.request)
			require.NoError(t, err)
			for _, s := range g.Specs {
				assert.Equal(t, tt.want, s.Compiler().String(), s.Name())
			}
		})
	}

	g, err := resolve(t, reg, "app%intel", "^lib%gcc")
	require.NoError(t, err)
	lib, _ := g.Lookup("lib")
	assert.Equal(t, "gcc@12.2.0", lib.Compiler().String())
	mpi, _ := g.Lookup("openmpi")
	assert.Equal(t, "intel@2021.1", mpi.Compiler().String())
}

func TestConcretizeUnsatisfiable(t *testing.T) {
	reg := testutil.Registry(t,
		testutil.Package("app", testutil.DependsOn("lib@2:", ""), testutil.DependsOn("mid", "")),
		testutil.Package("mid", testutil.DependsOn("lib@:1", "")),
		testutil.Package("lib", testutil.Versions("1.0", "2.0")),

		testutil.Package("flags", testutil.DependsOn("feat+x", ""), testutil.DependsOn("other", "")),
		testutil.Package("other", testutil.DependsOn("feat~x", "")),
		testutil.Package("feat", testutil.Bool("x", false)),

		testutil.Package("tool", testutil.DependsOn("feat%gcc", "")),
		testutil.Package("needs", testutil.DependsOn("mpi@5:", "")),
		testutil.Package("openmpi", testutil.Provides("mpi", "")),
		testutil.Package("mpich", testutil.Provides("mpi", "")),
	)

	tests := []struct {
		name    string
		args    []string
		root    string
		sources []string
	}{
		{name: "version ranges", args: []string{"app"}, root: "app", sources: []string{"app", "mid"}},
		{name: "root version", args: []string{"lib@3"}, root: "lib", sources: []string{"request"}},
		{name: "variant values", args: []string{"flags"}, root: "flags", sources: []string{"other"}},
		{name: "compiler families", args: []string{"tool", "^feat%intel"}, root: "tool", sources: []string{"tool"}},
		{name: "compiler version", args: []string{"lib%gcc@:5"}, root: "lib", sources: []string{"request"}},
		{name: "no qualifying provider", args: []string{"needs"}, root: "needs"},
		{name: "dependency not in build", args: []string{"mid", "^feat"}, root: "mid", sources: []string{"request"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolve(t, reg, tt.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, oerrors.ErrUnsatisfiable)

			var ue *oerrors.UnsatisfiableError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tt.root, ue.Root)
			require.NotEmpty(t, ue.Conflicts)
			if tt.sources != nil {
				var got []string
				for _, c := range ue.Conflicts {
					got = append(got, c.Source)
				}
				assert.Equal(t, tt.sources, got)
			}
		})
	}
}

func TestConcretizeNoQualifyingProviderListsEach(t *testing.T) {
	reg := testutil.Registry(t,
		testutil.Package("needs", testutil.DependsOn("mpi@5:", "")),
		testutil.Package("openmpi", testutil.Provides("mpi", "")),
		testutil.Package("mpich", testutil.Provides("mpi", "")),
	)
	_, err := resolve(t, reg, "needs")

	var ue *oerrors.UnsatisfiableError
	require.ErrorAs(t, err, &ue)
	require.Len(t, ue.Conflicts, 2)
	assert.Equal(t, "openmpi", ue.Conflicts[0].Package)
	assert.Equal(t, "mpich", ue.Conflicts[1].Package)
	assert.Contains(t, ue.Conflicts[0].Reason, "@5:")
}

func TestConcretizeInvalidConfiguration(t *testing.T) {
	_, err := resolve(t, solverRegistry(t), "solver", "~mumps")
	require.Error(t, err)
	assert.ErrorIs(t, err, oerrors.ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "at least one of mumps or pastix is required")
}

func TestConcretizeRequiresRule(t *testing.T) {
	reg := testutil.Registry(t,
		testutil.Package("solver",
			testutil.Bool("blasmt", false),
			testutil.DependsOn("blas", ""),
			testutil.Requires("+blasmt", "^openblas+mt", "multithreaded blas required"),
		),
		testutil.Package("openblas", testutil.Bool("mt", false), testutil.Provides("blas", "")),
		testutil.Package("refblas", testutil.Provides("blas", "")),
	)

	tests := []struct {
		args []string
		ok   bool
	}{
		{args: []string{"solver"}, ok: true},
		{args: []string{"solver", "+blasmt", "^openblas+mt"}, ok: true},
		{args: []string{"solver", "+blasmt"}},
		{args: []string{"solver", "+blasmt", "^refblas"}},
	}

	for _, tt := range tests {
		_, err := resolve(t, reg, tt.args...)
		if tt.ok {
			assert.NoError(t, err, tt.args)
			continue
		}
		require.Error(t, err, tt.args)
		assert.ErrorIs(t, err, oerrors.ErrUnsatisfiable)
		assert.Contains(t, err.Error(), "multithreaded blas required")
	}
}

func TestConcretizeActiveGuardedCycle(t *testing.T) {
	reg := testutil.Registry(t,
		testutil.Package("a", testutil.DependsOn("b", "")),
		testutil.Package("b", testutil.Bool("back", false), testutil.DependsOn("a", "+back")),
	)

	g, err := resolve(t, reg, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, g.Names())

	_, err = resolve(t, reg, "a", "^b+back")
	require.Error(t, err)
	assert.ErrorIs(t, err, oerrors.ErrCyclicDependency)
	var ce *oerrors.CyclicDependencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"a", "b", "a"}, ce.Cycle)
}

func TestConcretizeStrategy(t *testing.T) {
	broken := testutil.Package("broken")
	broken.StrategyErr = errors.New("no build procedure for this configuration")
	typed := testutil.Package("typed")
	typed.StrategyErr = &oerrors.UnknownVariantError{PackageName: "typed", Variant: "x"}

	reg := testutil.Registry(t,
		broken, typed,
		testutil.Package("serial", testutil.Serialize()),
		testutil.Package("serialst", testutil.SerialStrategy()),
	)

	_, err := resolve(t, reg, "broken")
	assert.ErrorIs(t, err, oerrors.ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "no build procedure")

	_, err = resolve(t, reg, "typed")
	assert.ErrorIs(t, err, oerrors.ErrUnknownVariant)

	for _, name := range []string{"serial", "serialst"} {
		g, err := resolve(t, reg, name)
		require.NoError(t, err)
		assert.True(t, g.Root.Serialize(), name)
	}
}

func TestConcretizeCanceled(t *testing.T) {
	reg := solverRegistry(t)
	req, err := graph.ParseRequest("solver")
	require.NoError(t, err)
	u, err := graph.Expand(context.Background(), reg, req)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(reg, testOptions(t)).Concretize(ctx, u)
	assert.ErrorIs(t, err, context.Canceled)
}
