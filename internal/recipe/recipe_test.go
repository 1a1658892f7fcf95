package recipe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morse-hpc/hpkg/internal/constraint"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/semver"
	"github.com/morse-hpc/hpkg/internal/spec"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// recordingRunner records commands instead of running them.
type recordingRunner struct {
	mu   sync.Mutex
	cmds []Command
}

func (r *recordingRunner) Run(_ context.Context, c Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, c)
	return nil
}

type staticRecipe struct {
	def *Definition
}

func (r staticRecipe) Definition() *Definition { return r.def }
func (r staticRecipe) Strategy(constraint.Subject) (Strategy, error) {
	return nil, nil
}

func pkg(name string, mutate ...func(d *Definition)) Recipe {
	d := &Definition{Name: name, Versions: []VersionDecl{NewVersion("1.0", Fetch{})}}
	for _, m := range mutate {
		m(d)
	}
	return staticRecipe{def: d}
}

func TestParseEdge(t *testing.T) {
	e, err := ParseEdge("scotch+mpi~esmumps", "~mumps")
	require.NoError(t, err)
	assert.Equal(t, "scotch", e.Target)
	assert.Empty(t, e.Require.Name)
	assert.Equal(t, []variant.Assignment{
		{Name: "mpi", Value: variant.True},
		{Name: "esmumps", Value: variant.False},
	}, e.Require.Variants)
	assert.True(t, e.Guarded())
	assert.Equal(t, "scotch+mpi~esmumps when ~mumps", e.String())

	plain, err := ParseEdge("hwloc", "")
	require.NoError(t, err)
	assert.False(t, plain.Guarded())
	assert.Equal(t, "hwloc", plain.String())

	_, err = ParseEdge("+mpi", "")
	assert.ErrorContains(t, err, "missing package name")
	_, err = ParseEdge("pastix ^scotch", "")
	assert.ErrorContains(t, err, "nested")
}

func TestDefinitionCheck(t *testing.T) {
	valid := func(d *Definition) {
		d.Variants = []variant.Definition{variant.Bool("mpi", false, "")}
		d.Edges = []Edge{DependsOn("hwloc", "+mpi")}
	}

	tests := []struct {
		name    string
		mutate  func(d *Definition)
		wantErr string
	}{
		{name: "valid", mutate: valid},
		{name: "bad name", mutate: func(d *Definition) { d.Name = "Bad Name" }, wantErr: "invalid package name"},
		{name: "no versions", mutate: func(d *Definition) { d.Versions = nil }, wantErr: "no versions"},
		{
			name: "duplicate version",
			mutate: func(d *Definition) {
				d.Versions = append(d.Versions, NewVersion("1.0", Fetch{}))
			},
			wantErr: "declared twice",
		},
		{
			name:    "external without env",
			mutate:  func(d *Definition) { d.Versions = append(d.Versions, NewVersion("exist", Fetch{Kind: FetchExternal})) },
			wantErr: "names no environment variable",
		},
		{
			name: "guard reads dependency",
			mutate: func(d *Definition) {
				d.Edges = []Edge{DependsOn("hwloc", "^mpi")}
			},
			wantErr: "reads dependency state",
		},
		{
			name: "guard reads undeclared variant",
			mutate: func(d *Definition) {
				d.Edges = []Edge{DependsOn("hwloc", "+cuda")}
			},
			wantErr: "undeclared variant",
		},
		{
			name: "guard value out of domain",
			mutate: func(d *Definition) {
				d.Variants = []variant.Definition{variant.Enum("int", "32", []string{"32", "64"}, "")}
				d.Edges = []Edge{DependsOn("hwloc", "int=16")}
			},
			wantErr: "not allowed",
		},
		{
			name:    "self dependency",
			mutate:  func(d *Definition) { d.Edges = []Edge{DependsOn("demo", "")} },
			wantErr: "depends on itself",
		},
		{
			name: "invalid rule reads dependency",
			mutate: func(d *Definition) {
				d.Invalid = []Rule{{When: constraint.MustParse("^mkl")}}
			},
			wantErr: "use a requires rule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := pkg("demo", tt.mutate).Definition()
			err := d.Check()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDefinitionQueries(t *testing.T) {
	d := pkg("openblas", func(d *Definition) {
		d.Versions = []VersionDecl{
			NewVersion("0.3.21", Archive("https://example.org/openblas.tgz", "abc")),
			NewVersion("exist", External("OPENBLAS_DIR")),
		}
		d.Variants = []variant.Definition{
			variant.Bool("mt", false, "multithreaded"),
			variant.Bool("lapack", true, "build lapack"),
		}
		d.Provides = []Provide{
			{Virtual: "blas"},
			{Virtual: "lapack", When: constraint.MustParse("+lapack")},
		}
		d.Exports = []Export{
			{Name: "libdir", Value: "{prefix}/lib"},
			{Name: "mtlib", Value: "/usr/lib/libopenblasp.so", When: constraint.MustParse("+mt")},
		}
	}).Definition()

	defaults := d.Defaults()
	assert.Equal(t, "+lapack~mt", defaults.String())
	assert.Equal(t, []string{"mt", "lapack"}, d.VariantNames())
	assert.Equal(t, []string{"blas", "lapack"}, d.VirtualNames())

	decl, ok := d.Version(semver.MustParseVersion("exist"))
	require.True(t, ok)
	assert.Equal(t, "existing installation from $OPENBLAS_DIR", decl.Fetch.String())

	s := spec.New(spec.Params{
		Name:     "openblas",
		Version:  semver.MustParseVersion("0.3.21"),
		Variants: defaults.With("lapack", variant.False),
	})
	assert.Equal(t, []string{"blas"}, d.ProvidesFor(s))
	assert.True(t, d.CanProvide("blas", s))
	assert.False(t, d.CanProvide("lapack", s))
	assert.Equal(t, map[string]string{"libdir": "/opt/ob/lib"}, d.Capabilities(s, "/opt/ob"))
}

func TestFetchString(t *testing.T) {
	assert.Equal(t, "git https://example.org/parsec.git branch master", Git("https://example.org/parsec.git", "master").String())
	assert.Equal(t, "svn https://example.org/svn/trunk", SVN("https://example.org/svn/trunk").String())
	assert.Equal(t, "https://example.org/a.tgz (123)", Archive("https://example.org/a.tgz", "123").String())
	assert.Equal(t, "staged sources", Fetch{}.String())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(
		pkg("openblas", func(d *Definition) {
			d.Variants = []variant.Definition{variant.Bool("mt", false, "")}
			d.Provides = []Provide{{Virtual: "blas"}, {Virtual: "lapack"}}
		}),
		pkg("mkl", func(d *Definition) {
			d.Provides = []Provide{{Virtual: "blas"}}
		}),
		pkg("app", func(d *Definition) {
			d.Edges = []Edge{DependsOn("blas+mt", "")}
		}),
	)

	assert.Equal(t, []string{"openblas", "mkl"}, r.Providers("blas"))
	assert.True(t, r.IsVirtual("blas"))
	assert.False(t, r.IsVirtual("openblas"))
	assert.True(t, r.Known("lapack"))
	assert.False(t, r.Known("essl"))
	assert.Equal(t, []string{"app", "mkl", "openblas"}, r.Names())
	assert.Equal(t, []string{"blas", "lapack"}, r.Virtuals())

	require.NoError(t, r.Seal())
	assert.True(t, r.Sealed())
	assert.Error(t, r.Register(pkg("late")))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(pkg("a")))
	err := r.Register(pkg("a"))
	assert.ErrorIs(t, err, oerrors.ErrValidation)
}

func TestRegistryValidate(t *testing.T) {
	t.Run("unknown target", func(t *testing.T) {
		r := NewRegistry()
		r.MustRegister(pkg("app", func(d *Definition) { d.Edges = []Edge{DependsOn("ghost", "")} }))

		err := r.Seal()
		require.Error(t, err)
		assert.ErrorIs(t, err, oerrors.ErrUnknownPackage)
		var upe *oerrors.UnknownPackageError
		require.ErrorAs(t, err, &upe)
		assert.Equal(t, "app", upe.RequiredBy)
		assert.False(t, r.Sealed())
	})

	t.Run("required variant missing on target", func(t *testing.T) {
		r := NewRegistry()
		r.MustRegister(
			pkg("scotch"),
			pkg("app", func(d *Definition) { d.Edges = []Edge{DependsOn("scotch+mpi", "")} }),
		)
		err := r.Validate()
		assert.ErrorIs(t, err, oerrors.ErrValidation)
		assert.ErrorContains(t, err, "has no variant")
	})
}

func TestExistingStrategy(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"bin", "lib"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "libparsec.so"), []byte("x"), 0o644))

	def := pkg("parsec", func(d *Definition) {
		d.Versions = append(d.Versions, NewVersion("exist", External("PARSEC_DIR")))
	}).Definition()

	s := spec.New(spec.Params{Name: "parsec", Version: semver.MustParseVersion("exist")})
	st, ok := ExistingFor(def, s)
	require.True(t, ok)
	assert.Equal(t, ExistingStrategy, st.Name())

	other := spec.New(spec.Params{Name: "parsec", Version: semver.MustParseVersion("1.0")})
	_, ok = ExistingFor(def, other)
	assert.False(t, ok)

	t.Run("links present directories", func(t *testing.T) {
		prefix := t.TempDir()
		h := &HookContext{
			Spec:   s,
			Prefix: prefix,
			Getenv: func(k string) (string, bool) { return root, k == "PARSEC_DIR" },
		}
		require.NoError(t, st.Install(context.Background(), h))

		target, err := os.Readlink(filepath.Join(prefix, "lib"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "lib"), target)
		_, err = os.Lstat(filepath.Join(prefix, "include"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("copies when links are unsupported", func(t *testing.T) {
		orig := symlink
		symlink = func(string, string) error { return &os.LinkError{Op: "symlink", Err: os.ErrPermission} }
		t.Cleanup(func() { symlink = orig })

		prefix := t.TempDir()
		h := &HookContext{
			Spec:   s,
			Prefix: prefix,
			Getenv: func(k string) (string, bool) { return root, k == "PARSEC_DIR" },
		}
		require.NoError(t, st.Install(context.Background(), h))

		fi, err := os.Lstat(filepath.Join(prefix, "lib"))
		require.NoError(t, err)
		assert.True(t, fi.IsDir(), "lib is a real directory, not a link")
		data, err := os.ReadFile(filepath.Join(prefix, "lib", "libparsec.so"))
		require.NoError(t, err)
		assert.Equal(t, "x", string(data))
	})

	t.Run("unset variable", func(t *testing.T) {
		h := &HookContext{
			Spec:   s,
			Prefix: t.TempDir(),
			Getenv: func(string) (string, bool) { return "", false },
		}
		err := st.Install(context.Background(), h)
		assert.ErrorContains(t, err, "PARSEC_DIR is not set")
	})

	t.Run("not a directory", func(t *testing.T) {
		h := &HookContext{
			Spec:   s,
			Prefix: t.TempDir(),
			Getenv: func(string) (string, bool) { return filepath.Join(root, "missing"), true },
		}
		err := st.Install(context.Background(), h)
		assert.ErrorContains(t, err, "is not a directory")
	})
}

func TestHookContextHelpers(t *testing.T) {
	runner := &recordingRunner{}
	stage := t.TempDir()
	h := &HookContext{
		Spec:   spec.New(spec.Params{Name: "scalfmm", Version: semver.MustParseVersion("1.3-56")}),
		Prefix: "/opt/scalfmm",
		Stage:  stage,
		Jobs:   4,
		Runner: runner,
	}
	ctx := context.Background()

	require.NoError(t, h.RequireStage())
	require.NoError(t, h.Make(ctx, "", "all"))
	require.NoError(t, h.MakeSerial(ctx, "build", "install"))
	require.NoError(t, h.WriteFile("make.inc", []byte("CC := cc\n")))

	require.Len(t, runner.cmds, 2)
	assert.Equal(t, "make -j4 all", runner.cmds[0].String())
	assert.Equal(t, stage, runner.cmds[0].Dir)
	assert.Equal(t, "make -j1 install", runner.cmds[1].String())
	assert.Equal(t, filepath.Join(stage, "build"), runner.cmds[1].Dir)

	data, err := os.ReadFile(filepath.Join(stage, "make.inc"))
	require.NoError(t, err)
	assert.Equal(t, "CC := cc\n", string(data))

	missing := &HookContext{Spec: h.Spec, Stage: filepath.Join(stage, "nope")}
	assert.ErrorContains(t, missing.RequireStage(), "not staged")
}

func TestStdCMakeConfig(t *testing.T) {
	cfg := StdCMakeConfig("/opt/x")
	v, ok := cfg.Get("CMAKE_INSTALL_PREFIX:PATH")
	require.True(t, ok)
	assert.Equal(t, "/opt/x", v)
	rpath, ok := cfg.Get("CMAKE_INSTALL_RPATH:STRING")
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(rpath, "/lib"))
}
