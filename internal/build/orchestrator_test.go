package build

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morse-hpc/hpkg/internal/concretize"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/graph"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/spec"
	"github.com/morse-hpc/hpkg/internal/store"
	"github.com/morse-hpc/hpkg/internal/testutil"
)

// env holds a store and a recorder shared by the recipes of a test.
type env struct {
	t     *testing.T
	store *store.Store
	rec   *testutil.Recorder
}

func newEnv(t *testing.T) *env {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	return &env{t: t, store: st, rec: &testutil.Recorder{}}
}

// recording returns an install hook that records its start and end.
func (e *env) recording(name string, fail error) testutil.Option {
	return testutil.OnInstall(func(ctx context.Context, h *recipe.HookContext) error {
		e.rec.Record("start:" + name)
		defer e.rec.Record("end:" + name)
		if _, err := os.Stat(h.Prefix); err != nil {
			return err
		}
		return fail
	})
}

func (e *env) graph(reg *recipe.Registry, args ...string) *concretize.BuildGraph {
	e.t.Helper()
	req, err := graph.ParseRequest(args...)
	require.NoError(e.t, err)
	u, err := graph.Expand(context.Background(), reg, req)
	require.NoError(e.t, err)
	g, err := concretize.New(reg, concretize.Options{
		DefaultCompiler: spec.Compiler{Name: "gcc"},
		Prefix:          e.store.Prefix,
	}).Concretize(context.Background(), u)
	require.NoError(e.t, err)
	return g
}

func statuses(r *Report) map[string]Status {
	out := map[string]Status{}
	for _, res := range r.Results {
		out[res.Spec.Name()] = res.Status
	}
	return out
}

func TestBuildInstallsInDependencyOrder(t *testing.T) {
	e := newEnv(t)
	reg := testutil.Registry(t,
		testutil.Package("app", testutil.DependsOn("a", ""), testutil.DependsOn("c", ""), e.recording("app", nil)),
		testutil.Package("a", testutil.DependsOn("b", ""), e.recording("a", nil)),
		testutil.Package("b", testutil.DependsOn("d", ""), e.recording("b", nil)),
		testutil.Package("c", testutil.DependsOn("d", ""), e.recording("c", nil)),
		testutil.Package("d", e.recording("d", nil)),
	)
	g := e.graph(reg, "app")

	report, err := New(e.store, Options{Workers: 4}).Build(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Equal(t, 5, report.Counts()[StatusInstalled])

	for _, sp := range g.Specs {
		start := e.rec.Index("start:" + sp.Name())
		require.GreaterOrEqual(t, start, 0, sp.Name())
		for _, d := range sp.Deps() {
			assert.Less(t, e.rec.Index("end:"+d.Name()), start, "%s built before its dependency %s", sp.Name(), d.Name())
		}
		assert.True(t, e.store.Installed(sp))
	}
}

func TestBuildSequentialFollowsGraphOrder(t *testing.T) {
	e := newEnv(t)
	reg := testutil.Registry(t,
		testutil.Package("app", testutil.DependsOn("a", ""), testutil.DependsOn("c", ""), e.recording("app", nil)),
		testutil.Package("a", testutil.DependsOn("b", ""), e.recording("a", nil)),
		testutil.Package("b", e.recording("b", nil)),
		testutil.Package("c", e.recording("c", nil)),
	)
	g := e.graph(reg, "app")

	_, err := New(e.store, Options{}).Build(context.Background(), g)
	require.NoError(t, err)

	var starts []string
	for _, ev := range e.rec.Events() {
		if len(ev) > 6 && ev[:6] == "start:" {
			starts = append(starts, ev[6:])
		}
	}
	assert.Equal(t, g.Names(), starts)
}

func TestBuildFailureIsolation(t *testing.T) {
	e := newEnv(t)
	boom := errors.New("boom")
	reg := testutil.Registry(t,
		testutil.Package("app", testutil.DependsOn("a", ""), testutil.DependsOn("c", ""), e.recording("app", nil)),
		testutil.Package("a", testutil.DependsOn("b", ""), e.recording("a", nil)),
		testutil.Package("b", e.recording("b", boom)),
		testutil.Package("c", e.recording("c", nil)),
	)
	g := e.graph(reg, "app")

	report, err := New(e.store, Options{Workers: 2}).Build(context.Background(), g)
	require.NoError(t, err)
	assert.True(t, report.Failed())

	assert.Equal(t, map[string]Status{
		"b":   StatusFailed,
		"a":   StatusPrereqFailed,
		"c":   StatusInstalled,
		"app": StatusPrereqFailed,
	}, statuses(report))

	b, ok := report.Result("b")
	require.True(t, ok)
	assert.Equal(t, recipe.HookInstall, b.Hook)
	assert.Equal(t, "HookFailure", b.Kind())
	var hf *oerrors.HookFailureError
	require.ErrorAs(t, b.Err, &hf)
	assert.Equal(t, "b", hf.PackageName)
	assert.ErrorIs(t, b.Err, boom)

	a, _ := report.Result("a")
	assert.Equal(t, b.Spec.Short(), a.Prerequisite)

	assert.Equal(t, -1, e.rec.Index("start:a"))
	assert.Equal(t, -1, e.rec.Index("start:app"))
	assert.NotEqual(t, -1, e.rec.Index("end:c"))

	require.Len(t, report.Errors(), 1)
	assert.False(t, e.store.Installed(b.Spec))
	c, _ := report.Result("c")
	assert.True(t, e.store.Installed(c.Spec))
}

func TestBuildRerunSkipsInstalled(t *testing.T) {
	e := newEnv(t)
	reg := testutil.Registry(t,
		testutil.Package("app", testutil.DependsOn("lib", ""), e.recording("app", nil)),
		testutil.Package("lib", e.recording("lib", nil)),
	)
	g := e.graph(reg, "app")
	o := New(e.store, Options{Workers: 2})

	first, err := o.Build(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Counts()[StatusInstalled])
	events := len(e.rec.Events())

	second, err := o.Build(context.Background(), e.graph(reg, "app"))
	require.NoError(t, err)
	assert.False(t, second.Failed())
	assert.Equal(t, map[string]Status{"app": StatusSkipped, "lib": StatusSkipped}, statuses(second))
	assert.Len(t, e.rec.Events(), events, "no hook runs on a re-run")
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestBuildSerializedRunsAlone(t *testing.T) {
	e := newEnv(t)
	var active, seen atomic.Int32
	hook := func(serial bool) testutil.Option {
		return testutil.OnInstall(func(ctx context.Context, h *recipe.HookContext) error {
			n := active.Add(1)
			defer active.Add(-1)
			if serial {
				seen.Store(n)
				assert.Equal(t, 1, h.Jobs)
			}
			time.Sleep(20 * time.Millisecond)
			return nil
		})
	}
	reg := testutil.Registry(t,
		testutil.Package("app",
			testutil.DependsOn("a", ""), testutil.DependsOn("b", ""), testutil.DependsOn("c", ""),
			hook(false)),
		testutil.Package("a", hook(false)),
		testutil.Package("b", testutil.Serialize(), hook(true)),
		testutil.Package("c", hook(false)),
	)
	g := e.graph(reg, "app")

	report, err := New(e.store, Options{Workers: 3, Jobs: 8}).Build(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Equal(t, int32(1), seen.Load())
}

func TestBuildTimeout(t *testing.T) {
	e := newEnv(t)
	reg := testutil.Registry(t,
		testutil.Package("slow", testutil.OnInstall(func(ctx context.Context, h *recipe.HookContext) error {
			<-ctx.Done()
			return ctx.Err()
		})),
	)
	g := e.graph(reg, "slow")

	report, err := New(e.store, Options{Timeout: 20 * time.Millisecond}).Build(context.Background(), g)
	require.NoError(t, err)

	res, ok := report.Result("slow")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, oerrors.ErrHookFailure)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestBuildCanceled(t *testing.T) {
	e := newEnv(t)
	reg := testutil.Registry(t,
		testutil.Package("app", testutil.DependsOn("lib", ""), e.recording("app", nil)),
		testutil.Package("lib", e.recording("lib", nil)),
	)
	g := e.graph(reg, "app")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := New(e.store, Options{}).Build(ctx, g)
	require.NoError(t, err)
	assert.True(t, report.Failed())
	assert.Empty(t, e.rec.Events())
	for _, res := range report.Results {
		assert.Equal(t, StatusFailed, res.Status, res.Spec.Name())
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
}

func TestPlan(t *testing.T) {
	e := newEnv(t)
	reg := testutil.Registry(t,
		testutil.Package("app", testutil.DependsOn("lib", "")),
		testutil.Package("lib"),
	)
	o := New(e.store, Options{})

	libGraph := e.graph(reg, "lib")
	_, err := o.Build(context.Background(), libGraph)
	require.NoError(t, err)

	steps := o.Plan(e.graph(reg, "app"))
	require.Len(t, steps, 2)
	assert.Equal(t, "lib", steps[0].Spec.Name())
	assert.Equal(t, ActionSkip, steps[0].Action)
	assert.Equal(t, "app", steps[1].Spec.Name())
	assert.Equal(t, ActionInstall, steps[1].Action)
	assert.Equal(t, testutil.FakeStrategy, steps[1].Strategy)
}

type fakeIndex struct {
	mu     sync.Mutex
	hashes []string
	runIDs map[string]bool
}

func (f *fakeIndex) Record(_ context.Context, sp *spec.Spec, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes = append(f.hashes, sp.Hash())
	if f.runIDs == nil {
		f.runIDs = map[string]bool{}
	}
	f.runIDs[runID] = true
	return nil
}

func TestBuildRecordsAndReportsProgress(t *testing.T) {
	e := newEnv(t)
	reg := testutil.Registry(t,
		testutil.Package("app", testutil.DependsOn("lib", "")),
		testutil.Package("lib"),
	)
	g := e.graph(reg, "app")
	idx := &fakeIndex{}
	var progress []string

	report, err := New(e.store, Options{
		Index:    idx,
		Progress: func(r Result) { progress = append(progress, r.Spec.Name()+":"+string(r.Status)) },
	}).Build(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, []string{"lib:installed", "app:installed"}, progress)
	assert.Len(t, idx.hashes, 2)
	assert.True(t, idx.runIDs[report.RunID])
	for _, res := range report.Results {
		assert.Equal(t, e.store.LogPath(res.Spec), res.LogPath)
		assert.FileExists(t, res.LogPath)
	}
}
