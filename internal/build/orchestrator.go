// Package build executes a concretized BuildGraph: dependencies strictly
// before dependents, already installed specs skipped, independent subtrees
// built concurrently, and failures confined to the failing spec's
// dependents.
package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/morse-hpc/hpkg/internal/concretize"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/output"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/spec"
	"github.com/morse-hpc/hpkg/internal/store"
)

// Store is the install tree the orchestrator writes to.
type Store interface {
	Installed(sp *spec.Spec) bool
	Install(ctx context.Context, sp *spec.Spec, fn func(ctx context.Context, l store.Layout) error) (bool, error)
	LogPath(sp *spec.Spec) string
}

// Index records successful installs.
type Index interface {
	Record(ctx context.Context, sp *spec.Spec, runID string) error
}

// Options configure an Orchestrator.
type Options struct {
	// Workers is the number of specs built at once. Defaults to 1.
	Workers int

	// Jobs is the build parallelism handed to hooks. Defaults to 1.
	Jobs int

	// Timeout bounds each spec's hooks. Zero means no limit.
	Timeout time.Duration

	// StageRoot holds the unpacked sources, one directory per spec named
	// like its install directory.
	StageRoot string

	// Runner creates the command runner of a spec from its build log.
	Runner func(log io.Writer) recipe.Runner

	// Getenv looks up the build environment. Nil means the process
	// environment.
	Getenv func(key string) (string, bool)

	// Index is optional.
	Index Index

	// Progress is called from the dispatcher as each spec finishes.
	Progress func(Result)
}

// Orchestrator runs build graphs against a store.
type Orchestrator struct {
	store Store
	opts  Options
}

// New creates an Orchestrator.
func New(st Store, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if opts.Runner == nil {
		opts.Runner = func(w io.Writer) recipe.Runner { return recipe.ExecRunner{Out: w} }
	}
	return &Orchestrator{store: st, opts: opts}
}

// Action is what a build would do with a spec.
type Action string

const (
	ActionInstall Action = "install"
	ActionSkip    Action = "skip"
)

// Step is one entry of a plan.
type Step struct {
	Spec     *spec.Spec
	Action   Action
	Strategy string
}

// Plan returns the build order with install or skip decisions, without
// running any hook.
func (o *Orchestrator) Plan(g *concretize.BuildGraph) []Step {
	steps := make([]Step, len(g.Specs))
	for i, sp := range g.Specs {
		steps[i] = Step{Spec: sp, Action: ActionInstall, Strategy: sp.Strategy()}
		if o.store.Installed(sp) {
			steps[i].Action = ActionSkip
		}
	}
	return steps
}

// task is the dispatcher's view of one spec.
type task struct {
	idx        int
	spec       *spec.Spec
	strategy   recipe.Strategy
	pending    int
	started    bool
	dependents []*task
	result     *Result
}

// Build installs every spec of g. It returns an error only when the graph
// itself is unusable; build failures are reported per spec in the Report.
func (o *Orchestrator) Build(ctx context.Context, g *concretize.BuildGraph) (*Report, error) {
	report := newReport(g.Root)
	tasks, err := o.tasks(g)
	if err != nil {
		return nil, err
	}
	log := output.With("run", report.RunID[:8])
	log.Debug("starting build", "specs", len(tasks), "workers", o.opts.Workers, "root", g.Root.Short())

	sem := semaphore.NewWeighted(int64(o.opts.Workers))
	results := make(chan *Result)

	var ready []*task
	for _, t := range tasks {
		if t.pending == 0 {
			ready = append(ready, t)
		}
	}

	finish := func(t *task, r Result) {
		t.result = &r
		if o.opts.Progress != nil {
			o.opts.Progress(r)
		}
	}

	running, finished := 0, 0
	byHash := make(map[string]*task, len(tasks))
	for _, t := range tasks {
		byHash[t.spec.Hash()] = t
	}

	for finished < len(tasks) {
		if err := ctx.Err(); err != nil {
			for _, t := range tasks {
				if t.result == nil && !t.started {
					finish(t, Result{Spec: t.spec, Status: StatusFailed, Err: fmt.Errorf("not started: %w", err)})
					finished++
				}
			}
			ready = nil
		}

		for len(ready) > 0 && running < o.opts.Workers {
			t := ready[0]
			ready = ready[1:]
			t.started = true
			running++
			go func(t *task) {
				r := o.run(ctx, sem, t, report.RunID)
				results <- &r
			}(t)
		}

		if running == 0 {
			// Nothing runs and nothing is ready, yet specs remain: the graph
			// had a dependency outside of it.
			for _, t := range tasks {
				if t.result == nil {
					finish(t, Result{Spec: t.spec, Status: StatusFailed, Err: fmt.Errorf("dependencies of %s never completed", t.spec.Short())})
					finished++
				}
			}
			break
		}

		r := <-results
		running--
		t := byHash[r.Spec.Hash()]
		finish(t, *r)
		finished++

		switch r.Status {
		case StatusInstalled, StatusSkipped:
			for _, d := range t.dependents {
				d.pending--
				if d.pending == 0 && d.result == nil {
					ready = insertByIndex(ready, d)
				}
			}
		default:
			log.Error("build failed", "spec", t.spec.Short(), "hook", r.Hook, "err", r.Err)
			finished += o.failDependents(t, finish)
		}
	}

	report.Duration = time.Since(report.Started)
	for _, t := range tasks {
		report.Results = append(report.Results, *t.result)
	}
	counts := report.Counts()
	log.Debug("build finished", "installed", counts[StatusInstalled], "skipped", counts[StatusSkipped],
		"failed", counts[StatusFailed], "prerequisite-failed", counts[StatusPrereqFailed], "duration", report.Duration)
	return report, nil
}

// failDependents marks every transitive dependent of t that has no result
// yet as prerequisite-failed and returns how many it marked.
func (o *Orchestrator) failDependents(t *task, finish func(*task, Result)) int {
	n := 0
	for _, d := range t.dependents {
		if d.result != nil {
			continue
		}
		output.Warn("skipping dependent after failure", "spec", d.spec.Short(), "prerequisite", t.spec.Short())
		finish(d, Result{
			Spec:         d.spec,
			Status:       StatusPrereqFailed,
			Prerequisite: t.spec.Short(),
			Err:          fmt.Errorf("prerequisite %s failed", t.spec.Short()),
		})
		n++
		n += o.failDependents(d, finish)
	}
	return n
}

func (o *Orchestrator) tasks(g *concretize.BuildGraph) ([]*task, error) {
	tasks := make([]*task, len(g.Specs))
	byHash := make(map[string]*task, len(g.Specs))
	for i, sp := range g.Specs {
		st, ok := g.Strategy(sp)
		if !ok {
			return nil, fmt.Errorf("no strategy chosen for %s", sp.Short())
		}
		tasks[i] = &task{idx: i, spec: sp, strategy: st}
		byHash[sp.Hash()] = tasks[i]
	}
	for _, t := range tasks {
		seen := map[*task]bool{}
		for _, d := range t.spec.Deps() {
			dt, ok := byHash[d.Hash()]
			if !ok {
				return nil, fmt.Errorf("dependency %s of %s is not in the build graph", d.Short(), t.spec.Short())
			}
			if dt.idx >= t.idx {
				return nil, fmt.Errorf("dependency %s of %s is ordered after it", d.Short(), t.spec.Short())
			}
			if seen[dt] {
				continue
			}
			seen[dt] = true
			t.pending++
			dt.dependents = append(dt.dependents, t)
		}
	}
	return tasks, nil
}

func insertByIndex(ready []*task, t *task) []*task {
	i, _ := slices.BinarySearchFunc(ready, t, func(a, b *task) int { return a.idx - b.idx })
	return slices.Insert(ready, i, t)
}

// run builds one spec. Serialized specs take every semaphore slot, so no
// other hook runs alongside them.
func (o *Orchestrator) run(ctx context.Context, sem *semaphore.Weighted, t *task, runID string) Result {
	sp := t.spec
	start := time.Now()
	res := Result{Spec: sp, LogPath: o.store.LogPath(sp)}

	if o.store.Installed(sp) {
		res.Status = StatusSkipped
		res.Duration = time.Since(start)
		return res
	}

	weight := int64(1)
	jobs := o.opts.Jobs
	if sp.Serialize() {
		weight = int64(o.opts.Workers)
		jobs = 1
	}
	if err := sem.Acquire(ctx, weight); err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("not started: %w", err)
		return res
	}
	defer sem.Release(weight)

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	logger := output.SpecLogger(sp.Short())
	logger.Info("building", "strategy", t.strategy.Name(), "jobs", jobs)

	var hook string
	done, err := o.store.Install(ctx, sp, func(ctx context.Context, l store.Layout) error {
		logFile, err := os.Create(filepath.Join(l.Logs, "build.log"))
		if err != nil {
			return err
		}
		defer logFile.Close()

		h := &recipe.HookContext{
			Spec:   sp,
			Prefix: l.Prefix,
			Stage:  filepath.Join(o.opts.StageRoot, store.DirName(sp)),
			Jobs:   jobs,
			Logger: logger,
			Runner: o.opts.Runner(logFile),
			Getenv: o.opts.Getenv,
		}
		for _, step := range hooks(t.strategy) {
			hook = step.name
			logger.Debug("running hook", "hook", step.name)
			if err := step.fn(ctx, h); err != nil {
				return err
			}
		}
		hook = ""
		return nil
	})
	res.Duration = time.Since(start)

	switch {
	case err != nil && hook != "":
		res.Status = StatusFailed
		res.Hook = hook
		res.Err = &oerrors.HookFailureError{Spec: sp.Short(), PackageName: sp.Name(), Hook: hook, Cause: err}
		logger.Error("hook failed", "hook", hook, "err", err, "log", res.LogPath)
	case err != nil:
		res.Status = StatusFailed
		res.Err = fmt.Errorf("installing %s: %w", sp.Short(), err)
		logger.Error("install failed", "err", err)
	case !done:
		res.Status = StatusSkipped
	default:
		res.Status = StatusInstalled
		logger.Info("installed", "prefix", sp.Prefix(), "duration", res.Duration.Round(time.Millisecond))
		if o.opts.Index != nil {
			if err := o.opts.Index.Record(ctx, sp, runID); err != nil {
				logger.Warn("recording install failed", "err", err)
			}
		}
	}
	return res
}

type hookStep struct {
	name string
	fn   func(ctx context.Context, h *recipe.HookContext) error
}

// hooks lists the hooks a strategy implements, in execution order.
func hooks(st recipe.Strategy) []hookStep {
	var out []hookStep
	if p, ok := st.(recipe.Patcher); ok {
		out = append(out, hookStep{recipe.HookPatch, p.Patch})
	}
	if c, ok := st.(recipe.Configurer); ok {
		out = append(out, hookStep{recipe.HookSetup, c.Setup})
	}
	return append(out, hookStep{recipe.HookInstall, st.Install})
}
