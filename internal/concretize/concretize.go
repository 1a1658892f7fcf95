// Package concretize turns an unresolved graph into a BuildGraph: one spec
// per package, every version, variant, compiler and provider decided.
//
// Concretization runs two passes over the graph. The decision pass walks
// dependents before dependencies and fixes each node's own attributes from
// the constraints its dependents placed on it; the guards of the node's
// edges are then evaluated to find which dependencies become active. The
// bind pass walks dependencies first, binds children, checks the rules
// that read dependency state, picks the build strategy and creates the
// immutable specs. There is no backtracking.
package concretize

import (
	"context"
	"fmt"
	"slices"

	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/graph"
	"github.com/morse-hpc/hpkg/internal/output"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/spec"
)

// Registry is the read-only view of the recipes the concretizer needs.
type Registry interface {
	graph.Registry
	Get(name string) (recipe.Recipe, bool)
}

// Options tune concretization.
type Options struct {
	// DefaultCompiler is used when neither the request nor a dependent
	// fixes the compiler.
	DefaultCompiler spec.Compiler

	// Compilers are the known toolchains. A requested family resolves to
	// its highest known version satisfying the request.
	Compilers []spec.Compiler

	// Prefix assigns the install prefix of each spec.
	Prefix func(s *spec.Spec) string
}

// Concretizer resolves unresolved graphs against a registry.
type Concretizer struct {
	reg  Registry
	opts Options
}

// New creates a Concretizer.
func New(reg Registry, opts Options) *Concretizer {
	return &Concretizer{reg: reg, opts: opts}
}

// BuildGraph is a concretized request.
type BuildGraph struct {
	// Root is the requested spec.
	Root *spec.Spec

	// Specs holds every spec once, dependencies first.
	Specs []*spec.Spec

	strategies map[string]recipe.Strategy
}

// Strategy returns the strategy chosen for s.
func (g *BuildGraph) Strategy(s *spec.Spec) (recipe.Strategy, bool) {
	st, ok := g.strategies[s.Hash()]
	return st, ok
}

// Lookup finds the spec of a package.
func (g *BuildGraph) Lookup(name string) (*spec.Spec, bool) {
	for _, s := range g.Specs {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Len returns the number of specs.
func (g *BuildGraph) Len() int {
	return len(g.Specs)
}

// Names returns the package names in build order.
func (g *BuildGraph) Names() []string {
	out := make([]string, len(g.Specs))
	for i, s := range g.Specs {
		out[i] = s.Name()
	}
	return out
}

// Concretize resolves u.
func (c *Concretizer) Concretize(ctx context.Context, u *graph.Unresolved) (*BuildGraph, error) {
	r, err := c.newRun(u)
	if err != nil {
		return nil, err
	}
	if err := r.preflight(); err != nil {
		return nil, err
	}
	if err := r.decide(ctx); err != nil {
		return nil, err
	}
	if cycle := r.activeCycle(); cycle != nil {
		return nil, &oerrors.CyclicDependencyError{Cycle: cycle}
	}
	if err := r.checkLate(); err != nil {
		return nil, err
	}
	if err := r.checkRequested(); err != nil {
		return nil, err
	}
	g, err := r.bind(ctx)
	if err != nil {
		return nil, err
	}
	output.Debug("concretized", "root", g.Root.Short(), "specs", g.Len())
	return g, nil
}

// run is the state of one Concretize call.
type run struct {
	c     *Concretizer
	u     *graph.Unresolved
	root  *node
	nodes map[string]*node
	order []*node
	late  []lateEdge

	// requested are the package and virtual names the user constrained
	// with ^name.
	requested []string
}

func (c *Concretizer) newRun(u *graph.Unresolved) (*run, error) {
	r := &run{c: c, u: u, nodes: map[string]*node{}}
	for _, gn := range u.Nodes() {
		n := &node{name: gn.Name, gn: gn, virtual: gn.Virtual, def: gn.Def, variants: map[string]variantReq{}}
		if !gn.Virtual {
			rc, ok := c.reg.Get(gn.Name)
			if !ok {
				return nil, &oerrors.UnknownPackageError{Name: gn.Name}
			}
			n.rc = rc
		}
		r.nodes[gn.Name] = n
	}
	for _, name := range u.Order() {
		r.order = append(r.order, r.nodes[name])
	}

	r.root = r.nodes[u.Root]
	r.root.active = true
	r.addRequirement(r.root, u.Request.Spec, sourceRequest)
	for _, d := range u.Request.Spec.Deps {
		r.requested = append(r.requested, d.Name)
		if n, ok := r.nodes[d.Name]; ok {
			r.addRequirement(n, d, sourceRequest)
		}
	}
	return r, nil
}

// preflight checks the root's requested variants, completed with defaults,
// against the root's invalid rules before anything else is decided. Rules
// that read more than variants wait for the decision pass.
func (r *run) preflight() error {
	n := r.root
	subj := &nodeSubject{n: n, vars: n.tentativeVariants(), ancestors: map[string]bool{}}
	for _, rule := range n.def.Invalid {
		if rule.When.Refs()&^(variantRefs) != 0 {
			continue
		}
		if rule.When.Eval(subj) {
			return invalidRule(n, rule)
		}
	}
	return nil
}

// checkRequested fails when a ^name constraint targets a package that never
// became part of the build.
func (r *run) checkRequested() error {
	var conflicts []oerrors.Conflict
	for _, d := range r.u.Request.Spec.Deps {
		n, ok := r.nodes[d.Name]
		if ok && n.active {
			continue
		}
		conflicts = append(conflicts, oerrors.Conflict{
			Package:    d.Name,
			Constraint: "^" + d.String(),
			Source:     sourceRequest,
			Reason:     fmt.Sprintf("%s does not depend on %s in this configuration", r.root.name, d.Name),
		})
	}
	if len(conflicts) > 0 {
		return &oerrors.UnsatisfiableError{Root: r.root.name, Conflicts: conflicts}
	}
	return nil
}

func (r *run) unsatisfiable(conflicts ...oerrors.Conflict) error {
	return &oerrors.UnsatisfiableError{Root: r.root.name, Conflicts: slices.Clone(conflicts)}
}

func invalidRule(n *node, rule recipe.Rule) error {
	reason := rule.Message
	if reason == "" {
		reason = "configuration matches invalid rule " + rule.When.String()
	}
	return &oerrors.InvalidConfigurationError{PackageName: n.name, Reason: reason}
}
