package concretize

import (
	"context"
	"errors"
	"slices"

	"github.com/morse-hpc/hpkg/internal/constraint"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/output"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/spec"
)

// children returns the packages n links against, in edge declaration order,
// with virtuals replaced by their providers.
func (r *run) children(n *node) []*node {
	var out []*node
	for _, e := range n.edges {
		t := r.nodes[e.Target]
		if t.virtual {
			t = t.provider
		}
		if t == nil || t == n || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// activeCycle returns a cycle among the active packages, first and last
// name equal, or nil.
func (r *run) activeCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := map[*node]int{}
	var stack []*node
	var cycle []string

	var visit func(n *node) bool
	visit = func(n *node) bool {
		color[n] = gray
		stack = append(stack, n)
		for _, c := range r.children(n) {
			switch color[c] {
			case gray:
				for _, s := range stack[slices.Index(stack, c):] {
					cycle = append(cycle, s.name)
				}
				cycle = append(cycle, c.name)
				return true
			case white:
				if visit(c) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}
	visit(r.root)
	return cycle
}

// checkLate verifies edges whose target was decided before the consumer.
func (r *run) checkLate() error {
	var conflicts []oerrors.Conflict
	for _, le := range r.late {
		if le.to == le.from {
			continue
		}
		if le.edge.Require.Attributes().Eval(le.to.subject()) {
			continue
		}
		req := le.edge.Require
		req.Name = le.to.name
		conflicts = append(conflicts, oerrors.Conflict{
			Package:    le.to.name,
			Constraint: req.String(),
			Source:     le.from.name,
			Reason:     "conflicts with the configuration already chosen for " + le.to.name,
		})
	}
	if len(conflicts) > 0 {
		return r.unsatisfiable(conflicts...)
	}
	return nil
}

// postorder lists the active packages reachable from the root,
// dependencies first.
func (r *run) postorder() []*node {
	seen := map[*node]bool{}
	var out []*node
	var walk func(n *node)
	walk = func(n *node) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, c := range r.children(n) {
			walk(c)
		}
		out = append(out, n)
	}
	walk(r.root)
	return out
}

func (r *run) ancestorSets(post []*node) map[*node][]string {
	out := make(map[*node][]string, len(post))
	for _, a := range post {
		seen := map[*node]bool{}
		var walk func(n *node)
		walk = func(n *node) {
			for _, c := range r.children(n) {
				if seen[c] {
					continue
				}
				seen[c] = true
				out[c] = append(out[c], a.name)
				walk(c)
			}
		}
		walk(a)
	}
	return out
}

// bind creates the specs, dependencies first.
func (r *run) bind(ctx context.Context) (*BuildGraph, error) {
	post := r.postorder()
	ancestors := r.ancestorSets(post)

	g := &BuildGraph{strategies: make(map[string]recipe.Strategy, len(post))}
	for _, n := range post {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.bindNode(n, ancestors[n]); err != nil {
			return nil, err
		}
		g.Specs = append(g.Specs, n.spec)
		g.strategies[n.spec.Hash()] = n.strategy
	}
	g.Root = r.root.spec
	return g, nil
}

func (r *run) bindNode(n *node, ancestors []string) error {
	var deps []*spec.Spec
	for _, c := range r.children(n) {
		deps = append(deps, c.spec)
	}
	params := spec.Params{
		Name:      n.name,
		Version:   n.decl.Version,
		Variants:  n.vars,
		Compiler:  n.compiler,
		Deps:      deps,
		Provides:  n.def.ProvidesFor(n.subject()),
		Ancestors: ancestors,
	}
	if n.decl.Fetch.Kind == recipe.FetchExternal {
		params.External = n.decl.Fetch.Env
	}
	pre := spec.New(params)

	for _, rule := range n.def.Invalid {
		if rule.When.Refs()&constraint.RefDependency != 0 && rule.When.Eval(pre) {
			return invalidRule(n, rule)
		}
	}
	for _, req := range n.def.Requires {
		if req.When != nil && !req.When.Eval(pre) {
			continue
		}
		if req.Require.Eval(pre) {
			continue
		}
		reason := req.Message
		if reason == "" && req.When != nil {
			reason = "required when " + req.When.String()
		}
		return r.unsatisfiable(oerrors.Conflict{
			Package:    n.name,
			Constraint: req.Require.String(),
			Source:     n.name,
			Reason:     reason,
		})
	}

	st, err := n.rc.Strategy(pre)
	if err != nil {
		var pe oerrors.PackageError
		if !errors.As(err, &pe) {
			err = &oerrors.InvalidConfigurationError{PackageName: n.name, Reason: err.Error()}
		}
		return err
	}

	params.Strategy = st.Name()
	params.Serialize = n.def.Serialize || recipe.Serialized(st)
	params.Prefix = r.c.opts.Prefix
	params.Capabilities = func(prefix string) map[string]string {
		return n.def.Capabilities(pre, prefix)
	}
	n.spec = spec.New(params)
	n.strategy = st
	output.Debug("bound", "spec", n.spec.Short(), "strategy", st.Name(), "deps", len(deps))
	return nil
}
