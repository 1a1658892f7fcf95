package concretize

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/morse-hpc/hpkg/internal/constraint"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/output"
	"github.com/morse-hpc/hpkg/internal/semver"
	"github.com/morse-hpc/hpkg/internal/spec"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// decide fixes the attributes of every active node, dependents first. A
// node activated after its turn (possible only past a released guarded
// cycle) is picked up by another sweep.
//
// A virtual node waits while an undecided package may still pull in one of
// its providers, so the virtual shares that provider. When only waiting
// virtuals are left, the first one in order is decided.
func (r *run) decide(ctx context.Context) error {
	for {
		progress := false
		var waiting *node
		for _, n := range r.order {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !n.active || n.decided {
				continue
			}
			if n.virtual && r.providerPending(n) {
				if waiting == nil {
					waiting = n
				}
				continue
			}
			if err := r.decideNode(n); err != nil {
				return err
			}
			progress = true
		}
		switch {
		case progress:
		case waiting != nil:
			if err := r.decideNode(waiting); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (r *run) decideNode(n *node) error {
	if n.virtual {
		return r.decideVirtual(n)
	}
	return r.decidePackage(n)
}

// providerPending reports whether an active, undecided package reaches a
// provider of v over edges between packages. Guards are not evaluated: an
// edge that stays off only delays the decision.
func (r *run) providerPending(v *node) bool {
	providers := map[string]bool{}
	for _, p := range v.gn.Providers {
		if r.nodes[p].active {
			return false
		}
		providers[p] = true
	}

	seen := map[string]bool{}
	var reaches func(n *node) bool
	reaches = func(n *node) bool {
		if seen[n.name] {
			return false
		}
		seen[n.name] = true
		for _, e := range n.gn.Edges {
			if e.ToVirtual {
				continue
			}
			if providers[e.Target] || reaches(r.nodes[e.Target]) {
				return true
			}
		}
		return false
	}
	for _, n := range r.order {
		if n.active && !n.decided && !n.virtual && reaches(n) {
			return true
		}
	}
	return false
}

func (r *run) decidePackage(n *node) error {
	if len(n.conflicts) > 0 {
		return r.unsatisfiable(n.conflicts...)
	}

	decl, ok := pickVersion(candidates(n.def, n.versions))
	if !ok {
		return r.unsatisfiable(r.versionConflicts(n)...)
	}
	n.decl = decl
	n.vars = n.tentativeVariants()

	c, err := r.pickCompiler(n)
	if err != nil {
		return err
	}
	n.compiler = c

	subj := n.subject()
	for _, rule := range n.def.Invalid {
		if rule.When.Refs()&constraint.RefDependency != 0 {
			continue
		}
		if rule.When.Eval(subj) {
			return invalidRule(n, rule)
		}
	}
	n.decided = true
	output.Debug("decided", "package", n.name, "version", decl.Version.String(),
		"variants", n.vars.String(), "compiler", c.String())

	for _, e := range n.gn.Edges {
		if e.When != nil && !e.When.Eval(subj) {
			continue
		}
		ae := activeEdge{Edge: e, src: n.name}
		n.edges = append(n.edges, ae)
		r.connect(n, r.nodes[e.Target], ae)
	}
	return nil
}

// connect passes the requirement of an active edge to its target.
func (r *run) connect(from, to *node, e activeEdge) {
	if to.virtual && to.decided {
		to = to.provider
	}
	r.activate(to, from)
	if to.decided {
		r.late = append(r.late, lateEdge{from: from, to: to, edge: e})
		return
	}
	r.addRequirement(to, e.Require, e.src)
}

func (r *run) versionConflicts(n *node) []oerrors.Conflict {
	declared := make([]string, len(n.def.Versions))
	for i, d := range n.def.Versions {
		declared[i] = d.Version.String()
	}
	reason := "no declared version satisfies every range (declared: " + strings.Join(declared, ", ") + ")"
	out := make([]oerrors.Conflict, len(n.versions))
	for i, vr := range n.versions {
		out[i] = oerrors.Conflict{Package: n.name, Constraint: "@" + vr.r.String(), Source: vr.src, Reason: reason}
	}
	return out
}

// pickCompiler resolves the compiler of n: a requested family (the
// inherited or default toolchain when it matches, else the highest known
// version, else a pinned version), else the compiler of the activating
// dependent, else the default.
func (r *run) pickCompiler(n *node) (spec.Compiler, error) {
	if len(n.compilers) == 0 {
		if n.inherited != nil {
			return *n.inherited, nil
		}
		return r.c.opts.DefaultCompiler, nil
	}

	name := n.compilers[0].name
	fits := func(c spec.Compiler) bool {
		if c.Name != name {
			return false
		}
		for _, cr := range n.compilers {
			if !cr.r.IsZero() && (c.Version.IsZero() || !cr.r.Contains(c.Version)) {
				return false
			}
		}
		return true
	}

	if n.inherited != nil && fits(*n.inherited) {
		return *n.inherited, nil
	}
	if fits(r.c.opts.DefaultCompiler) {
		return r.c.opts.DefaultCompiler, nil
	}
	var known []semver.Version
	for _, c := range r.c.opts.Compilers {
		if fits(c) {
			known = append(known, c.Version)
		}
	}
	if i := semver.Highest(known); i >= 0 {
		return spec.Compiler{Name: name, Version: known[i]}, nil
	}
	for _, cr := range n.compilers {
		if v, ok := cr.r.Pinned(); ok {
			if c := (spec.Compiler{Name: name, Version: v}); fits(c) {
				return c, nil
			}
		}
	}
	if fits(spec.Compiler{Name: name}) {
		return spec.Compiler{Name: name}, nil
	}

	conflicts := make([]oerrors.Conflict, 0, len(n.compilers))
	for _, cr := range n.compilers {
		if cr.r.IsZero() {
			continue
		}
		conflicts = append(conflicts, oerrors.Conflict{
			Package:    n.name,
			Constraint: constraint.CompilerIs{Name: cr.name, Range: cr.r}.String(),
			Source:     cr.src,
			Reason:     "no known compiler version satisfies every range",
		})
	}
	return spec.Compiler{}, r.unsatisfiable(conflicts...)
}

// decideVirtual chooses the provider of a virtual node: the provider the
// user named with ^name, else one already in the build, else the first in
// preference order, among those that can satisfy the virtual's
// requirements.
func (r *run) decideVirtual(v *node) error {
	if len(v.conflicts) > 0 {
		return r.unsatisfiable(v.conflicts...)
	}

	var qualified []*node
	var rejected []oerrors.Conflict
	for _, name := range v.gn.Providers {
		p := r.nodes[name]
		if why := r.qualifies(v, p); why != "" {
			rejected = append(rejected, oerrors.Conflict{Package: p.name, Constraint: v.name, Reason: why})
			continue
		}
		qualified = append(qualified, p)
	}
	if len(qualified) == 0 {
		if len(rejected) == 0 {
			rejected = append(rejected, oerrors.Conflict{Package: v.name, Reason: "no registered provider"})
		}
		return r.unsatisfiable(rejected...)
	}

	choice := qualified[0]
	if i := slices.IndexFunc(qualified, func(p *node) bool { return slices.Contains(r.requested, p.name) }); i >= 0 {
		choice = qualified[i]
	} else if i := slices.IndexFunc(qualified, func(p *node) bool { return p.active }); i >= 0 {
		choice = qualified[i]
	}

	v.provider = choice
	v.decided = true
	output.Debug("provider chosen", "virtual", v.name, "provider", choice.name)

	r.activate(choice, v)
	if choice.decided {
		return nil
	}
	choice.versions = append(choice.versions, v.versions...)
	for _, cr := range v.compilers {
		r.addRequirement(choice, constraint.Abstract{Compiler: cr.name, CompilerVersions: cr.r}, cr.src)
	}
	for _, name := range v.vorder {
		req := v.variants[name]
		r.addVariant(choice, variant.Assignment{Name: name, Value: req.value}, req.src)
	}
	return nil
}

// qualifies returns why p cannot provide v under v's requirements, or ""
// when it can.
func (r *run) qualifies(v, p *node) string {
	if p.decided {
		for _, vr := range v.versions {
			if !vr.r.Contains(p.decl.Version) {
				return fmt.Sprintf("version %s does not satisfy @%s from %s", p.decl.Version, vr.r, vr.src)
			}
		}
		for _, name := range v.vorder {
			req := v.variants[name]
			if got, _ := p.vars.Get(name); got != req.value {
				return fmt.Sprintf("%s from %s does not hold", variant.Assignment{Name: name, Value: req.value}, req.src)
			}
		}
		for _, cr := range v.compilers {
			if !(constraint.CompilerIs{Name: cr.name, Range: cr.r}).Eval(p.subject()) {
				return fmt.Sprintf("built with %s, not %%%s", p.compiler, cr.name)
			}
		}
		if !p.def.CanProvide(v.name, p.subject()) {
			return "does not provide " + v.name + " as configured"
		}
		return ""
	}

	ranges := append(slices.Clone(p.versions), v.versions...)
	decl, ok := pickVersion(candidates(p.def, ranges))
	if !ok {
		parts := make([]string, len(ranges))
		for i, vr := range ranges {
			parts[i] = "@" + vr.r.String()
		}
		return "no declared version satisfies " + strings.Join(parts, " ")
	}

	vars := p.tentativeVariants()
	for _, name := range v.vorder {
		req := v.variants[name]
		vd, ok := p.def.Variant(name)
		if !ok {
			return "has no variant " + name
		}
		if err := vd.Validate(req.value); err != nil {
			return err.Error()
		}
		if prev, ok := p.variants[name]; ok && prev.value != req.value {
			return fmt.Sprintf("%s from %s conflicts with %s from %s",
				variant.Assignment{Name: name, Value: req.value}, req.src,
				variant.Assignment{Name: name, Value: prev.value}, prev.src)
		}
		vars = vars.With(name, req.value)
	}

	compiler := r.c.opts.DefaultCompiler
	if p.inherited != nil {
		compiler = *p.inherited
	} else if v.inherited != nil {
		compiler = *v.inherited
	}
	for _, cr := range v.compilers {
		for _, pc := range p.compilers {
			if pc.name != cr.name {
				return fmt.Sprintf("%%%s from %s conflicts with %%%s from %s", cr.name, cr.src, pc.name, pc.src)
			}
		}
	}
	if len(p.compilers) > 0 {
		compiler = spec.Compiler{Name: p.compilers[0].name}
	} else if len(v.compilers) > 0 {
		compiler = spec.Compiler{Name: v.compilers[0].name}
	}

	ancestors := map[string]bool{}
	for a := range p.ancestors {
		ancestors[a] = true
	}
	for a := range v.ancestors {
		ancestors[a] = true
	}
	subj := &nodeSubject{n: p, version: decl.Version, vars: vars, compiler: compiler, ancestors: ancestors}
	if !p.def.CanProvide(v.name, subj) {
		return "does not provide " + v.name + " as configured"
	}
	return ""
}
