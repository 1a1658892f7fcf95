package concretize

import (
	"fmt"

	"github.com/morse-hpc/hpkg/internal/constraint"
	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/graph"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/semver"
	"github.com/morse-hpc/hpkg/internal/spec"
	"github.com/morse-hpc/hpkg/internal/variant"
)

const sourceRequest = "request"

const variantRefs = constraint.RefName | constraint.RefVariant

type versionReq struct {
	r   semver.Range
	src string
}

type variantReq struct {
	value string
	src   string
}

type compilerReq struct {
	name string
	r    semver.Range
	src  string
}

// activeEdge is an edge whose guard held for its consumer.
type activeEdge struct {
	graph.Edge
	src string
}

// lateEdge targets a node that was decided before its consumer, which only
// happens on guarded cycles. It is checked once the whole graph is known.
type lateEdge struct {
	from *node
	to   *node
	edge activeEdge
}

// node is the mutable concretization state of one graph node.
type node struct {
	name    string
	virtual bool
	gn      *graph.Node
	def     *recipe.Definition
	rc      recipe.Recipe

	active  bool
	decided bool

	// inherited is the compiler of the first dependent that activated the
	// node.
	inherited *spec.Compiler
	ancestors map[string]bool

	versions  []versionReq
	variants  map[string]variantReq
	vorder    []string
	compilers []compilerReq
	conflicts []oerrors.Conflict

	decl     recipe.VersionDecl
	vars     variant.Set
	compiler spec.Compiler
	edges    []activeEdge

	// provider is the chosen provider of a virtual node.
	provider *node

	spec     *spec.Spec
	strategy recipe.Strategy
}

// addRequirement records what a constrains on n, noting contradictions as
// conflicts instead of failing right away so they can be reported together.
func (r *run) addRequirement(n *node, a constraint.Abstract, src string) {
	if !a.Versions.IsZero() {
		n.versions = append(n.versions, versionReq{r: a.Versions, src: src})
	}
	if a.Compiler != "" {
		for _, c := range n.compilers {
			if c.name != a.Compiler {
				n.conflicts = append(n.conflicts, oerrors.Conflict{
					Package:    n.name,
					Constraint: "%" + a.Compiler,
					Source:     src,
					Reason:     fmt.Sprintf("conflicts with %%%s from %s", c.name, c.src),
				})
				break
			}
		}
		n.compilers = append(n.compilers, compilerReq{name: a.Compiler, r: a.CompilerVersions, src: src})
	}
	for _, as := range a.Variants {
		r.addVariant(n, as, src)
	}
}

func (r *run) addVariant(n *node, as variant.Assignment, src string) {
	if n.def != nil {
		vd, ok := n.def.Variant(as.Name)
		if !ok {
			n.conflicts = append(n.conflicts, oerrors.Conflict{
				Package: n.name, Constraint: as.String(), Source: src,
				Reason: "no such variant",
			})
			return
		}
		if err := vd.Validate(as.Value); err != nil {
			n.conflicts = append(n.conflicts, oerrors.Conflict{
				Package: n.name, Constraint: as.String(), Source: src,
				Reason: err.Error(),
			})
			return
		}
	}
	if prev, ok := n.variants[as.Name]; ok {
		if prev.value != as.Value {
			n.conflicts = append(n.conflicts, oerrors.Conflict{
				Package: n.name, Constraint: as.String(), Source: src,
				Reason: fmt.Sprintf("conflicts with %s from %s", variant.Assignment{Name: as.Name, Value: prev.value}, prev.src),
			})
		}
		return
	}
	n.variants[as.Name] = variantReq{value: as.Value, src: src}
	n.vorder = append(n.vorder, as.Name)
}

// activate marks n as part of the build on behalf of dependent from.
func (r *run) activate(n, from *node) {
	if n.ancestors == nil {
		n.ancestors = map[string]bool{}
	}
	if !from.virtual {
		n.ancestors[from.name] = true
	}
	for a := range from.ancestors {
		n.ancestors[a] = true
	}
	if n.active {
		return
	}
	n.active = true
	switch {
	case from.virtual:
		n.inherited = from.inherited
	case !from.compiler.IsZero():
		c := from.compiler
		n.inherited = &c
	}
}

// tentativeVariants is the defaults overlaid with the requested values.
func (n *node) tentativeVariants() variant.Set {
	set := n.def.Defaults()
	for _, name := range n.vorder {
		set = set.With(name, n.variants[name].value)
	}
	return set
}

// candidates returns the declared versions satisfying every range.
func candidates(def *recipe.Definition, ranges []versionReq) []recipe.VersionDecl {
	var out []recipe.VersionDecl
	for _, decl := range def.Versions {
		ok := true
		for _, vr := range ranges {
			if !vr.r.Contains(decl.Version) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, decl)
		}
	}
	return out
}

// pickVersion chooses the first preferred candidate, else the highest one.
func pickVersion(cands []recipe.VersionDecl) (recipe.VersionDecl, bool) {
	if len(cands) == 0 {
		return recipe.VersionDecl{}, false
	}
	for _, c := range cands {
		if c.Preferred {
			return c, true
		}
	}
	vs := make([]semver.Version, len(cands))
	for i, c := range cands {
		vs[i] = c.Version
	}
	return cands[semver.Highest(vs)], true
}

// nodeSubject is the predicate view of a node whose own attributes are
// decided. Dependencies are not known yet.
type nodeSubject struct {
	n         *node
	version   semver.Version
	vars      variant.Set
	compiler  spec.Compiler
	ancestors map[string]bool
}

func (s *nodeSubject) PackageName() string            { return s.n.name }
func (s *nodeSubject) PackageVersion() semver.Version { return s.version }
func (s *nodeSubject) VariantValue(name string) (string, bool) {
	return s.vars.Get(name)
}
func (s *nodeSubject) CompilerID() (string, semver.Version) {
	return s.compiler.Name, s.compiler.Version
}
func (s *nodeSubject) DependencyNamed(string) (constraint.Subject, bool) { return nil, false }
func (s *nodeSubject) DependentNamed(name string) bool                   { return s.ancestors[name] }

func (n *node) subject() *nodeSubject {
	return &nodeSubject{n: n, version: n.decl.Version, vars: n.vars, compiler: n.compiler, ancestors: n.ancestors}
}
