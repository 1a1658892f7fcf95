// Package graph expands a request into the graph of every package that may
// take part in its build.
//
// The graph is a superset: guarded edges are kept and marked deferred, and
// virtual names become nodes listing their providers. The concretizer
// decides which parts become active.
package graph

import (
	"context"
	"slices"

	oerrors "github.com/morse-hpc/hpkg/internal/errors"
	"github.com/morse-hpc/hpkg/internal/recipe"
	"github.com/morse-hpc/hpkg/internal/variant"
)

// Registry is the read-only view of the recipes Expand needs.
type Registry interface {
	Definition(name string) (*recipe.Definition, bool)
	Providers(virtual string) []string
	IsVirtual(name string) bool
	Known(name string) bool
}

// Node is a package or a virtual name.
type Node struct {
	Name string

	// Def is nil for virtual nodes.
	Def *recipe.Definition

	Virtual bool

	// Providers of a virtual node, in preference order.
	Providers []string

	// Edges of a package node, in declaration order.
	Edges []Edge

	seq int
}

// Edge is a declared dependency of From.
type Edge struct {
	recipe.Edge
	From string

	// Deferred edges have a guard that is decided during concretization.
	Deferred bool

	// ToVirtual reports whether the target is a virtual node.
	ToVirtual bool
}

// Unresolved is the expanded graph.
type Unresolved struct {
	Root    string
	Request Request

	nodes map[string]*Node
	seq   []*Node
}

// Node returns the node called name.
func (u *Unresolved) Node(name string) (*Node, bool) {
	n, ok := u.nodes[name]
	return n, ok
}

// Nodes returns the nodes in discovery order.
func (u *Unresolved) Nodes() []*Node {
	return slices.Clone(u.seq)
}

// Len returns the number of nodes.
func (u *Unresolved) Len() int {
	return len(u.seq)
}

func (u *Unresolved) add(n *Node) {
	n.seq = len(u.seq)
	u.nodes[n.Name] = n
	u.seq = append(u.seq, n)
}

// targets returns the distinct successors of n: edge targets for packages,
// providers for virtuals.
func (u *Unresolved) targets(n *Node) []string {
	if n.Virtual {
		return n.Providers
	}
	var out []string
	for _, e := range n.Edges {
		if !slices.Contains(out, e.Target) {
			out = append(out, e.Target)
		}
	}
	return out
}

// Expand builds the unresolved graph of req.
//
// Errors are checked in this order: unknown root package, undeclared root
// variants, out-of-domain values, unknown ^dep names, unknown edge targets,
// cycles over mandatory edges.
func Expand(ctx context.Context, reg Registry, req Request) (*Unresolved, error) {
	root := req.Spec.Name
	def, ok := reg.Definition(root)
	if !ok {
		return nil, &oerrors.UnknownPackageError{Name: root}
	}
	if err := checkVariants(def, req.Spec.Variants); err != nil {
		return nil, err
	}
	for _, d := range req.Spec.Deps {
		if !reg.Known(d.Name) {
			return nil, &oerrors.UnknownPackageError{Name: d.Name, RequiredBy: root}
		}
		if ddef, ok := reg.Definition(d.Name); ok {
			if err := checkVariants(ddef, d.Variants); err != nil {
				return nil, err
			}
		}
	}

	u := &Unresolved{Root: root, Request: req, nodes: map[string]*Node{}}
	u.add(&Node{Name: root, Def: def})

	queue := []*Node{u.nodes[root]}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := queue[0]
		queue = queue[1:]

		if n.Virtual {
			for _, p := range n.Providers {
				if _, seen := u.nodes[p]; seen {
					continue
				}
				pdef, _ := reg.Definition(p)
				pn := &Node{Name: p, Def: pdef}
				u.add(pn)
				queue = append(queue, pn)
			}
			continue
		}

		for _, e := range n.Def.Edges {
			if !reg.Known(e.Target) {
				return nil, &oerrors.UnknownPackageError{Name: e.Target, RequiredBy: n.Name}
			}
			virtual := reg.IsVirtual(e.Target)
			n.Edges = append(n.Edges, Edge{Edge: e, From: n.Name, Deferred: e.Guarded(), ToVirtual: virtual})
			if _, seen := u.nodes[e.Target]; seen {
				continue
			}
			var tn *Node
			if virtual {
				tn = &Node{
					Name:      e.Target,
					Virtual:   true,
					Providers: ProviderOrder(reg.Providers(e.Target), req.Providers[e.Target]),
				}
			} else {
				tdef, _ := reg.Definition(e.Target)
				tn = &Node{Name: e.Target, Def: tdef}
			}
			u.add(tn)
			queue = append(queue, tn)
		}
	}

	if cycle := u.mandatoryCycle(); cycle != nil {
		return nil, &oerrors.CyclicDependencyError{Cycle: cycle}
	}
	return u, nil
}

// checkVariants reports undeclared names before out-of-domain values.
func checkVariants(def *recipe.Definition, assignments []variant.Assignment) error {
	for _, a := range assignments {
		if _, ok := def.Variant(a.Name); !ok {
			return &oerrors.UnknownVariantError{PackageName: def.Name, Variant: a.Name, Known: def.VariantNames()}
		}
	}
	for _, a := range assignments {
		vd, _ := def.Variant(a.Name)
		if err := vd.Validate(a.Value); err != nil {
			return &oerrors.InvalidConfigurationError{PackageName: def.Name, Reason: err.Error()}
		}
	}
	return nil
}

// ProviderOrder puts the preferred providers first, keeping only those
// actually registered.
func ProviderOrder(registered, preferred []string) []string {
	out := make([]string, 0, len(registered))
	for _, p := range preferred {
		if slices.Contains(registered, p) && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	for _, p := range registered {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
