package graph

import "slices"

// Order returns the node names with every dependent before its
// dependencies, over all potential edges. Ties are broken by discovery
// order.
//
// Guarded edges may close cycles. When every remaining node still waits
// for a dependent, the earliest discovered node whose pending dependents
// reach it only through guarded or provider edges is released first; the
// concretizer rejects the cycle if it becomes active.
func (u *Unresolved) Order() []string {
	type link struct {
		from string
		soft bool
	}
	incoming := make(map[string][]link, len(u.seq))
	for _, n := range u.seq {
		if n.Virtual {
			for _, p := range n.Providers {
				incoming[p] = append(incoming[p], link{from: n.Name, soft: true})
			}
			continue
		}
		soft := map[string]bool{}
		var targets []string
		for _, e := range n.Edges {
			s, seen := soft[e.Target]
			if !seen {
				targets = append(targets, e.Target)
				s = true
			}
			soft[e.Target] = s && (e.Deferred || e.ToVirtual)
		}
		for _, t := range targets {
			incoming[t] = append(incoming[t], link{from: n.Name, soft: soft[t]})
		}
	}

	done := make(map[string]bool, len(u.seq))
	// waiting reports whether n has dependents left, and whether all of
	// them are soft.
	waiting := func(n *Node) (bool, bool) {
		pending, allSoft := false, true
		for _, l := range incoming[n.Name] {
			if done[l.from] {
				continue
			}
			pending = true
			allSoft = allSoft && l.soft
		}
		return pending, allSoft
	}

	out := make([]string, 0, len(u.seq))
	for len(out) < len(u.seq) {
		var next, soft, first *Node
		for _, n := range u.seq {
			if done[n.Name] {
				continue
			}
			if first == nil {
				first = n
			}
			w, allSoft := waiting(n)
			if !w {
				next = n
				break
			}
			if allSoft && soft == nil {
				soft = n
			}
		}
		switch {
		case next != nil:
		case soft != nil:
			next = soft
		default:
			next = first
		}
		done[next.Name] = true
		out = append(out, next.Name)
	}
	return out
}

// mandatoryCycle finds a cycle over unguarded edges between packages and
// returns its path, first node repeated at the end.
func (u *Unresolved) mandatoryCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(u.seq))
	var stack []string

	var visit func(n *Node) []string
	visit = func(n *Node) []string {
		color[n.Name] = gray
		stack = append(stack, n.Name)
		for _, e := range n.Edges {
			if e.Deferred || e.ToVirtual {
				continue
			}
			switch color[e.Target] {
			case gray:
				i := slices.Index(stack, e.Target)
				return append(slices.Clone(stack[i:]), e.Target)
			case white:
				if c := visit(u.nodes[e.Target]); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n.Name] = black
		return nil
	}

	for _, n := range u.seq {
		if n.Virtual || color[n.Name] != white {
			continue
		}
		if c := visit(n); c != nil {
			return c
		}
	}
	return nil
}
